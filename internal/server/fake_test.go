package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeHandle behaves like a console game server: it echoes nothing, records
// every stdin line and exits on "stop" when honorStop is set.
type fakeHandle struct {
	pid       int
	honorStop bool

	outR *io.PipeReader
	outW *io.PipeWriter
	inR  *io.PipeReader
	inW  *io.PipeWriter

	exit       chan int
	exitOnce   sync.Once
	killed     atomic.Bool
	ignoreKill atomic.Bool

	mu       sync.Mutex
	received []string
}

// newFakeHandle starts a handle. With stallInput nothing ever reads its
// stdin, so writes block until the pipe is closed.
func newFakeHandle(pid int, honorStop, stallInput bool) *fakeHandle {
	outR, outW := io.Pipe()
	inR, inW := io.Pipe()
	h := &fakeHandle{
		pid:       pid,
		honorStop: honorStop,
		outR:      outR,
		outW:      outW,
		inR:       inR,
		inW:       inW,
		exit:      make(chan int, 1),
	}
	if !stallInput {
		go h.readInput()
	}
	return h
}

func (h *fakeHandle) readInput() {
	scanner := bufio.NewScanner(h.inR)
	for scanner.Scan() {
		line := scanner.Text()
		h.mu.Lock()
		h.received = append(h.received, line)
		h.mu.Unlock()
		if line == "stop" && h.honorStop {
			h.emit("Stopping the server")
			h.exitWith(0)
			return
		}
	}
}

func (h *fakeHandle) emit(line string) {
	fmt.Fprintln(h.outW, line)
}

func (h *fakeHandle) exitWith(code int) {
	h.exitOnce.Do(func() {
		h.outW.Close()
		h.inR.Close()
		h.exit <- code
	})
}

func (h *fakeHandle) Received() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.received))
	copy(out, h.received)
	return out
}

func (h *fakeHandle) PID() int              { return h.pid }
func (h *fakeHandle) Output() io.Reader     { return h.outR }
func (h *fakeHandle) Input() io.WriteCloser { return h.inW }

func (h *fakeHandle) Wait() (int, error) {
	return <-h.exit, nil
}

func (h *fakeHandle) Kill() error {
	h.killed.Store(true)
	if h.ignoreKill.Load() {
		return nil
	}
	h.exitWith(137)
	return nil
}

type fakeLauncher struct {
	honorStop  bool
	stallInput bool
	err        error
	nextPID    atomic.Int32
	launched   chan *fakeHandle
	specs      chan LaunchSpec
}

func newFakeLauncher(honorStop bool) *fakeLauncher {
	l := &fakeLauncher{
		honorStop: honorStop,
		launched:  make(chan *fakeHandle, 8),
		specs:     make(chan LaunchSpec, 8),
	}
	l.nextPID.Store(4000)
	return l
}

func (l *fakeLauncher) Launch(spec LaunchSpec) (ProcessHandle, error) {
	l.specs <- spec
	if l.err != nil {
		return nil, &LaunchError{Command: "fake", Err: l.err}
	}
	h := newFakeHandle(int(l.nextPID.Add(1)), l.honorStop, l.stallInput)
	l.launched <- h
	return h, nil
}

func (l *fakeLauncher) next(t *testing.T) *fakeHandle {
	t.Helper()
	select {
	case h := <-l.launched:
		return h
	case <-time.After(2 * time.Second):
		t.Fatalf("process was not launched")
		return nil
	}
}

var errNoBinary = errors.New("no such file or directory")

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
