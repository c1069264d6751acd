package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	maxLineSize = 1 << 20

	// outputDrainGrace bounds how long exit handling waits for the output
	// stream to reach EOF after the process itself has exited.
	outputDrainGrace = 5 * time.Second
)

// ErrAlreadyStarted is returned by Start on a process that was started before.
var ErrAlreadyStarted = errors.New("game process already started")

// Hooks are optional callbacks fired by a GameProcess. OnOutput runs on the
// dispatcher goroutine and must not block for long.
type Hooks struct {
	OnStart  func(pid int)
	OnOutput func(line string)
	OnExit   func(exitCode int)
}

// ProcessOptions tune a GameProcess. Zero values select the defaults.
type ProcessOptions struct {
	QueueCapacity      int
	SubscriberCapacity int
	HistoryLines       int
	Hooks              Hooks
}

// GameProcess owns one child process: its output reader, stdin writer and
// output fan-out.
type GameProcess struct {
	launcher Launcher
	spec     LaunchSpec
	opts     ProcessOptions

	queue   *OutputQueue
	history *RingBuffer

	mu        sync.Mutex
	handle    ProcessHandle
	startedAt time.Time
	subs      map[*Subscription]struct{}
	exited    bool
	exitCode  int
	exitErr   error

	writeMu  sync.Mutex
	started  atomic.Bool
	exitOnce sync.Once
	drained  chan struct{}
	done     chan struct{}
}

// NewGameProcess prepares a process. Nothing runs until Start.
func NewGameProcess(launcher Launcher, spec LaunchSpec, opts ProcessOptions) *GameProcess {
	if opts.SubscriberCapacity <= 0 {
		opts.SubscriberCapacity = DefaultSubscriberCapacity
	}
	return &GameProcess{
		launcher: launcher,
		spec:     spec,
		opts:     opts,
		queue:    NewOutputQueue(opts.QueueCapacity),
		history:  NewRingBuffer(opts.HistoryLines),
		subs:     make(map[*Subscription]struct{}),
		drained:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the process and its reader, dispatcher and waiter
// goroutines.
func (p *GameProcess) Start() error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	handle, err := p.launcher.Launch(p.spec)
	if err != nil {
		p.mu.Lock()
		p.exited = true
		p.exitCode = -1
		p.exitErr = err
		p.mu.Unlock()
		p.queue.Close()
		close(p.drained)
		close(p.done)
		return err
	}

	p.mu.Lock()
	p.handle = handle
	p.startedAt = time.Now()
	p.mu.Unlock()

	log.Printf("[Process] Started %s (pid %d)", strings.Join(p.spec.Command, " "), handle.PID())

	go p.readOutput(handle.Output())
	go p.dispatch()
	go p.wait(handle)

	if p.opts.Hooks.OnStart != nil {
		p.opts.Hooks.OnStart(handle.PID())
	}
	return nil
}

func (p *GameProcess) readOutput(output io.Reader) {
	defer p.queue.Close()
	if closer, ok := output.(io.Closer); ok {
		defer closer.Close()
	}

	scanner := bufio.NewScanner(output)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		p.queue.Push(strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && !isClosedPipe(err) {
		log.Printf("[Process] Output reader stopped: %v", err)
	}
}

func (p *GameProcess) dispatch() {
	defer close(p.drained)
	for {
		line, ok := p.queue.Pop(context.Background())
		if !ok {
			return
		}

		p.mu.Lock()
		p.history.Add(line)
		subs := make([]*Subscription, 0, len(p.subs))
		for sub := range p.subs {
			subs = append(subs, sub)
		}
		p.mu.Unlock()

		if p.opts.Hooks.OnOutput != nil {
			p.opts.Hooks.OnOutput(line)
		}
		for _, sub := range subs {
			sub.queue.Push(line)
		}
	}
}

func (p *GameProcess) wait(handle ProcessHandle) {
	code, err := handle.Wait()
	if err != nil {
		log.Printf("[Process] Wait failed for pid %d: %v", handle.PID(), err)
	}

	select {
	case <-p.drained:
	case <-time.After(outputDrainGrace):
		log.Printf("[Process] Output of pid %d still open after exit, closing", handle.PID())
		p.queue.Close()
		if closer, ok := handle.Output().(io.Closer); ok {
			closer.Close()
		}
		<-p.drained
	}

	p.finish(code, err)
}

func (p *GameProcess) finish(code int, err error) {
	p.exitOnce.Do(func() {
		p.mu.Lock()
		p.exited = true
		p.exitCode = code
		p.exitErr = err
		subs := make([]*Subscription, 0, len(p.subs))
		for sub := range p.subs {
			subs = append(subs, sub)
		}
		p.subs = make(map[*Subscription]struct{})
		p.mu.Unlock()

		for _, sub := range subs {
			sub.queue.Close()
		}

		log.Printf("[Process] Exited with code %d", code)
		if p.opts.Hooks.OnExit != nil {
			p.opts.Hooks.OnExit(code)
		}
		close(p.done)
	})
}

// Subscribe registers a new output consumer.
func (p *GameProcess) Subscribe() (*Subscription, error) {
	_, sub, err := p.SubscribeWithHistory(0)
	return sub, err
}

// SubscribeWithHistory returns up to n recent lines together with a
// subscription that receives every line emitted after them, with no gap or
// duplicate between the two.
func (p *GameProcess) SubscribeWithHistory(n int) ([]string, *Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return nil, nil, ErrProcessExited
	}

	var history []string
	if n > 0 {
		history = p.history.Last(n)
	}
	sub := &Subscription{
		process: p,
		queue:   NewOutputQueue(p.opts.SubscriberCapacity),
	}
	p.subs[sub] = struct{}{}
	return history, sub, nil
}

func (p *GameProcess) unsubscribe(sub *Subscription) {
	p.mu.Lock()
	delete(p.subs, sub)
	p.mu.Unlock()
}

// WriteLine writes line plus a newline to the process stdin. Concurrent
// writes never interleave.
func (p *GameProcess) WriteLine(line string) error {
	line = strings.TrimRight(line, "\r\n")
	if strings.ContainsAny(line, "\r\n") {
		return fmt.Errorf("input must be a single line")
	}

	p.mu.Lock()
	handle := p.handle
	exited := p.exited
	p.mu.Unlock()
	if handle == nil {
		return ErrNotRunning
	}
	if exited {
		return ErrProcessExited
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if _, err := io.WriteString(handle.Input(), line+"\n"); err != nil {
		return fmt.Errorf("failed to write to process input: %w", err)
	}
	return nil
}

// Kill terminates the process immediately.
func (p *GameProcess) Kill() error {
	p.mu.Lock()
	handle := p.handle
	exited := p.exited
	p.mu.Unlock()
	if handle == nil {
		return ErrNotRunning
	}
	if exited {
		return nil
	}
	err := handle.Kill()
	// Unblocks a stdin write stuck on a child that stopped reading.
	handle.Input().Close()
	return err
}

// PID returns the process id, or 0 before Start.
func (p *GameProcess) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handle == nil {
		return 0
	}
	return p.handle.PID()
}

// StartedAt returns when the process was launched.
func (p *GameProcess) StartedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startedAt
}

// Uptime returns the time since launch, or zero once exited.
func (p *GameProcess) Uptime() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startedAt.IsZero() || p.exited {
		return 0
	}
	return time.Since(p.startedAt)
}

// Exited reports whether exit handling has begun.
func (p *GameProcess) Exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

// ExitCode returns the exit code and whether the process has exited.
func (p *GameProcess) ExitCode() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, p.exited
}

// Err returns the launch or wait error, if any.
func (p *GameProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// Done is closed after the process exited, its output drained and OnExit ran.
func (p *GameProcess) Done() <-chan struct{} {
	return p.done
}

// History returns up to n of the most recent output lines.
func (p *GameProcess) History(n int) []string {
	return p.history.Last(n)
}

// Dropped returns how many lines overflowed the process output queue.
func (p *GameProcess) Dropped() uint64 {
	return p.queue.Dropped()
}

// Stats samples CPU and memory usage of the running process.
func (p *GameProcess) Stats() (ProcessStats, error) {
	pid := p.PID()
	if pid == 0 || p.Exited() {
		return ProcessStats{}, ErrNotRunning
	}
	stats, err := CollectStats(pid)
	if err != nil {
		return ProcessStats{}, err
	}
	stats.Uptime = p.Uptime()
	return stats, nil
}

// Subscription receives output lines in emission order. It has its own
// bounded queue, so a slow reader only loses its own oldest lines.
type Subscription struct {
	process *GameProcess
	queue   *OutputQueue
	once    sync.Once
}

// Next blocks for the next line. It returns false when the process has
// exited and all lines were consumed, the subscription was closed, or ctx is
// done.
func (s *Subscription) Next(ctx context.Context) (string, bool) {
	return s.queue.Pop(ctx)
}

// Close detaches the subscription.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.process.unsubscribe(s)
		s.queue.Close()
	})
}

// Dropped returns how many lines this subscriber missed.
func (s *Subscription) Dropped() uint64 {
	return s.queue.Dropped()
}

func isClosedPipe(err error) bool {
	return errors.Is(err, io.ErrClosedPipe) || strings.Contains(err.Error(), "file already closed")
}
