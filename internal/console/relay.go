package console

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jannetahkola/mc-server-manager/internal/server"
)

const (
	DefaultHistoryLines = 100
	maxCommandLength    = 512
)

// Message types sent to console sessions.
const (
	MessageOutput        = "console_output"
	MessageProcessExited = "process_exited"
	MessageCommandAck    = "command_executed"
)

// ErrSessionNotFound is returned for handles not in the store.
var ErrSessionNotFound = errors.New("console session not found")

// Match ANSI/VT100 escape sequences including CSI and charset selection.
var ansiEscapePattern = regexp.MustCompile(`\x1b(\[[0-9;?!]*[A-Za-z>hp]|\([B0]|[=>])`)

// ProcessSource exposes the current game process to the relay.
type ProcessSource interface {
	Process() *server.GameProcess
	SendCommand(line string) error
}

// CommandAuditor records commands submitted through a console session.
type CommandAuditor interface {
	RecordConsoleCommand(principal, handle, command, source string)
}

// Relay fans game output out to sessions and forwards their commands.
type Relay struct {
	store        *SessionStore
	source       ProcessSource
	auditor      CommandAuditor
	historyLines int

	mu      sync.Mutex
	changed chan struct{}
}

// NewRelay creates a relay. auditor may be nil.
func NewRelay(store *SessionStore, source ProcessSource, auditor CommandAuditor, historyLines int) *Relay {
	if historyLines <= 0 {
		historyLines = DefaultHistoryLines
	}
	return &Relay{
		store:        store,
		source:       source,
		auditor:      auditor,
		historyLines: historyLines,
		changed:      make(chan struct{}),
	}
}

// ProcessChanged wakes sessions waiting for a process to attach to. Call it
// whenever the process state changes.
func (r *Relay) ProcessChanged() {
	r.mu.Lock()
	close(r.changed)
	r.changed = make(chan struct{})
	r.mu.Unlock()
}

func (r *Relay) waitChannel() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.changed
}

// Subscribe relays output to the session until ctx is done or the session
// is removed. It follows the process across restarts and blocks.
func (r *Relay) Subscribe(ctx context.Context, principal, handle string) error {
	session, ok := r.store.Get(handle)
	if !ok {
		return ErrSessionNotFound
	}
	if session.Principal != principal {
		return fmt.Errorf("session %s does not belong to %s", handle, principal)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(session.Context(), cancel)
	defer stop()

	var attached *server.GameProcess
	for {
		changed := r.waitChannel()
		if proc := r.source.Process(); proc != nil && proc != attached {
			attached = proc
			if err := r.forward(ctx, session, proc); err != nil {
				return err
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-changed:
		}
	}
}

// forward relays one process's output. It returns nil when the process
// exits or ctx ends, and an error when the session can no longer be written.
func (r *Relay) forward(ctx context.Context, session *Session, proc *server.GameProcess) error {
	history, sub, err := proc.SubscribeWithHistory(r.historyLines)
	if err != nil {
		return nil
	}
	defer sub.Close()

	for _, line := range session.Filter().FilterLines(history) {
		if err := r.sendLine(session, line, true); err != nil {
			return err
		}
	}

	for {
		line, ok := sub.Next(ctx)
		if !ok {
			if ctx.Err() != nil {
				return nil
			}
			code, _ := proc.ExitCode()
			return session.Conn.SendMessage(MessageProcessExited, map[string]interface{}{
				"pid":       proc.PID(),
				"exit_code": code,
			})
		}
		if filter := session.Filter(); filter != nil && !filter.Filter(line).Include {
			continue
		}
		if err := r.sendLine(session, line, false); err != nil {
			return err
		}
	}
}

func (r *Relay) sendLine(session *Session, line string, history bool) error {
	payload := map[string]interface{}{"line": sanitizeConsoleLine(line)}
	if history {
		payload["history"] = true
	}
	return session.Conn.SendMessage(MessageOutput, payload)
}

// Submit writes a command from handle's session to the game process.
func (r *Relay) Submit(handle, text string) error {
	session, ok := r.store.Get(handle)
	if !ok {
		return ErrSessionNotFound
	}

	command, err := sanitizeConsoleCommand(strings.TrimSpace(text))
	if err != nil {
		return err
	}
	r.store.Touch(handle)

	if err := r.source.SendCommand(command); err != nil {
		return err
	}

	if r.auditor != nil {
		r.auditor.RecordConsoleCommand(session.Principal, handle, command, "ws")
	}
	log.Printf("[Console] Command executed by %s: %s", session.Principal, command)

	return session.Conn.SendMessage(MessageCommandAck, map[string]interface{}{
		"command":  command,
		"username": session.Principal,
		"at":       time.Now().UTC(),
	})
}

func sanitizeConsoleLine(line string) string {
	if line == "" {
		return ""
	}
	stripped := ansiEscapePattern.ReplaceAllString(line, "")
	return strings.Map(func(r rune) rune {
		if r == '\t' {
			return r
		}
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, stripped)
}

// sanitizeConsoleCommand rejects commands that could not be written as a
// single console line.
func sanitizeConsoleCommand(command string) (string, error) {
	if command == "" {
		return "", fmt.Errorf("command is empty")
	}
	if len(command) > maxCommandLength {
		return "", fmt.Errorf("command is too long")
	}
	if ansiEscapePattern.MatchString(command) {
		return "", fmt.Errorf("command contains escape sequences")
	}
	for _, r := range command {
		if r < 32 || r == 127 {
			return "", fmt.Errorf("command contains invalid characters")
		}
	}
	return command, nil
}
