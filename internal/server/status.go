package server

import (
	"context"
	"time"
)

// StatusProber reports whether the game server answers status queries. It is
// used as a readiness signal while starting.
type StatusProber interface {
	Online(ctx context.Context) bool
}

// ProbeFunc adapts a function to StatusProber.
type ProbeFunc func(ctx context.Context) bool

// Online calls f.
func (f ProbeFunc) Online(ctx context.Context) bool {
	return f(ctx)
}

// StatusSnapshot is a point-in-time view of the managed process.
type StatusSnapshot struct {
	State        ProcessState `json:"state"`
	PID          int          `json:"pid,omitempty"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	UptimeSecs   int64        `json:"uptime_seconds"`
	LastError    string       `json:"last_error,omitempty"`
	LastExitCode *int         `json:"last_exit_code,omitempty"`
	DroppedLines uint64       `json:"dropped_lines"`
	CheckedAt    time.Time    `json:"checked_at"`
}
