package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"
)

const defaultListLimit = 50

// ProcessEvent is one recorded state transition of the game process.
type ProcessEvent struct {
	ID        int64     `json:"id"`
	FromState string    `json:"from_state"`
	ToState   string    `json:"to_state"`
	PID       int       `json:"pid,omitempty"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	Forced    bool      `json:"forced,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CommandRecord is one audited console command.
type CommandRecord struct {
	ID            int64     `json:"id"`
	Principal     string    `json:"principal"`
	Command       string    `json:"command"`
	SessionHandle string    `json:"session_handle,omitempty"`
	Source        string    `json:"source"`
	ExecutedAt    time.Time `json:"executed_at"`
}

// EventStore reads and writes the activity tables.
type EventStore struct {
	db *DB
}

func NewEventStore(db *DB) *EventStore {
	return &EventStore{db: db}
}

// RecordProcessEvent stores a state transition.
func (s *EventStore) RecordProcessEvent(ctx context.Context, event ProcessEvent) error {
	var exitCode sql.NullInt64
	if event.ExitCode != nil {
		exitCode = sql.NullInt64{Int64: int64(*event.ExitCode), Valid: true}
	}
	var pid sql.NullInt64
	if event.PID > 0 {
		pid = sql.NullInt64{Int64: int64(event.PID), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO process_events (from_state, to_state, pid, exit_code, forced, detail)
		VALUES (?, ?, ?, ?, ?, ?)
	`, event.FromState, event.ToState, pid, exitCode, event.Forced, nullString(event.Detail))
	if err != nil {
		return fmt.Errorf("failed to record process event: %w", err)
	}
	return nil
}

// RecordConsoleCommand audits a command. Failures are logged, never
// returned, so auditing cannot block the console.
func (s *EventStore) RecordConsoleCommand(principal, handle, command, source string) {
	_, err := s.db.Exec(`
		INSERT INTO console_commands (principal, command, session_handle, source)
		VALUES (?, ?, ?, ?)
	`, principal, command, nullString(handle), source)
	if err != nil {
		log.Printf("[Database] Failed to save command history: %v", err)
	}
}

// RecentProcessEvents returns the newest events first.
func (s *EventStore) RecentProcessEvents(ctx context.Context, limit int) ([]ProcessEvent, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, from_state, to_state, pid, exit_code, forced, detail, created_at
		FROM process_events
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query process events: %w", err)
	}
	defer rows.Close()

	events := []ProcessEvent{}
	for rows.Next() {
		var event ProcessEvent
		var pid, exitCode sql.NullInt64
		var detail sql.NullString
		if err := rows.Scan(&event.ID, &event.FromState, &event.ToState, &pid, &exitCode, &event.Forced, &detail, &event.CreatedAt); err != nil {
			return nil, err
		}
		if pid.Valid {
			event.PID = int(pid.Int64)
		}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			event.ExitCode = &code
		}
		event.Detail = detail.String
		events = append(events, event)
	}
	return events, rows.Err()
}

// RecentCommands returns the newest audited commands first, optionally
// restricted to one principal.
func (s *EventStore) RecentCommands(ctx context.Context, principal string, limit int) ([]CommandRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `
		SELECT id, principal, command, session_handle, source, executed_at
		FROM console_commands
	`
	args := []interface{}{}
	if principal != "" {
		query += ` WHERE principal = ?`
		args = append(args, principal)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query console commands: %w", err)
	}
	defer rows.Close()

	records := []CommandRecord{}
	for rows.Next() {
		var record CommandRecord
		var handle sql.NullString
		if err := rows.Scan(&record.ID, &record.Principal, &record.Command, &handle, &record.Source, &record.ExecutedAt); err != nil {
			return nil, err
		}
		record.SessionHandle = handle.String
		records = append(records, record)
	}
	return records, rows.Err()
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
