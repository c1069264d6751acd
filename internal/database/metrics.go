package database

import (
	"context"
	"fmt"
	"time"
)

// MetricSample is one resource and player count sample of the game server.
type MetricSample struct {
	ID            int64     `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	PID           int       `json:"pid,omitempty"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryMB      float64   `json:"memory_mb"`
	NumThreads    int32     `json:"num_threads"`
	Online        bool      `json:"online"`
	PlayersOnline int       `json:"players_online"`
	PlayersMax    int       `json:"players_max"`
	LatencyMillis int64     `json:"latency_ms"`
}

// RecordMetrics stores a sample.
func (s *EventStore) RecordMetrics(ctx context.Context, sample MetricSample) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO process_metrics (timestamp, pid, cpu_percent, memory_mb, num_threads, online, players_online, players_max, latency_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sample.Timestamp.UTC(), sample.PID, sample.CPUPercent, sample.MemoryMB, sample.NumThreads,
		sample.Online, sample.PlayersOnline, sample.PlayersMax, sample.LatencyMillis)
	if err != nil {
		return fmt.Errorf("failed to record metrics: %w", err)
	}
	return nil
}

// RecentMetrics returns the newest samples first.
func (s *EventStore) RecentMetrics(ctx context.Context, limit int) ([]MetricSample, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, pid, cpu_percent, memory_mb, num_threads, online, players_online, players_max, latency_ms
		FROM process_metrics
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	defer rows.Close()

	samples := []MetricSample{}
	for rows.Next() {
		var sample MetricSample
		if err := rows.Scan(&sample.ID, &sample.Timestamp, &sample.PID, &sample.CPUPercent, &sample.MemoryMB,
			&sample.NumThreads, &sample.Online, &sample.PlayersOnline, &sample.PlayersMax, &sample.LatencyMillis); err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

// DeleteMetricsBefore removes samples older than cutoff.
func (s *EventStore) DeleteMetricsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM process_metrics WHERE timestamp < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old metrics: %w", err)
	}
	return result.RowsAffected()
}
