// Package metrics samples resource usage and player counts of the game
// server on a fixed interval.
package metrics

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/jannetahkola/mc-server-manager/internal/config"
	"github.com/jannetahkola/mc-server-manager/internal/database"
	"github.com/jannetahkola/mc-server-manager/internal/gameclient"
	"github.com/jannetahkola/mc-server-manager/internal/logging"
	"github.com/jannetahkola/mc-server-manager/internal/server"
)

const cleanupInterval = 6 * time.Hour

// ProcessSource exposes the current game process.
type ProcessSource interface {
	Process() *server.GameProcess
}

// StatusSource queries the game server status.
type StatusSource interface {
	Query(ctx context.Context) *gameclient.GameStatusResponse
}

// Store persists samples.
type Store interface {
	RecordMetrics(ctx context.Context, sample database.MetricSample) error
	DeleteMetricsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Publisher forwards samples to an external sink.
type Publisher interface {
	PublishMetrics(sample database.MetricSample)
}

type Collector struct {
	cfg       config.MetricsConfig
	process   ProcessSource
	status    StatusSource
	store     Store
	publisher Publisher

	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	mu          sync.Mutex
	lastCleanup time.Time
}

// NewCollector creates a collector. publisher may be nil.
func NewCollector(cfg config.MetricsConfig, process ProcessSource, status StatusSource, store Store, publisher Publisher) *Collector {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &Collector{
		cfg:       cfg,
		process:   process,
		status:    status,
		store:     store,
		publisher: publisher,
		stopCh:    make(chan struct{}),
	}
}

func (c *Collector) Start() {
	if !c.cfg.Enabled {
		return
	}

	log.Printf("[Metrics] Sampling game server every %s", c.cfg.Interval)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				c.collect(now)
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop ends sampling and waits for an in-flight sample to finish.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
}

func (c *Collector) collect(now time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Interval)
	defer cancel()

	if sample, ok := c.Sample(ctx, now); ok {
		if err := c.store.RecordMetrics(ctx, sample); err != nil {
			logging.L().Warn("metrics_record_failed", "error", err)
		} else if c.publisher != nil {
			c.publisher.PublishMetrics(sample)
		}
	}
	c.cleanupOldMetrics(ctx, now)
}

// Sample takes one sample. It reports false when no process is running.
func (c *Collector) Sample(ctx context.Context, now time.Time) (database.MetricSample, bool) {
	proc := c.process.Process()
	if proc == nil {
		return database.MetricSample{}, false
	}
	stats, err := proc.Stats()
	if err != nil {
		return database.MetricSample{}, false
	}

	sample := database.MetricSample{
		Timestamp:  now.UTC(),
		PID:        stats.PID,
		CPUPercent: stats.CPUPercent,
		MemoryMB:   stats.MemoryMB,
		NumThreads: stats.NumThreads,
	}
	if status := c.status.Query(ctx); status != nil && status.Online {
		sample.Online = true
		sample.PlayersOnline = status.Players.Online
		sample.PlayersMax = status.Players.Max
		sample.LatencyMillis = status.LatencyMillis
	}
	return sample, true
}

func (c *Collector) cleanupOldMetrics(ctx context.Context, now time.Time) {
	if c.cfg.RetentionDays <= 0 {
		return
	}

	c.mu.Lock()
	if !c.lastCleanup.IsZero() && now.Sub(c.lastCleanup) < cleanupInterval {
		c.mu.Unlock()
		return
	}
	c.lastCleanup = now
	c.mu.Unlock()

	cutoff := now.Add(-time.Duration(c.cfg.RetentionDays) * 24 * time.Hour)
	deleted, err := c.store.DeleteMetricsBefore(ctx, cutoff)
	if err != nil {
		logging.L().Warn("metrics_cleanup_failed", "error", err)
		return
	}
	if deleted > 0 {
		log.Printf("[Metrics] Removed %d samples older than %d days", deleted, c.cfg.RetentionDays)
	}
}
