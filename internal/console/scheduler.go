package console

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultCleanUpDelay is the interval between expired session sweeps.
const DefaultCleanUpDelay = time.Minute

// CleanUpConfig controls the expired session sweep.
type CleanUpConfig struct {
	Enabled bool
	Delay   time.Duration
}

// CleanUpScheduler periodically evicts expired sessions from a store.
type CleanUpScheduler struct {
	store  *SessionStore
	config CleanUpConfig

	mu          sync.Mutex
	cron        *cron.Cron
	invocations atomic.Int64
}

func NewCleanUpScheduler(store *SessionStore, config CleanUpConfig) *CleanUpScheduler {
	if config.Delay <= 0 {
		config.Delay = DefaultCleanUpDelay
	}
	return &CleanUpScheduler{store: store, config: config}
}

// Start schedules the sweep every Delay. It does nothing when disabled or
// already started. Delays below one second are rounded up to one second.
func (cs *CleanUpScheduler) Start() {
	if !cs.config.Enabled {
		log.Printf("[SessionCleanup] Disabled")
		return
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.cron != nil {
		return
	}

	cs.cron = cron.New()
	cs.cron.Schedule(cron.Every(cs.config.Delay), cron.FuncJob(cs.RunOnce))
	cs.cron.Start()
	log.Printf("[SessionCleanup] Sweeping expired sessions every %v", cs.config.Delay)
}

// Stop cancels the schedule and waits for a running sweep to finish.
func (cs *CleanUpScheduler) Stop() {
	cs.mu.Lock()
	c := cs.cron
	cs.cron = nil
	cs.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	log.Printf("[SessionCleanup] Stopped")
}

// RunOnce performs a single sweep.
func (cs *CleanUpScheduler) RunOnce() {
	cs.invocations.Add(1)
	cs.store.EvictExpiredSessions(time.Now())
}

// Invocations returns how many sweeps have run.
func (cs *CleanUpScheduler) Invocations() int64 {
	return cs.invocations.Load()
}
