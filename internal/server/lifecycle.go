package server

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultStopCommand       = "stop"
	DefaultReadyPattern      = `Done \(`
	DefaultStartupTimeout    = 120 * time.Second
	DefaultStopTimeout       = 60 * time.Second
	DefaultReadyPollInterval = 2 * time.Second

	// killGrace bounds the wait for exit after a forced kill.
	killGrace = 10 * time.Second
)

// ServiceConfig describes how the game server is launched and stopped.
type ServiceConfig struct {
	Command    []string
	WorkingDir string
	Env        map[string]string

	StopCommand       string
	ReadyPattern      string
	StartupTimeout    time.Duration
	StopTimeout       time.Duration
	ReadyPollInterval time.Duration

	QueueCapacity      int
	SubscriberCapacity int
	HistoryLines       int
}

// ServiceHooks observe the service lifecycle. All are optional.
type ServiceHooks struct {
	OnStart       func(pid int)
	OnOutput      func(line string)
	OnExit        func(exitCode int, forced bool)
	OnStateChange func(from, to ProcessState)
}

// ProcessFactory builds the GameProcess for one start.
type ProcessFactory func(hooks Hooks) *GameProcess

// NewProcessFactory returns a factory launching cfg.Command through launcher.
func NewProcessFactory(launcher Launcher, cfg ServiceConfig) ProcessFactory {
	spec := LaunchSpec{
		Command:    cfg.Command,
		WorkingDir: cfg.WorkingDir,
		Env:        cfg.Env,
	}
	return func(hooks Hooks) *GameProcess {
		return NewGameProcess(launcher, spec, ProcessOptions{
			QueueCapacity:      cfg.QueueCapacity,
			SubscriberCapacity: cfg.SubscriberCapacity,
			HistoryLines:       cfg.HistoryLines,
			Hooks:              hooks,
		})
	}
}

// StopResult is delivered by StopAsync once the process is gone.
type StopResult struct {
	ExitCode int
	Forced   bool
	Err      error
}

// GameProcessService runs the STOPPED, STARTING, RUNNING, STOPPING state
// machine around a single GameProcess.
type GameProcessService struct {
	cfg          ServiceConfig
	factory      ProcessFactory
	prober       StatusProber
	hooks        ServiceHooks
	readyPattern *regexp.Regexp

	killGrace    time.Duration
	state        atomic.Int32
	startPending atomic.Bool
	stopPending  atomic.Bool

	mu           sync.Mutex
	process      *GameProcess
	lastErr      error
	lastExitCode *int
}

// NewGameProcessService creates a stopped service. A nil factory launches
// local processes; a nil prober relies on the ready pattern alone.
func NewGameProcessService(cfg ServiceConfig, factory ProcessFactory, prober StatusProber, hooks ServiceHooks) (*GameProcessService, error) {
	if cfg.StopCommand == "" {
		cfg.StopCommand = DefaultStopCommand
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = DefaultStartupTimeout
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.ReadyPollInterval <= 0 {
		cfg.ReadyPollInterval = DefaultReadyPollInterval
	}
	if cfg.ReadyPattern == "" {
		cfg.ReadyPattern = DefaultReadyPattern
	}

	pattern, err := regexp.Compile(cfg.ReadyPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid ready pattern: %w", err)
	}

	if factory == nil {
		factory = NewProcessFactory(NewExecLauncher(), cfg)
	}

	return &GameProcessService{
		cfg:          cfg,
		factory:      factory,
		prober:       prober,
		hooks:        hooks,
		readyPattern: pattern,
		killGrace:    killGrace,
	}, nil
}

// Status returns the current state without blocking.
func (s *GameProcessService) Status() ProcessState {
	return ProcessState(s.state.Load())
}

// InitStart claims the STOPPED to STARTING transition. Exactly one of any
// number of concurrent callers succeeds. It is refused while a killed process
// from the previous run is still alive.
func (s *GameProcessService) InitStart() bool {
	s.mu.Lock()
	lingering := s.process != nil
	s.mu.Unlock()
	if lingering {
		return false
	}
	if !s.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return false
	}
	s.startPending.Store(true)
	s.notifyState(StateStopped, StateStarting)
	return true
}

// StartAsync launches the process after a successful InitStart and waits
// for readiness in the background. The channel yields the launch failure, or
// is closed without a value once the service is RUNNING.
func (s *GameProcessService) StartAsync() <-chan error {
	result := make(chan error, 1)
	if !s.startPending.CompareAndSwap(true, false) {
		result <- ErrInvalidTransition
		close(result)
		return result
	}

	go func() {
		defer close(result)
		if err := s.runStart(); err != nil {
			result <- err
		}
	}()
	return result
}

func (s *GameProcessService) runStart() error {
	log.Printf("[Lifecycle] Starting game server: %s", strings.Join(s.cfg.Command, " "))

	ready := make(chan struct{})
	var readyOnce sync.Once

	var proc *GameProcess
	proc = s.factory(Hooks{
		OnOutput: func(line string) {
			if s.readyPattern.MatchString(line) {
				readyOnce.Do(func() { close(ready) })
			}
			if s.hooks.OnOutput != nil {
				s.hooks.OnOutput(line)
			}
		},
		OnExit: func(code int) {
			s.handleExit(proc, code)
		},
	})

	s.mu.Lock()
	s.process = proc
	s.lastErr = nil
	s.mu.Unlock()

	if err := proc.Start(); err != nil {
		s.failStart(proc, err)
		return err
	}

	startTime := time.Now()
	log.Printf("[Lifecycle] Waiting for game server to become ready (timeout: %v)...", s.cfg.StartupTimeout)

	timeout := time.NewTimer(s.cfg.StartupTimeout)
	defer timeout.Stop()

	var poll <-chan time.Time
	if s.prober != nil {
		ticker := time.NewTicker(s.cfg.ReadyPollInterval)
		defer ticker.Stop()
		poll = ticker.C
	}

	for {
		select {
		case <-ready:
			log.Printf("[Lifecycle] Game server ready in %v", time.Since(startTime).Round(time.Millisecond))
			return s.completeStart(proc)
		case <-proc.Done():
			return s.exitedBeforeReady(proc)
		case <-poll:
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ReadyPollInterval)
			online := s.prober.Online(ctx)
			cancel()
			if online {
				log.Printf("[Lifecycle] Game server answered status probe after %v", time.Since(startTime).Round(time.Millisecond))
				return s.completeStart(proc)
			}
		case <-timeout.C:
			log.Printf("[Lifecycle] Warning: no readiness signal within %v, treating live process as running", s.cfg.StartupTimeout)
			return s.completeStart(proc)
		}
	}
}

func (s *GameProcessService) completeStart(proc *GameProcess) error {
	s.mu.Lock()
	if proc.Exited() || s.process != proc {
		s.mu.Unlock()
		<-proc.Done()
		return s.exitedBeforeReady(proc)
	}
	s.state.Store(int32(StateRunning))
	s.mu.Unlock()

	s.notifyState(StateStarting, StateRunning)
	if s.hooks.OnStart != nil {
		s.hooks.OnStart(proc.PID())
	}
	return nil
}

func (s *GameProcessService) exitedBeforeReady(proc *GameProcess) error {
	code, _ := proc.ExitCode()
	err := &LaunchError{
		Command: strings.Join(s.cfg.Command, " "),
		Err:     fmt.Errorf("process exited with code %d before becoming ready", code),
	}
	s.mu.Lock()
	s.lastExitCode = &code
	s.mu.Unlock()
	s.failStart(proc, err)
	return err
}

func (s *GameProcessService) failStart(proc *GameProcess, err error) {
	s.mu.Lock()
	if s.process == proc {
		s.process = nil
	}
	s.lastErr = err
	s.state.Store(int32(StateStopped))
	s.mu.Unlock()

	log.Printf("[Lifecycle] Start failed: %v", err)
	s.notifyState(StateStarting, StateStopped)
}

// handleExit runs on the process waiter goroutine. Exits during STARTING and
// STOPPING are finalized by the goroutine driving that transition.
func (s *GameProcessService) handleExit(proc *GameProcess, code int) {
	s.mu.Lock()
	if s.process != proc || !s.state.CompareAndSwap(int32(StateRunning), int32(StateStopped)) {
		s.mu.Unlock()
		return
	}
	s.process = nil
	s.lastExitCode = &code
	s.lastErr = fmt.Errorf("game process exited unexpectedly with code %d", code)
	s.mu.Unlock()

	log.Printf("[Lifecycle] Game server exited unexpectedly (code %d)", code)
	s.notifyState(StateRunning, StateStopped)
	if s.hooks.OnExit != nil {
		s.hooks.OnExit(code, false)
	}
}

// InitStop claims the RUNNING to STOPPING transition. A start still waiting
// for readiness cannot be stopped.
func (s *GameProcessService) InitStop() bool {
	if !s.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return false
	}
	s.stopPending.Store(true)
	s.notifyState(StateRunning, StateStopping)
	return true
}

// StopAsync sends the graceful stop command after a successful InitStop and
// force-kills the process if it is still alive after the stop timeout.
func (s *GameProcessService) StopAsync() <-chan StopResult {
	result := make(chan StopResult, 1)
	if !s.stopPending.CompareAndSwap(true, false) {
		result <- StopResult{ExitCode: -1, Err: ErrInvalidTransition}
		close(result)
		return result
	}

	go func() {
		defer close(result)
		result <- s.runStop()
	}()
	return result
}

func (s *GameProcessService) runStop() StopResult {
	s.mu.Lock()
	proc := s.process
	s.mu.Unlock()

	if proc == nil {
		s.finishStop(nil, -1, false)
		return StopResult{ExitCode: -1}
	}

	// The timeout covers the stop command too: a child that no longer reads
	// stdin must not stall the write past the deadline.
	timer := time.NewTimer(s.cfg.StopTimeout)
	defer timer.Stop()

	log.Printf("[Lifecycle] Stopping game server (pid %d, timeout: %v)...", proc.PID(), s.cfg.StopTimeout)
	log.Printf("[Lifecycle] Sending stop command: %s", s.cfg.StopCommand)
	go func() {
		if err := proc.WriteLine(s.cfg.StopCommand); err != nil {
			log.Printf("[Lifecycle] Warning: Failed to send stop command: %v", err)
		}
	}()

	forced := false
	select {
	case <-proc.Done():
		log.Printf("[Lifecycle] Game server stopped gracefully")
	case <-timer.C:
		forced = true
		log.Printf("[Lifecycle] Graceful shutdown timeout, forcing stop...")
		if err := proc.Kill(); err != nil {
			log.Printf("[Lifecycle] Warning: Failed to kill process: %v", err)
		}
		select {
		case <-proc.Done():
			log.Printf("[Lifecycle] Game server stopped (forced)")
		case <-time.After(s.killGrace):
			log.Printf("[Lifecycle] Warning: process did not report exit %v after kill", s.killGrace)
		}
	}

	code, exited := proc.ExitCode()
	if !exited {
		s.finishLingering(proc)
		return StopResult{ExitCode: -1, Forced: forced, Err: ErrProcessLingering}
	}
	s.finishStop(proc, code, forced)
	return StopResult{ExitCode: code, Forced: forced}
}

func (s *GameProcessService) finishStop(proc *GameProcess, code int, forced bool) {
	s.mu.Lock()
	if s.process == proc {
		s.process = nil
	}
	s.lastExitCode = &code
	s.state.Store(int32(StateStopped))
	s.mu.Unlock()

	s.notifyState(StateStopping, StateStopped)
	if s.hooks.OnExit != nil {
		s.hooks.OnExit(code, forced)
	}
}

// finishLingering moves to STOPPED but keeps proc attached, so InitStart is
// refused until the killed process has really exited.
func (s *GameProcessService) finishLingering(proc *GameProcess) {
	code := -1
	s.mu.Lock()
	s.lastExitCode = &code
	s.lastErr = fmt.Errorf("pid %d: %w", proc.PID(), ErrProcessLingering)
	s.state.Store(int32(StateStopped))
	s.mu.Unlock()

	go func() {
		<-proc.Done()
		s.mu.Lock()
		if s.process == proc {
			s.process = nil
		}
		s.mu.Unlock()
		log.Printf("[Lifecycle] Killed game server (pid %d) has exited", proc.PID())
	}()

	s.notifyState(StateStopping, StateStopped)
	if s.hooks.OnExit != nil {
		s.hooks.OnExit(code, true)
	}
}

func (s *GameProcessService) notifyState(from, to ProcessState) {
	log.Printf("[Lifecycle] State %s -> %s", from, to)
	if s.hooks.OnStateChange != nil {
		s.hooks.OnStateChange(from, to)
	}
}

// Process returns the live process, or nil when none is running.
func (s *GameProcessService) Process() *GameProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.process
}

// SendCommand writes a console line to the running process.
func (s *GameProcessService) SendCommand(line string) error {
	if s.Status() != StateRunning {
		return ErrNotRunning
	}
	proc := s.Process()
	if proc == nil {
		return ErrNotRunning
	}
	return proc.WriteLine(line)
}

// LastError returns the most recent start failure or unexpected exit.
func (s *GameProcessService) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Snapshot collects the state together with details of the live process.
func (s *GameProcessService) Snapshot() StatusSnapshot {
	snapshot := StatusSnapshot{
		State:     s.Status(),
		CheckedAt: time.Now(),
	}

	s.mu.Lock()
	proc := s.process
	if s.lastErr != nil {
		snapshot.LastError = s.lastErr.Error()
	}
	if s.lastExitCode != nil {
		code := *s.lastExitCode
		snapshot.LastExitCode = &code
	}
	s.mu.Unlock()

	if proc != nil {
		snapshot.PID = proc.PID()
		if started := proc.StartedAt(); !started.IsZero() {
			snapshot.StartedAt = &started
		}
		snapshot.UptimeSecs = int64(proc.Uptime().Seconds())
		snapshot.DroppedLines = proc.Dropped()
	}
	return snapshot
}

// Config returns the effective configuration.
func (s *GameProcessService) Config() ServiceConfig {
	return s.cfg
}
