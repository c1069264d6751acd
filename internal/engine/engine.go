// Package engine wires the manager components together from configuration.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/jannetahkola/mc-server-manager/internal/auth"
	"github.com/jannetahkola/mc-server-manager/internal/config"
	"github.com/jannetahkola/mc-server-manager/internal/console"
	"github.com/jannetahkola/mc-server-manager/internal/database"
	"github.com/jannetahkola/mc-server-manager/internal/files"
	"github.com/jannetahkola/mc-server-manager/internal/gameclient"
	"github.com/jannetahkola/mc-server-manager/internal/logging"
	"github.com/jannetahkola/mc-server-manager/internal/metrics"
	"github.com/jannetahkola/mc-server-manager/internal/server"
	"github.com/jannetahkola/mc-server-manager/internal/telemetry"
)

const telemetryConnectTimeout = 5 * time.Second

// Engine owns every long-lived component of the manager.
type Engine struct {
	Config *config.Config

	DB     *database.DB
	Events *database.EventStore

	Process  *server.GameProcessService
	Files    *files.GameFileService
	Sessions *console.SessionStore
	Relay    *console.Relay
	CleanUp  *console.CleanUpScheduler

	Status  *gameclient.StatusClient
	Console *gameclient.ConsoleClient
	JWT     *auth.JWTManager

	Metrics    *metrics.Collector
	Telemetry  *telemetry.Publisher
	transcript *console.LogWriter

	mu        sync.Mutex
	stoppedBy server.ProcessState
	closeOnce sync.Once
}

// New builds the engine from cfg. A nil launcher starts local processes.
func New(cfg *config.Config, launcher server.Launcher) (*Engine, error) {
	e := &Engine{Config: cfg}

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	e.DB = db
	e.Events = database.NewEventStore(db)

	if cfg.Game.ConsoleLog.Enabled {
		transcript, err := console.NewLogWriter(console.LogWriterConfig{
			Path:       cfg.Game.ConsoleLog.Path,
			MaxSizeMB:  cfg.Game.ConsoleLog.MaxSizeMB,
			MaxBackups: cfg.Game.ConsoleLog.MaxBackups,
			MaxAgeDays: cfg.Game.ConsoleLog.MaxAgeDays,
			Compress:   true,
		})
		if err != nil {
			db.Close()
			return nil, err
		}
		e.transcript = transcript
	}

	if cfg.Telemetry.MQTT.Enabled {
		e.Telemetry = telemetry.NewPublisher(cfg.Telemetry.MQTT)
	}

	e.Status = gameclient.NewStatusClient(gameclient.StatusConfig{
		Host:            cfg.Game.Status.Host,
		Port:            cfg.Game.Status.Port,
		ProtocolVersion: cfg.Game.Status.ProtocolVersion,
		Timeout:         cfg.Game.Status.Timeout,
	})
	e.Console = gameclient.NewConsoleClient(gameclient.ConsoleConfig{
		Host:     cfg.Game.Console.Host,
		Port:     cfg.Game.Console.Port,
		Password: cfg.Game.Console.Password,
		Timeout:  cfg.Game.Console.Timeout,
	})
	e.JWT = auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Leeway)

	serviceConfig := server.ServiceConfig{
		Command:            cfg.Game.Command,
		WorkingDir:         cfg.Game.WorkingDir,
		Env:                cfg.Game.Env,
		StopCommand:        cfg.Game.StopCommand,
		ReadyPattern:       cfg.Game.ReadyPattern,
		StartupTimeout:     cfg.Game.StartupTimeout,
		StopTimeout:        cfg.Game.StopTimeout,
		ReadyPollInterval:  cfg.Game.ReadyPollInterval,
		QueueCapacity:      cfg.Game.QueueCapacity,
		SubscriberCapacity: cfg.Game.SubscriberCapacity,
		HistoryLines:       cfg.Game.HistoryLines,
	}
	if launcher == nil {
		launcher = server.NewExecLauncher()
	}

	process, err := server.NewGameProcessService(
		serviceConfig,
		server.NewProcessFactory(launcher, serviceConfig),
		e.Status,
		server.ServiceHooks{
			OnOutput:      e.onOutput,
			OnExit:        e.onExit,
			OnStateChange: e.onStateChange,
		},
	)
	if err != nil {
		e.closeStores()
		return nil, err
	}
	e.Process = process

	e.Files = files.NewGameFileService(files.FileConfig{
		ExpectedSHA256: cfg.Download.SHA256,
		Timeout:        cfg.Download.Timeout,
		OnStatusChange: e.onDownloadStatus,
	}, files.NewDefaultRegistry(files.SourceConfig{
		HTTPTimeout: cfg.Download.Timeout,
		S3: files.S3Config{
			Region:    cfg.Download.S3.Region,
			AccessKey: cfg.Download.S3.AccessKey,
			SecretKey: cfg.Download.S3.SecretKey,
			Endpoint:  cfg.Download.S3.Endpoint,
		},
		SFTP: files.SFTPConfig{
			Username:        cfg.Download.SFTP.Username,
			Password:        cfg.Download.SFTP.Password,
			KeyPath:         cfg.Download.SFTP.KeyPath,
			Passphrase:      cfg.Download.SFTP.Passphrase,
			KnownHostsPath:  cfg.Security.SSH.KnownHostsPath,
			TrustOnFirstUse: cfg.Security.SSH.TrustOnFirstUse,
		},
	}))

	var publisher metrics.Publisher
	if e.Telemetry != nil {
		publisher = e.Telemetry
	}
	e.Metrics = metrics.NewCollector(cfg.Metrics, e.Process, e.Status, e.Events, publisher)

	e.Sessions = console.NewSessionStore(cfg.Session.Timeout)
	e.Relay = console.NewRelay(e.Sessions, e.Process, e.Events, cfg.Session.HistoryLines)
	e.CleanUp = console.NewCleanUpScheduler(e.Sessions, console.CleanUpConfig{
		Enabled: cfg.Session.Cleanup.Enabled,
		Delay:   cfg.Session.Cleanup.Delay,
	})

	return e, nil
}

// Start connects telemetry, schedules the session sweep and metrics
// sampling and, when
// configured, fetches the server executable and starts the game server.
func (e *Engine) Start(ctx context.Context) error {
	if e.Telemetry != nil {
		connectCtx, cancel := context.WithTimeout(ctx, telemetryConnectTimeout)
		err := e.Telemetry.Connect(connectCtx)
		cancel()
		if err != nil {
			log.Printf("[Engine] Warning: %v", err)
		}
	}

	e.CleanUp.Start()
	e.Metrics.Start()

	if err := os.MkdirAll(e.Config.Game.WorkingDir, 0755); err != nil {
		return fmt.Errorf("failed to create game working directory: %w", err)
	}

	if e.Config.Game.AutoStart {
		go e.autoStart(ctx)
	}
	return nil
}

func (e *Engine) autoStart(ctx context.Context) {
	if e.Config.Download.URI != "" {
		if _, err := os.Stat(e.Config.Download.Destination); errors.Is(err, os.ErrNotExist) {
			log.Printf("[Engine] Server executable missing, downloading %s", e.Config.Download.URI)
			if err := e.Files.StartDownloadAsync(e.Config.Download.URI, e.Config.Download.Destination); err != nil {
				log.Printf("[Engine] Auto start aborted: %v", err)
				return
			}
			info, err := e.Files.Wait(ctx, e.Config.Download.Destination)
			if err != nil {
				return
			}
			if info.Status != files.StatusDone {
				log.Printf("[Engine] Auto start aborted: download %s", info.Error)
				return
			}
		}
	}

	if !e.Process.InitStart() {
		return
	}
	if err := <-e.Process.StartAsync(); err != nil {
		log.Printf("[Engine] Auto start failed: %v", err)
	}
}

// Close stops the game server if it is running and releases every
// component. It is safe to call more than once.
func (e *Engine) Close(ctx context.Context) error {
	var stopErr error
	e.closeOnce.Do(func() {
		stopErr = e.stopProcess(ctx)
		e.Metrics.Stop()
		e.CleanUp.Stop()
		e.Telemetry.Close()
		if e.transcript != nil {
			if err := e.transcript.Close(); err != nil {
				log.Printf("[Engine] Warning: failed to close console transcript: %v", err)
			}
		}
		e.closeStores()
	})
	return stopErr
}

func (e *Engine) stopProcess(ctx context.Context) error {
	if !e.Process.InitStop() {
		return nil
	}
	log.Printf("[Engine] Stopping game server before shutdown")
	select {
	case result := <-e.Process.StopAsync():
		return result.Err
	case <-ctx.Done():
		return fmt.Errorf("game server did not stop before shutdown deadline: %w", ctx.Err())
	}
}

func (e *Engine) closeStores() {
	if e.DB != nil {
		if err := e.DB.Close(); err != nil {
			log.Printf("[Engine] Warning: failed to close database: %v", err)
		}
	}
}

func (e *Engine) onOutput(line string) {
	if e.transcript == nil {
		return
	}
	if err := e.transcript.WriteLine(line); err != nil {
		logging.L().Warn("console_transcript_write_failed", "error", err)
	}
}

// onStateChange records every transition except the final step to STOPPED
// after a run, which onExit records with its exit code.
func (e *Engine) onStateChange(from, to server.ProcessState) {
	e.Relay.ProcessChanged()
	e.Telemetry.PublishProcessState(from, to)

	if to == server.StateStopped && from != server.StateStarting {
		e.mu.Lock()
		e.stoppedBy = from
		e.mu.Unlock()
		return
	}

	event := database.ProcessEvent{FromState: from.String(), ToState: to.String()}
	snapshot := e.Process.Snapshot()
	event.PID = snapshot.PID
	if to == server.StateStopped {
		event.Detail = snapshot.LastError
		event.ExitCode = snapshot.LastExitCode
	}
	e.record(event)
}

func (e *Engine) onExit(code int, forced bool) {
	e.mu.Lock()
	from := e.stoppedBy
	e.mu.Unlock()

	event := database.ProcessEvent{
		FromState: from.String(),
		ToState:   server.StateStopped.String(),
		ExitCode:  &code,
		Forced:    forced,
	}
	if from == server.StateRunning {
		event.Detail = "unexpected exit"
	}
	logging.L().Info("game_process_exited", "exit_code", code, "forced", forced, "from", from.String())
	e.record(event)
}

func (e *Engine) record(event database.ProcessEvent) {
	if err := e.Events.RecordProcessEvent(context.Background(), event); err != nil {
		logging.L().Warn("process_event_record_failed", "to", event.ToState, "error", err)
	}
}

func (e *Engine) onDownloadStatus(info files.StatusInfo) {
	logging.L().Info("download_status", "destination", info.Destination, "status", string(info.Status), "error", info.Error)
	e.Telemetry.PublishDownloadStatus(info)
}
