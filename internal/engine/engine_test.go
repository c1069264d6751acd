package engine

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jannetahkola/mc-server-manager/internal/config"
	"github.com/jannetahkola/mc-server-manager/internal/files"
	"github.com/jannetahkola/mc-server-manager/internal/server"
)

const fakeServerScript = `echo "Starting minecraft server"; echo "Done (0.1s)! For help, type \"help\""; while read line; do echo "> $line"; if [ "$line" = "stop" ]; then exit 0; fi; done`

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("requires /bin/sh")
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Storage.DataDir = dir
	cfg.Database.Path = filepath.Join(dir, "test.db")
	cfg.Game.WorkingDir = filepath.Join(dir, "server")
	cfg.Game.Command = []string{"/bin/sh", "-c", fakeServerScript}
	cfg.Game.StartupTimeout = 10 * time.Second
	cfg.Game.StopTimeout = 5 * time.Second
	cfg.Game.Status.Port = 1
	cfg.Game.Status.Timeout = 100 * time.Millisecond
	cfg.Game.ConsoleLog.Enabled = true
	cfg.Game.ConsoleLog.Path = filepath.Join(dir, "logs", "console.log")
	cfg.Download.Destination = filepath.Join(cfg.Game.WorkingDir, "server.jar")
	cfg.Session.Cleanup.Enabled = false
	return cfg
}

func newEngine(t *testing.T, cfg *config.Config) *Engine {
	t.Helper()
	e, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		e.Close(ctx)
	})
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("failed to start engine: %v", err)
	}
	return e
}

func TestEngineRecordsLifecycle(t *testing.T) {
	requireShell(t)
	cfg := testConfig(t)
	e := newEngine(t, cfg)

	if !e.Process.InitStart() {
		t.Fatalf("expected InitStart to succeed")
	}
	if err := <-e.Process.StartAsync(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if e.Process.Status() != server.StateRunning {
		t.Fatalf("expected RUNNING, got %s", e.Process.Status())
	}

	if !e.Process.InitStop() {
		t.Fatalf("expected InitStop to succeed")
	}
	result := <-e.Process.StopAsync()
	if result.Err != nil || result.ExitCode != 0 || result.Forced {
		t.Fatalf("unexpected stop result: %+v", result)
	}

	events, err := e.Events.RecentProcessEvents(context.Background(), 10)
	if err != nil {
		t.Fatalf("failed to read events: %v", err)
	}
	expected := [][2]string{
		{"STOPPING", "STOPPED"},
		{"RUNNING", "STOPPING"},
		{"STARTING", "RUNNING"},
		{"STOPPED", "STARTING"},
	}
	if len(events) != len(expected) {
		t.Fatalf("expected %d events, got %+v", len(expected), events)
	}
	for i, want := range expected {
		if events[i].FromState != want[0] || events[i].ToState != want[1] {
			t.Fatalf("event %d: expected %s -> %s, got %s -> %s", i, want[0], want[1], events[i].FromState, events[i].ToState)
		}
	}
	if events[0].ExitCode == nil || *events[0].ExitCode != 0 {
		t.Fatalf("expected exit code 0 on final event, got %+v", events[0])
	}
	if events[2].PID == 0 {
		t.Fatalf("expected pid on RUNNING event")
	}

	data, err := os.ReadFile(cfg.Game.ConsoleLog.Path)
	if err != nil {
		t.Fatalf("failed to read console transcript: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("console transcript is empty")
	}
}

func TestEngineCloseStopsRunningProcess(t *testing.T) {
	requireShell(t)
	e := newEngine(t, testConfig(t))

	if !e.Process.InitStart() {
		t.Fatalf("expected InitStart to succeed")
	}
	if err := <-e.Process.StartAsync(); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Close(ctx); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if e.Process.Status() != server.StateStopped {
		t.Fatalf("expected STOPPED after close, got %s", e.Process.Status())
	}
	if err := e.Close(ctx); err != nil {
		t.Fatalf("second close should be a no-op: %v", err)
	}
}

func TestEngineAutoStartDownloadsFirst(t *testing.T) {
	requireShell(t)
	cfg := testConfig(t)

	source := filepath.Join(t.TempDir(), "server.jar")
	if err := os.WriteFile(source, []byte("jar"), 0644); err != nil {
		t.Fatalf("failed to write source: %v", err)
	}
	cfg.Download.URI = "file://" + source
	cfg.Game.AutoStart = true

	e := newEngine(t, cfg)

	deadline := time.Now().Add(10 * time.Second)
	for e.Process.Status() != server.StateRunning {
		if time.Now().After(deadline) {
			t.Fatalf("auto start did not reach RUNNING, state %s", e.Process.Status())
		}
		time.Sleep(20 * time.Millisecond)
	}

	if info := e.Files.DownloadStatus(cfg.Download.Destination); info.Status != files.StatusDone {
		t.Fatalf("expected download DONE, got %+v", info)
	}
}
