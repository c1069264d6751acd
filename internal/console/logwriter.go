package console

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogWriterConfig controls the on-disk console transcript.
type LogWriterConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// LogWriter appends timestamped console lines to a size-rotated file.
type LogWriter struct {
	mu     sync.Mutex
	logger *lumberjack.Logger
	now    func() time.Time
}

// NewLogWriter opens the transcript at config.Path, creating its directory.
func NewLogWriter(config LogWriterConfig) (*LogWriter, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("console log path is required")
	}
	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create console log directory: %w", err)
	}

	maxSize := config.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 50
	}

	log.Printf("[LogWriter] Writing console transcript to %s", config.Path)
	return &LogWriter{
		logger: &lumberjack.Logger{
			Filename:   config.Path,
			MaxSize:    maxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAgeDays,
			Compress:   config.Compress,
		},
		now: time.Now,
	}, nil
}

// WriteLine appends one line.
func (lw *LogWriter) WriteLine(line string) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	timestamp := lw.now().Format("2006-01-02 15:04:05")
	if _, err := fmt.Fprintf(lw.logger, "[%s] %s\n", timestamp, line); err != nil {
		return fmt.Errorf("failed to write console log: %w", err)
	}
	return nil
}

// Rotate starts a new transcript file.
func (lw *LogWriter) Rotate() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.logger.Rotate()
}

func (lw *LogWriter) Close() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.logger.Close()
}
