// Package files downloads the game server executable from remote sources and
// tracks the download status of each destination.
package files

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jannetahkola/mc-server-manager/internal/logging"
)

// ErrDownloadInProgress is returned when a download to the same destination
// is still running.
var ErrDownloadInProgress = errors.New("download already in progress")

// ErrChecksumMismatch is returned when the downloaded file does not match
// the expected SHA-256.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// DownloadStatus is the state of a destination's most recent download.
type DownloadStatus string

const (
	StatusNotStarted  DownloadStatus = "NOT_STARTED"
	StatusDownloading DownloadStatus = "DOWNLOADING"
	StatusDone        DownloadStatus = "DONE"
	StatusFailed      DownloadStatus = "FAILED"
)

// StatusInfo describes the most recent download to a destination.
type StatusInfo struct {
	Destination  string         `json:"destination"`
	Status       DownloadStatus `json:"status"`
	URI          string         `json:"uri,omitempty"`
	Error        string         `json:"error,omitempty"`
	BytesWritten int64          `json:"bytes_written"`
	TotalBytes   int64          `json:"total_bytes"`
	SHA256       string         `json:"sha256,omitempty"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
}

// FileConfig configures the download service.
type FileConfig struct {
	// ExpectedSHA256 is checked against every download when set.
	ExpectedSHA256 string

	// Timeout bounds a whole download. Zero means no limit.
	Timeout time.Duration

	// OnStatusChange is called after every status transition.
	OnStatusChange func(StatusInfo)
}

type download struct {
	info    StatusInfo
	written atomic.Int64
	done    chan struct{}
}

// GameFileService runs at most one download per destination.
type GameFileService struct {
	config  FileConfig
	sources SourceFactory

	mu        sync.Mutex
	downloads map[string]*download
}

// NewGameFileService creates a download service. A nil factory uses the
// default registry.
func NewGameFileService(config FileConfig, sources SourceFactory) *GameFileService {
	if sources == nil {
		sources = NewDefaultRegistry(SourceConfig{HTTPTimeout: config.Timeout})
	}
	return &GameFileService{
		config:    config,
		sources:   sources,
		downloads: make(map[string]*download),
	}
}

// StartDownloadAsync starts downloading uri into destination and returns
// immediately. A malformed URI or unknown scheme is rejected without
// touching the destination's status.
func (s *GameFileService) StartDownloadAsync(uri, destination string) error {
	location, err := url.Parse(strings.TrimSpace(uri))
	if err != nil {
		return fmt.Errorf("invalid download uri: %w", err)
	}
	if location.Scheme == "" {
		return fmt.Errorf("invalid download uri %q: missing scheme", uri)
	}
	source, err := s.sources.SourceFor(location.Scheme)
	if err != nil {
		return err
	}
	if strings.TrimSpace(destination) == "" {
		return fmt.Errorf("download destination is required")
	}

	destination = filepath.Clean(destination)
	now := time.Now()

	s.mu.Lock()
	if current, ok := s.downloads[destination]; ok && current.info.Status == StatusDownloading {
		s.mu.Unlock()
		return ErrDownloadInProgress
	}
	d := &download{
		info: StatusInfo{
			Destination: destination,
			Status:      StatusDownloading,
			URI:         location.Redacted(),
			TotalBytes:  -1,
			StartedAt:   &now,
		},
		done: make(chan struct{}),
	}
	s.downloads[destination] = d
	info := d.info
	s.mu.Unlock()

	log.Printf("[Files] Downloading %s to %s", location.Redacted(), destination)
	s.notify(info)

	go s.run(d, source, location)
	return nil
}

func (s *GameFileService) run(d *download, source Source, location *url.URL) {
	defer close(d.done)

	ctx := context.Background()
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	sum, err := s.fetch(ctx, d, source, location)

	finished := time.Now()
	s.mu.Lock()
	d.info.BytesWritten = d.written.Load()
	d.info.FinishedAt = &finished
	if err != nil {
		d.info.Status = StatusFailed
		d.info.Error = err.Error()
	} else {
		d.info.Status = StatusDone
		d.info.SHA256 = sum
	}
	info := d.info
	s.mu.Unlock()

	if err != nil {
		log.Printf("[Files] Download to %s failed: %v", info.Destination, err)
	} else {
		logging.L().Info("download_complete",
			"destination", info.Destination,
			"bytes", info.BytesWritten,
			"sha256", info.SHA256,
			"duration", finished.Sub(*info.StartedAt).String(),
		)
	}
	s.notify(info)
}

// fetch streams the source into a temporary file next to the destination
// and renames it into place once complete and verified.
func (s *GameFileService) fetch(ctx context.Context, d *download, source Source, location *url.URL) (string, error) {
	body, size, err := source.Open(ctx, location)
	if err != nil {
		return "", err
	}
	defer body.Close()

	s.mu.Lock()
	d.info.TotalBytes = size
	s.mu.Unlock()

	destination := d.info.Destination
	if err := os.MkdirAll(filepath.Dir(destination), 0755); err != nil {
		return "", fmt.Errorf("failed to create destination directory: %w", err)
	}

	partPath := destination + ".part"
	part, err := os.OpenFile(partPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0755)
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			os.Remove(partPath)
		}
	}()

	hash := sha256.New()
	writer := io.MultiWriter(part, hash, &progressWriter{written: &d.written})
	_, copyErr := io.Copy(writer, &contextReader{ctx: ctx, reader: body})
	closeErr := part.Close()
	if copyErr != nil {
		return "", fmt.Errorf("failed to download: %w", copyErr)
	}
	if closeErr != nil {
		return "", fmt.Errorf("failed to write temporary file: %w", closeErr)
	}
	if size >= 0 && d.written.Load() != size {
		return "", fmt.Errorf("incomplete download: got %d of %d bytes", d.written.Load(), size)
	}

	sum := hex.EncodeToString(hash.Sum(nil))
	if expected := strings.TrimSpace(s.config.ExpectedSHA256); expected != "" && !strings.EqualFold(expected, sum) {
		return "", fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, strings.ToLower(expected), sum)
	}

	if err := os.Rename(partPath, destination); err != nil {
		return "", fmt.Errorf("failed to move download into place: %w", err)
	}
	committed = true
	return sum, nil
}

// DownloadStatus returns the status of the most recent download to
// destination.
func (s *GameFileService) DownloadStatus(destination string) StatusInfo {
	destination = filepath.Clean(destination)

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.downloads[destination]
	if !ok {
		return StatusInfo{Destination: destination, Status: StatusNotStarted}
	}
	info := d.info
	if info.Status == StatusDownloading {
		info.BytesWritten = d.written.Load()
	}
	return info
}

// Wait blocks until the current download to destination finishes or ctx is
// done, then returns its status.
func (s *GameFileService) Wait(ctx context.Context, destination string) (StatusInfo, error) {
	destination = filepath.Clean(destination)

	s.mu.Lock()
	d, ok := s.downloads[destination]
	s.mu.Unlock()
	if !ok {
		return s.DownloadStatus(destination), nil
	}

	select {
	case <-d.done:
		return s.DownloadStatus(destination), nil
	case <-ctx.Done():
		return s.DownloadStatus(destination), ctx.Err()
	}
}

func (s *GameFileService) notify(info StatusInfo) {
	if s.config.OnStatusChange != nil {
		s.config.OnStatusChange(info)
	}
}

type progressWriter struct {
	written *atomic.Int64
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.written.Add(int64(len(p)))
	return len(p), nil
}

// contextReader stops a copy once ctx is done, for sources whose reads do
// not observe the context themselves.
type contextReader struct {
	ctx    context.Context
	reader io.Reader
}

func (r *contextReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.reader.Read(p)
}
