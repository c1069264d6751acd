package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// ErrUnsupportedScheme is returned for URIs no source can fetch.
var ErrUnsupportedScheme = errors.New("unsupported download scheme")

// Source fetches a remote object.
type Source interface {
	// Open returns the object body and its size, or -1 when the size is not
	// known in advance.
	Open(ctx context.Context, location *url.URL) (io.ReadCloser, int64, error)

	// Scheme returns the URI scheme this source serves.
	Scheme() string
}

// SourceFactory resolves the source for a URI scheme.
type SourceFactory interface {
	SourceFor(scheme string) (Source, error)
}

// SourceConfig configures the built-in sources.
type SourceConfig struct {
	HTTPTimeout time.Duration
	S3          S3Config
	SFTP        SFTPConfig
}

// Registry is a SourceFactory keyed by scheme.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]Source)}
}

// NewDefaultRegistry registers the http, https, file, s3 and sftp sources.
func NewDefaultRegistry(cfg SourceConfig) *Registry {
	registry := NewRegistry()
	httpSource := NewHTTPSource(cfg.HTTPTimeout)
	registry.Register(httpSource)
	registry.RegisterAs("https", httpSource)
	registry.Register(NewFileSource())
	registry.Register(NewS3Source(cfg.S3))
	registry.Register(NewSFTPSource(cfg.SFTP))
	return registry
}

// Register adds source under its own scheme.
func (r *Registry) Register(source Source) {
	r.RegisterAs(source.Scheme(), source)
}

// RegisterAs adds source under scheme.
func (r *Registry) RegisterAs(scheme string, source Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[strings.ToLower(scheme)] = source
}

// SourceFor returns the source registered for scheme.
func (r *Registry) SourceFor(scheme string) (Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	source, ok := r.sources[strings.ToLower(scheme)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}
	return source, nil
}

// HTTPSource downloads over http and https.
type HTTPSource struct {
	client *http.Client
}

// NewHTTPSource creates an HTTP source. A zero timeout leaves requests
// bounded only by the caller's context.
func NewHTTPSource(timeout time.Duration) *HTTPSource {
	return &HTTPSource{client: &http.Client{Timeout: timeout}}
}

func (s *HTTPSource) Scheme() string {
	return "http"
}

func (s *HTTPSource) Open(ctx context.Context, location *url.URL) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location.String(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to download %s: %w", location.Redacted(), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("failed to download %s: unexpected status %s", location.Redacted(), resp.Status)
	}

	return resp.Body, resp.ContentLength, nil
}

// FileSource copies from the local filesystem.
type FileSource struct{}

func NewFileSource() *FileSource {
	return &FileSource{}
}

func (s *FileSource) Scheme() string {
	return "file"
}

func (s *FileSource) Open(ctx context.Context, location *url.URL) (io.ReadCloser, int64, error) {
	path := location.Path
	if path == "" {
		path = location.Opaque
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open source file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("failed to stat source file: %w", err)
	}
	if info.IsDir() {
		file.Close()
		return nil, 0, fmt.Errorf("source %s is a directory", path)
	}
	return file, info.Size(), nil
}
