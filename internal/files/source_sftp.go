package files

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/sftp"
	gossh "golang.org/x/crypto/ssh"

	"github.com/jannetahkola/mc-server-manager/internal/ssh"
)

// SFTPConfig holds credentials for sftp:// downloads. A user in the URI
// overrides Username.
type SFTPConfig struct {
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	KeyPath         string        `yaml:"key_path"`
	Passphrase      string        `yaml:"passphrase"`
	KnownHostsPath  string        `yaml:"known_hosts_path"`
	TrustOnFirstUse bool          `yaml:"trust_on_first_use"`
	Timeout         time.Duration `yaml:"timeout"`
}

// SFTPSource downloads sftp://[user@]host[:port]/path files.
type SFTPSource struct {
	config SFTPConfig
}

func NewSFTPSource(config SFTPConfig) *SFTPSource {
	return &SFTPSource{config: config}
}

func (s *SFTPSource) Scheme() string {
	return "sftp"
}

// clientConfig merges the URI's host, port and user into the configured
// credentials.
func (s *SFTPSource) clientConfig(location *url.URL) (*ssh.ClientConfig, string, error) {
	host := location.Hostname()
	if host == "" {
		return nil, "", fmt.Errorf("sftp location must include a host, got %s", location.Redacted())
	}
	if location.Path == "" || location.Path == "/" {
		return nil, "", fmt.Errorf("sftp location must include a file path, got %s", location.Redacted())
	}

	port := ssh.DefaultPort
	if raw := location.Port(); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 65535 {
			return nil, "", fmt.Errorf("invalid sftp port %q", raw)
		}
		port = parsed
	}

	cfg := &ssh.ClientConfig{
		Host:            host,
		Port:            port,
		Username:        s.config.Username,
		KeyPath:         s.config.KeyPath,
		Passphrase:      s.config.Passphrase,
		Password:        s.config.Password,
		Timeout:         s.config.Timeout,
		KnownHostsPath:  s.config.KnownHostsPath,
		TrustOnFirstUse: s.config.TrustOnFirstUse,
	}
	if location.User != nil {
		if name := location.User.Username(); name != "" {
			cfg.Username = name
		}
		if password, ok := location.User.Password(); ok {
			cfg.Password = password
			cfg.KeyPath = ""
		}
	}
	if cfg.Username == "" {
		return nil, "", fmt.Errorf("sftp username is required")
	}
	return cfg, location.Path, nil
}

func (s *SFTPSource) Open(ctx context.Context, location *url.URL) (io.ReadCloser, int64, error) {
	cfg, remotePath, err := s.clientConfig(location)
	if err != nil {
		return nil, 0, err
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	sshClient, err := ssh.Dial(cfg)
	if err != nil {
		return nil, 0, err
	}

	sftpClient, err := sftp.NewClient(sshClient,
		sftp.MaxPacketUnchecked(131072),
		sftp.UseConcurrentReads(true),
	)
	if err != nil {
		sshClient.Close()
		return nil, 0, fmt.Errorf("failed to create SFTP client: %w", err)
	}

	file, err := sftpClient.Open(remotePath)
	if err != nil {
		sftpClient.Close()
		sshClient.Close()
		return nil, 0, fmt.Errorf("failed to open remote file %s: %w", remotePath, err)
	}

	size := int64(-1)
	if info, err := file.Stat(); err == nil {
		size = info.Size()
	}

	log.Printf("[SFTPSource] Downloading %s from %s:%d", remotePath, cfg.Host, cfg.Port)

	body := &sftpBody{file: file, sftpClient: sftpClient, sshClient: sshClient}
	// Unblock reads when the caller gives up.
	context.AfterFunc(ctx, func() { body.Close() })
	return body, size, nil
}

// sftpBody closes the remote file and both connections together.
type sftpBody struct {
	file       *sftp.File
	sftpClient *sftp.Client
	sshClient  *gossh.Client

	once     sync.Once
	closeErr error
}

func (b *sftpBody) Read(p []byte) (int, error) {
	return b.file.Read(p)
}

func (b *sftpBody) Close() error {
	b.once.Do(func() {
		b.closeErr = b.file.Close()
		b.sftpClient.Close()
		b.sshClient.Close()
	})
	return b.closeErr
}
