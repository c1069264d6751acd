// Package ssh dials SSH servers for remote file transfer, verifying host
// keys against a known_hosts file.
package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jannetahkola/mc-server-manager/internal/logging"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// ErrUnknownHostKey is returned for hosts missing from known_hosts when trust
// on first use is disabled.
var ErrUnknownHostKey = errors.New("unknown SSH host key")

// ErrHostKeyChanged is returned when a host presents a key other than the
// one recorded for it.
var ErrHostKeyChanged = errors.New("SSH host key changed")

// knownHostsMu serializes appends to known_hosts files within the process.
var knownHostsMu sync.Mutex

// NewHostKeyCallback verifies host keys against knownHostsPath. With
// trustOnFirstUse, keys of hosts not yet listed are recorded and accepted.
// An empty path disables verification.
func NewHostKeyCallback(knownHostsPath string, trustOnFirstUse bool) (ssh.HostKeyCallback, error) {
	if strings.TrimSpace(knownHostsPath) == "" {
		logging.L().Warn("ssh_host_key_verification_disabled")
		return ssh.InsecureIgnoreHostKey(), nil
	}

	if err := ensureKnownHostsFile(knownHostsPath); err != nil {
		return nil, err
	}

	verify, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read known_hosts: %w", err)
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := verify(hostname, remote, key)
		if err == nil {
			return nil
		}

		var keyErr *knownhosts.KeyError
		if !errors.As(err, &keyErr) {
			return err
		}

		fingerprint := ssh.FingerprintSHA256(key)
		if len(keyErr.Want) > 0 {
			logging.L().Warn("ssh_host_key_changed", "host", hostname, "fingerprint", fingerprint)
			return fmt.Errorf("%w for %s", ErrHostKeyChanged, hostname)
		}

		if !trustOnFirstUse {
			return fmt.Errorf("%w for %s", ErrUnknownHostKey, hostname)
		}

		if err := appendKnownHost(knownHostsPath, knownHostsEntries(hostname, remote), key); err != nil {
			return err
		}
		logging.L().Info("ssh_host_key_accepted", "host", hostname, "fingerprint", fingerprint)
		return nil
	}, nil
}

func ensureKnownHostsFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create known_hosts directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create known_hosts file: %w", err)
	}
	return file.Close()
}

func appendKnownHost(path string, hosts []string, key ssh.PublicKey) error {
	knownHostsMu.Lock()
	defer knownHostsMu.Unlock()

	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open known_hosts file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(knownhosts.Line(hosts, key) + "\n"); err != nil {
		return fmt.Errorf("failed to write known_hosts entry: %w", err)
	}
	return nil
}

// knownHostsEntries lists the names a host is recorded under: the dialed
// name and, when different, the remote address.
func knownHostsEntries(hostname string, remote net.Addr) []string {
	remoteHost, remotePort := "", ""
	if remote != nil {
		var err error
		if remoteHost, remotePort, err = net.SplitHostPort(remote.String()); err != nil {
			remoteHost = remote.String()
		}
	}

	var entries []string
	if hostname != "" {
		entries = append(entries, knownhosts.Normalize(hostname))
	}
	if remoteHost != "" {
		address := remoteHost
		if remotePort != "" {
			address = net.JoinHostPort(remoteHost, remotePort)
		}
		if normalized := knownhosts.Normalize(address); len(entries) == 0 || normalized != entries[0] {
			entries = append(entries, normalized)
		}
	}
	return entries
}
