package ssh

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
)

const (
	DefaultPort    = 22
	defaultTimeout = 30 * time.Second
)

// ErrNoAuthMethod is returned when neither a key nor a password is set.
var ErrNoAuthMethod = errors.New("no SSH authentication method configured")

// ClientConfig holds SSH connection settings. A key takes precedence over a
// password.
type ClientConfig struct {
	Host            string
	Port            int
	Username        string
	KeyPath         string
	Passphrase      string
	Password        string
	Timeout         time.Duration
	KnownHostsPath  string
	TrustOnFirstUse bool
}

// AuthMethods builds the authentication methods for config.
func AuthMethods(config *ClientConfig) ([]ssh.AuthMethod, error) {
	if config.KeyPath != "" {
		signer, err := ReadPrivateKey(config.KeyPath, config.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("failed to load private key: %w", err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	if config.Password != "" {
		return []ssh.AuthMethod{ssh.Password(config.Password)}, nil
	}
	return nil, ErrNoAuthMethod
}

// Dial opens an authenticated SSH connection.
func Dial(config *ClientConfig) (*ssh.Client, error) {
	auth, err := AuthMethods(config)
	if err != nil {
		return nil, err
	}

	hostKeyCallback, err := NewHostKeyCallback(config.KnownHostsPath, config.TrustOnFirstUse)
	if err != nil {
		return nil, fmt.Errorf("failed to configure host key verification: %w", err)
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	port := config.Port
	if port == 0 {
		port = DefaultPort
	}

	sshConfig := &ssh.ClientConfig{
		User:            config.Username,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}

	address := net.JoinHostPort(config.Host, strconv.Itoa(port))
	client, err := ssh.Dial("tcp", address, sshConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to dial SSH %s: %w", address, err)
	}
	return client, nil
}
