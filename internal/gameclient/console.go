package gameclient

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/jannetahkola/mc-server-manager/internal/protocol"
)

const DefaultConsolePort = 25575

// ConsoleConfig locates the remote console endpoint.
type ConsoleConfig struct {
	Host     string
	Port     int
	Password string
	Timeout  time.Duration
}

// ConsoleAuthError is returned when the server rejects the console password.
type ConsoleAuthError struct {
	Address string
}

func (e *ConsoleAuthError) Error() string {
	return fmt.Sprintf("console login rejected by %s", e.Address)
}

// ConsoleClient opens console sessions against the game server.
type ConsoleClient struct {
	cfg ConsoleConfig
}

// NewConsoleClient creates a console client, filling unset fields with
// defaults.
func NewConsoleClient(cfg ConsoleConfig) *ConsoleClient {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultConsolePort
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &ConsoleClient{cfg: cfg}
}

// ConsoleSession is an authenticated console connection. Exec calls are
// serialized.
type ConsoleSession struct {
	conn    net.Conn
	timeout time.Duration

	mu     sync.Mutex
	nextID int32
}

// Open connects and logs in. A rejected password closes the connection and
// returns *ConsoleAuthError.
func (c *ConsoleClient) Open(ctx context.Context) (*ConsoleSession, error) {
	login, err := protocol.EncodeLogin(c.cfg.Password)
	if err != nil {
		return nil, err
	}

	conn, err := dial(ctx, c.cfg.Host, c.cfg.Port, c.cfg.Timeout)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Write(login.Bytes()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send console login: %w", err)
	}

	ack, err := protocol.ReadConsoleResponse(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read console login response: %w", err)
	}
	// Some servers send an empty response frame ahead of the auth result.
	if ack.Type == protocol.ConsoleTypeResponse && ack.RequestID != protocol.AuthFailedRequestID {
		if ack, err = protocol.ReadConsoleResponse(conn); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to read console login response: %w", err)
		}
	}

	address := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	if ack.RequestID == protocol.AuthFailedRequestID {
		conn.Close()
		log.Printf("[Console] Login rejected by %s", address)
		return nil, &ConsoleAuthError{Address: address}
	}
	if ack.RequestID != protocol.LoginRequestID {
		conn.Close()
		return nil, fmt.Errorf("unexpected login response id %d", ack.RequestID)
	}
	if ack.Type != protocol.ConsoleTypeAuthResponse {
		conn.Close()
		return nil, fmt.Errorf("unexpected login response type %d", ack.Type)
	}

	return &ConsoleSession{
		conn:    conn,
		timeout: c.cfg.Timeout,
		nextID:  1,
	}, nil
}

// Execute opens a session, runs each command in order and closes the
// session. It returns the responses received before any failure. Commands
// that cannot be encoded are rejected before connecting.
func (c *ConsoleClient) Execute(ctx context.Context, commands ...string) ([]string, error) {
	for _, command := range commands {
		if _, err := protocol.EncodeCommand(0, command); err != nil {
			return nil, err
		}
	}

	session, err := c.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	responses := make([]string, 0, len(commands))
	for _, command := range commands {
		response, err := session.Exec(command)
		if err != nil {
			return responses, err
		}
		responses = append(responses, response)
	}
	return responses, nil
}

// Exec sends one command and returns the server's reply.
func (s *ConsoleSession) Exec(command string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	requestID := s.nextID
	packet, err := protocol.EncodeCommand(requestID, command)
	if err != nil {
		return "", err
	}
	s.nextID++

	if err := s.conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		return "", err
	}
	if _, err := s.conn.Write(packet.Bytes()); err != nil {
		return "", fmt.Errorf("failed to send console command: %w", err)
	}

	response, err := protocol.ReadConsoleResponse(s.conn)
	if err != nil {
		return "", fmt.Errorf("failed to read console response: %w", err)
	}
	if response.RequestID != requestID {
		return "", fmt.Errorf("console response id %d does not match request %d", response.RequestID, requestID)
	}
	return response.Body, nil
}

// Close ends the session.
func (s *ConsoleSession) Close() error {
	return s.conn.Close()
}
