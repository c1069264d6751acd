// Package gameclient talks to the managed game server over its network
// protocols: the status ping and the remote console.
package gameclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/jannetahkola/mc-server-manager/internal/logging"
	"github.com/jannetahkola/mc-server-manager/internal/protocol"
)

const (
	DefaultStatusPort      = 25565
	DefaultProtocolVersion = 754
	defaultTimeout         = 5 * time.Second
)

// StatusConfig locates the status endpoint.
type StatusConfig struct {
	Host            string
	Port            int
	ProtocolVersion int32
	Timeout         time.Duration
}

// Players holds the player counts reported by the server.
type Players struct {
	Max    int            `json:"max"`
	Online int            `json:"online"`
	Sample []PlayerSample `json:"sample,omitempty"`
}

// PlayerSample is one entry of the optional player list.
type PlayerSample struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// GameStatusResponse is the result of one status query. Online is false when
// the query could not be completed.
type GameStatusResponse struct {
	Online          bool    `json:"online"`
	Version         string  `json:"version,omitempty"`
	ProtocolVersion int32   `json:"protocol_version,omitempty"`
	Players         Players `json:"players"`
	Description     string  `json:"description,omitempty"`
	MOTD            string  `json:"motd,omitempty"`
	Favicon         string  `json:"favicon,omitempty"`
	Host            string  `json:"host"`
	Port            int     `json:"port"`
	LatencyMillis   int64   `json:"latency_ms,omitempty"`
}

// statusDocument is the JSON payload of a status response.
type statusDocument struct {
	Version     versionField     `json:"version"`
	Players     Players          `json:"players"`
	Description descriptionField `json:"description"`
	Favicon     string           `json:"favicon"`
}

// versionField accepts both "1.20.4" and {"name":"1.20.4","protocol":765}.
type versionField struct {
	Name     string
	Protocol int32
}

func (v *versionField) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		return json.Unmarshal(data, &v.Name)
	}

	var object struct {
		Name     string `json:"name"`
		Protocol int32  `json:"protocol"`
	}
	if err := json.Unmarshal(data, &object); err != nil {
		return fmt.Errorf("version: %w", err)
	}
	v.Name = object.Name
	v.Protocol = object.Protocol
	return nil
}

// descriptionField accepts a plain string or a text component. Text of
// nested extra components is appended in order.
type descriptionField struct {
	Text string
}

type textComponent struct {
	Text  string            `json:"text"`
	Extra []json.RawMessage `json:"extra"`
}

func (d *descriptionField) UnmarshalJSON(data []byte) error {
	text, err := componentText(data)
	if err != nil {
		return fmt.Errorf("description: %w", err)
	}
	d.Text = text
	return nil
}

func componentText(data []byte) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return "", nil
	}
	if data[0] == '"' {
		var text string
		err := json.Unmarshal(data, &text)
		return text, err
	}

	var component textComponent
	if err := json.Unmarshal(data, &component); err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(component.Text)
	for _, extra := range component.Extra {
		text, err := componentText(extra)
		if err != nil {
			return "", err
		}
		b.WriteString(text)
	}
	return b.String(), nil
}

// StatusClient queries the server status. Every query opens a new
// connection.
type StatusClient struct {
	cfg StatusConfig
}

// NewStatusClient creates a status client, filling unset fields with
// defaults.
func NewStatusClient(cfg StatusConfig) *StatusClient {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultStatusPort
	}
	if cfg.ProtocolVersion == 0 {
		cfg.ProtocolVersion = DefaultProtocolVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &StatusClient{cfg: cfg}
}

// Query performs a status ping. Failures are reported through Online=false
// and never returned as errors.
func (c *StatusClient) Query(ctx context.Context) *GameStatusResponse {
	response := &GameStatusResponse{
		Online: true,
		Host:   c.cfg.Host,
		Port:   c.cfg.Port,
	}

	started := time.Now()
	document, err := c.fetch(ctx)
	if err != nil {
		logging.L().Debug("status_query_failed", "host", c.cfg.Host, "port", c.cfg.Port, "error", err)
		response.Online = false
		return response
	}

	response.LatencyMillis = time.Since(started).Milliseconds()
	response.Version = document.Version.Name
	response.ProtocolVersion = document.Version.Protocol
	response.Players = document.Players
	response.Description = document.Description.Text
	response.MOTD = document.Description.Text
	response.Favicon = document.Favicon
	return response
}

// Online reports whether a status query currently succeeds.
func (c *StatusClient) Online(ctx context.Context) bool {
	return c.Query(ctx).Online
}

func (c *StatusClient) fetch(ctx context.Context) (*statusDocument, error) {
	if c.cfg.Port <= 0 || c.cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", c.cfg.Port)
	}
	request, err := protocol.EncodeStatusHandshake(c.cfg.Host, uint16(c.cfg.Port), c.cfg.ProtocolVersion)
	if err != nil {
		return nil, err
	}

	conn, err := dial(ctx, c.cfg.Host, c.cfg.Port, c.cfg.Timeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if _, err := conn.Write(request.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to send status request: %w", err)
	}

	payload, err := protocol.ReadStatusResponse(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to read status response: %w", err)
	}

	var document statusDocument
	if err := json.Unmarshal(payload, &document); err != nil {
		return nil, fmt.Errorf("failed to parse status response: %w", err)
	}
	return &document, nil
}

// dial opens a TCP connection whose every read and write is bounded by the
// timeout or the context deadline, whichever comes first.
func dial(ctx context.Context, host string, port int, timeout time.Duration) (net.Conn, error) {
	dialer := net.Dialer{Timeout: timeout}
	address := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}
