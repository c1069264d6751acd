package gameclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jannetahkola/mc-server-manager/internal/protocol"
)

// fakeStatusServer answers one status ping per connection with document and
// records the raw request bytes.
type fakeStatusServer struct {
	listener net.Listener
	document string

	mu       sync.Mutex
	requests [][]byte
}

func startStatusServer(t *testing.T, document string) *fakeStatusServer {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	s := &fakeStatusServer{listener: listener, document: document}
	t.Cleanup(func() { listener.Close() })
	go s.serve()
	return s
}

func (s *fakeStatusServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *fakeStatusServer) handle(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)

	var raw bytes.Buffer
	for frame := 0; frame < 2; frame++ {
		length, err := protocol.ReadVarInt(reader)
		if err != nil {
			return
		}
		body := make([]byte, length)
		if _, err := io.ReadFull(reader, body); err != nil {
			return
		}
		raw.Write(protocol.AppendVarInt(nil, length))
		raw.Write(body)
	}

	s.mu.Lock()
	s.requests = append(s.requests, raw.Bytes())
	s.mu.Unlock()

	conn.Write(protocol.EncodeStatusResponse([]byte(s.document)).Bytes())
}

func (s *fakeStatusServer) port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

func TestStatusQueryParsesObjectVersion(t *testing.T) {
	server := startStatusServer(t, `{
		"version": {"name": "1.20.4", "protocol": 765},
		"players": {"max": 20, "online": 2, "sample": [{"name": "steve", "id": "069a79f4-44e9-4726-a5be-fca90e38aaf5"}]},
		"description": {"text": "Hello ", "extra": [{"text": "world"}, "!"]},
		"favicon": "data:image/png;base64,AAAA"
	}`)

	client := NewStatusClient(StatusConfig{Host: "127.0.0.1", Port: server.port(), ProtocolVersion: 765, Timeout: 2 * time.Second})
	status := client.Query(context.Background())

	if !status.Online {
		t.Fatalf("expected server to be online")
	}
	if status.Version != "1.20.4" || status.ProtocolVersion != 765 {
		t.Fatalf("unexpected version: %s (%d)", status.Version, status.ProtocolVersion)
	}
	if status.Players.Max != 20 || status.Players.Online != 2 || len(status.Players.Sample) != 1 {
		t.Fatalf("unexpected players: %+v", status.Players)
	}
	if status.Description != "Hello world!" || status.MOTD != "Hello world!" {
		t.Fatalf("unexpected description: %q", status.Description)
	}
	if status.Favicon == "" || status.Host != "127.0.0.1" || status.Port != server.port() {
		t.Fatalf("unexpected response: %+v", status)
	}

	expected, err := protocol.EncodeStatusHandshake("127.0.0.1", uint16(server.port()), 765)
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}
	server.mu.Lock()
	defer server.mu.Unlock()
	if len(server.requests) != 1 || !bytes.Equal(server.requests[0], expected.Bytes()) {
		t.Fatalf("server received unexpected request bytes: %v", server.requests)
	}
}

func TestStatusQueryParsesStringVersion(t *testing.T) {
	server := startStatusServer(t, `{"version":"1.8.9","players":{"max":10,"online":0},"description":"A Minecraft Server"}`)

	client := NewStatusClient(StatusConfig{Host: "127.0.0.1", Port: server.port()})
	status := client.Query(context.Background())

	if !status.Online || status.Version != "1.8.9" {
		t.Fatalf("unexpected status: %+v", status)
	}
	if status.MOTD != "A Minecraft Server" {
		t.Fatalf("unexpected motd: %q", status.MOTD)
	}
	if !client.Online(context.Background()) {
		t.Fatalf("expected Online to report true")
	}
}

func TestStatusQueryOfflineWhenUnreachable(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	client := NewStatusClient(StatusConfig{Host: "127.0.0.1", Port: port, Timeout: 500 * time.Millisecond})
	status := client.Query(context.Background())
	if status.Online {
		t.Fatalf("expected offline status")
	}
	if status.Host != "127.0.0.1" || status.Port != port {
		t.Fatalf("offline response should still carry the address: %+v", status)
	}
}

func TestStatusQueryOfflineOnMalformedPayload(t *testing.T) {
	server := startStatusServer(t, `{"version": [1, 2]}`)

	client := NewStatusClient(StatusConfig{Host: "127.0.0.1", Port: server.port(), Timeout: time.Second})
	if status := client.Query(context.Background()); status.Online {
		t.Fatalf("expected offline status for malformed payload")
	}
}

func TestStatusResponseJSONShape(t *testing.T) {
	data, err := json.Marshal(&GameStatusResponse{Online: false, Host: "localhost", Port: 25565})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"online":false`) {
		t.Fatalf("online flag missing from %s", data)
	}
}

// fakeConsoleServer accepts console logins with password and answers each
// command with "ran: <command>".
type fakeConsoleServer struct {
	listener net.Listener
	password string

	mu         sync.Mutex
	commandIDs []int32
}

func startConsoleServer(t *testing.T, password string) *fakeConsoleServer {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	s := &fakeConsoleServer{listener: listener, password: password}
	t.Cleanup(func() { listener.Close() })
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go s.handle(conn)
		}
	}()
	return s
}

func (s *fakeConsoleServer) handle(conn net.Conn) {
	defer conn.Close()

	login, err := protocol.ReadConsoleResponse(conn)
	if err != nil || login.Type != protocol.ConsoleTypeLogin {
		return
	}
	if login.Body != s.password {
		conn.Write(protocol.EncodeConsoleResponse(protocol.AuthFailedRequestID, protocol.ConsoleTypeAuthResponse, "").Bytes())
		return
	}
	conn.Write(protocol.EncodeConsoleResponse(login.RequestID, protocol.ConsoleTypeAuthResponse, "").Bytes())

	for {
		command, err := protocol.ReadConsoleResponse(conn)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.commandIDs = append(s.commandIDs, command.RequestID)
		s.mu.Unlock()
		conn.Write(protocol.EncodeConsoleResponse(command.RequestID, protocol.ConsoleTypeResponse, "ran: "+command.Body).Bytes())
	}
}

func (s *fakeConsoleServer) port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

func TestConsoleExecute(t *testing.T) {
	server := startConsoleServer(t, "password")
	client := NewConsoleClient(ConsoleConfig{Host: "127.0.0.1", Port: server.port(), Password: "password", Timeout: 2 * time.Second})

	responses, err := client.Execute(context.Background(), "time set 0", "list")
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if len(responses) != 2 || responses[0] != "ran: time set 0" || responses[1] != "ran: list" {
		t.Fatalf("unexpected responses: %v", responses)
	}

	server.mu.Lock()
	defer server.mu.Unlock()
	if len(server.commandIDs) != 2 || server.commandIDs[0] != 1 || server.commandIDs[1] != 2 {
		t.Fatalf("unexpected request ids: %v", server.commandIDs)
	}
}

func TestConsoleLoginRejected(t *testing.T) {
	server := startConsoleServer(t, "password")
	client := NewConsoleClient(ConsoleConfig{Host: "127.0.0.1", Port: server.port(), Password: "wrong", Timeout: 2 * time.Second})

	_, err := client.Open(context.Background())
	var authErr *ConsoleAuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected ConsoleAuthError, got %v", err)
	}
}

func TestConsoleLoginRequiresAuthResponseType(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer listener.Close()

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		login, err := protocol.ReadConsoleResponse(conn)
		if err != nil {
			return
		}
		// Two plain response frames carrying the login id, never an auth result.
		conn.Write(protocol.EncodeConsoleResponse(login.RequestID, protocol.ConsoleTypeResponse, "").Bytes())
		conn.Write(protocol.EncodeConsoleResponse(login.RequestID, protocol.ConsoleTypeResponse, "").Bytes())
		io.Copy(io.Discard, conn)
	}()

	port := listener.Addr().(*net.TCPAddr).Port
	client := NewConsoleClient(ConsoleConfig{Host: "127.0.0.1", Port: port, Password: "password", Timeout: 2 * time.Second})
	session, err := client.Open(context.Background())
	if err == nil {
		session.Close()
		t.Fatalf("expected login to fail without an auth response")
	}
	if !strings.Contains(err.Error(), "unexpected login response type") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestConsoleEncodingErrorBeforeConnecting(t *testing.T) {
	client := NewConsoleClient(ConsoleConfig{Host: "127.0.0.1", Port: 1, Password: "pässword"})

	_, err := client.Open(context.Background())
	var encErr *protocol.EncodingError
	if !errors.As(err, &encErr) {
		t.Fatalf("expected EncodingError before any I/O, got %v", err)
	}
}

func TestConsoleExecRejectsNonASCIICommand(t *testing.T) {
	server := startConsoleServer(t, "password")
	client := NewConsoleClient(ConsoleConfig{Host: "127.0.0.1", Port: server.port(), Password: "password", Timeout: 2 * time.Second})

	session, err := client.Open(context.Background())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer session.Close()

	var encErr *protocol.EncodingError
	if _, err := session.Exec("say héllo"); !errors.As(err, &encErr) {
		t.Fatalf("expected EncodingError, got %v", err)
	}
	if response, err := session.Exec("list"); err != nil || response != "ran: list" {
		t.Fatalf("session should stay usable after a rejected command: %q %v", response, err)
	}
}

func TestConsoleExecuteValidatesCommandsBeforeConnecting(t *testing.T) {
	client := NewConsoleClient(ConsoleConfig{Host: "127.0.0.1", Port: 1, Password: "password"})

	_, err := client.Execute(context.Background(), "list", "say héllo")
	var encErr *protocol.EncodingError
	if !errors.As(err, &encErr) {
		t.Fatalf("expected EncodingError before any I/O, got %v", err)
	}
}
