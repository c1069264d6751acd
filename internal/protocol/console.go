package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Console packet types.
const (
	ConsoleTypeResponse     int32 = 0
	ConsoleTypeCommand      int32 = 2
	ConsoleTypeAuthResponse int32 = 2
	ConsoleTypeLogin        int32 = 3
)

const (
	// LoginRequestID is the request id carried by every login packet.
	LoginRequestID int32 = 0

	// AuthFailedRequestID is echoed back by the server when the password is
	// rejected.
	AuthFailedRequestID int32 = -1

	// MaxConsolePayload is the largest command or password the server accepts.
	MaxConsolePayload = 1446

	// MaxConsoleFrame bounds a response frame: id, type, 4096 bytes of body and
	// the terminators.
	MaxConsoleFrame = 4 + 4 + 4096 + 2

	minConsoleFrame = 4 + 4 + 1
)

// ConsoleResponse is a decoded console frame.
type ConsoleResponse struct {
	RequestID int32
	Type      int32
	Body      string
}

// EncodeLogin builds the login packet:
//
//	[len i32 LE][id i32 LE = 0][type i32 LE = 3][password][0x00]
func EncodeLogin(password string) (Packet, error) {
	frame, err := encodeConsoleFrame("password", LoginRequestID, ConsoleTypeLogin, password)
	if err != nil {
		return Packet{}, err
	}
	return newPacket("ConsoleLogin", frame), nil
}

// EncodeCommand builds a command packet with the given request id:
//
//	[len i32 LE][id i32 LE][type i32 LE = 2][command][0x00]
func EncodeCommand(requestID int32, command string) (Packet, error) {
	frame, err := encodeConsoleFrame("command", requestID, ConsoleTypeCommand, command)
	if err != nil {
		return Packet{}, err
	}
	return newPacket(fmt.Sprintf("ConsoleCommand(id=%d)", requestID), frame), nil
}

func encodeConsoleFrame(field string, requestID, packetType int32, payload string) ([]byte, error) {
	if len(payload) > MaxConsolePayload {
		return nil, encodingErrorf(field, "%d bytes exceeds limit of %d", len(payload), MaxConsolePayload)
	}
	for i := 0; i < len(payload); i++ {
		c := payload[i]
		if c >= 0x80 {
			return nil, encodingErrorf(field, "non-ASCII byte 0x%02x at offset %d", c, i)
		}
		if c == 0 {
			return nil, encodingErrorf(field, "NUL byte at offset %d", i)
		}
	}

	b := &builder{}
	b.writeInt32LE(int32(4 + 4 + len(payload) + 1)).
		writeInt32LE(requestID).
		writeInt32LE(packetType).
		writeBytes([]byte(payload)).
		writeByte(0)
	return b.bytes(), nil
}

// ReadConsoleResponse reads one console frame from r. Trailing terminator
// bytes are stripped from the body.
func ReadConsoleResponse(r io.Reader) (*ConsoleResponse, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read frame length: %w", err)
	}

	length := int32(binary.LittleEndian.Uint32(header[:]))
	if length < minConsoleFrame || length > MaxConsoleFrame {
		return nil, fmt.Errorf("invalid frame length %d", length)
	}

	frame := make([]byte, length)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}

	return &ConsoleResponse{
		RequestID: int32(binary.LittleEndian.Uint32(frame[0:4])),
		Type:      int32(binary.LittleEndian.Uint32(frame[4:8])),
		Body:      string(bytes.TrimRight(frame[8:], "\x00")),
	}, nil
}

// EncodeConsoleResponse frames a server reply. Servers terminate the body and
// the packet with one zero byte each.
func EncodeConsoleResponse(requestID, packetType int32, body string) Packet {
	b := &builder{}
	b.writeInt32LE(int32(4 + 4 + len(body) + 2)).
		writeInt32LE(requestID).
		writeInt32LE(packetType).
		writeBytes([]byte(body)).
		writeByte(0).
		writeByte(0)
	return newPacket("ConsoleResponse", b.bytes())
}
