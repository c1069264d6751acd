package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

const (
	// StatusPacketID is the packet id shared by the handshake, the status
	// request and the status response.
	StatusPacketID = 0x00

	// NextStateStatus asks the server to switch to the status state after the
	// handshake.
	NextStateStatus = 1

	// MaxAddressLength is the longest server address accepted in a handshake.
	MaxAddressLength = 255

	// MaxStatusResponse bounds the response frame so a misbehaving peer cannot
	// make the client allocate without limit.
	MaxStatusResponse = 2 << 20
)

// ErrUnexpectedPacket is returned when a response carries a packet id other
// than the one requested.
var ErrUnexpectedPacket = errors.New("unexpected packet id")

// EncodeStatusHandshake builds the handshake frame followed by the empty status
// request frame:
//
//	[len][0x00][VarInt protocolVersion][VarInt len][address][port u16 BE][VarInt 1]
//	[0x01][0x00]
func EncodeStatusHandshake(address string, port uint16, protocolVersion int32) (Packet, error) {
	if !utf8.ValidString(address) {
		return Packet{}, encodingErrorf("address", "not valid UTF-8")
	}
	if len(address) > MaxAddressLength {
		return Packet{}, encodingErrorf("address", "%d bytes exceeds limit of %d", len(address), MaxAddressLength)
	}

	body := &builder{}
	body.writeByte(StatusPacketID).
		writeVarInt(protocolVersion).
		writeVarInt(int32(len(address))).
		writeBytes([]byte(address)).
		writeUint16BE(port).
		writeVarInt(NextStateStatus)

	frame := &builder{}
	frame.writeVarInt(int32(body.len())).writeBytes(body.bytes())

	// Status request: length 1, packet id 0, no payload.
	frame.writeVarInt(1).writeByte(StatusPacketID)

	return newPacket(fmt.Sprintf("StatusHandshake(%s:%d,pv=%d)", address, port, protocolVersion), frame.bytes()), nil
}

// ReadStatusResponse reads one status response frame from r and returns its
// JSON document: [VarInt len][VarInt 0x00][VarInt jsonLen][json].
func ReadStatusResponse(r io.Reader) ([]byte, error) {
	br, ok := r.(io.ByteReader)
	if !ok {
		buffered := bufio.NewReader(r)
		br = buffered
		r = buffered
	}

	length, err := ReadVarInt(br)
	if err != nil {
		return nil, fmt.Errorf("read frame length: %w", err)
	}
	if length <= 0 || length > MaxStatusResponse {
		return nil, fmt.Errorf("invalid frame length %d", length)
	}

	frame := make([]byte, length)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}

	payload := bytes.NewReader(frame)
	packetID, err := ReadVarInt(payload)
	if err != nil {
		return nil, fmt.Errorf("read packet id: %w", err)
	}
	if packetID != StatusPacketID {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnexpectedPacket, packetID)
	}

	jsonLen, err := ReadVarInt(payload)
	if err != nil {
		return nil, fmt.Errorf("read payload length: %w", err)
	}
	if jsonLen < 0 || int(jsonLen) > payload.Len() {
		return nil, fmt.Errorf("payload length %d exceeds frame", jsonLen)
	}

	document := make([]byte, jsonLen)
	if _, err := io.ReadFull(payload, document); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return document, nil
}

// EncodeStatusResponse frames a JSON status document the way a server sends it.
func EncodeStatusResponse(document []byte) Packet {
	body := &builder{}
	body.writeByte(StatusPacketID).
		writeVarInt(int32(len(document))).
		writeBytes(document)

	frame := &builder{}
	frame.writeVarInt(int32(body.len())).writeBytes(body.bytes())
	return newPacket("StatusResponse", frame.bytes())
}
