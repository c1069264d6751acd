// Package protocol encodes and decodes the two wire formats spoken by a
// Minecraft-compatible server: the VarInt based status ping and the fixed-width
// remote console protocol.
package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// Packet is an immutable encoded payload ready to be written to a socket.
type Packet struct {
	data  []byte
	label string
}

func newPacket(label string, data []byte) Packet {
	owned := make([]byte, len(data))
	copy(owned, data)
	return Packet{data: owned, label: label}
}

// Bytes returns a copy of the encoded payload.
func (p Packet) Bytes() []byte {
	out := make([]byte, len(p.data))
	copy(out, p.data)
	return out
}

// Len returns the encoded size in bytes.
func (p Packet) Len() int {
	return len(p.data)
}

// String renders the packet as its label followed by the signed byte values,
// which is how the payloads are usually compared against captured traffic.
func (p Packet) String() string {
	parts := make([]string, len(p.data))
	for i, b := range p.data {
		parts[i] = fmt.Sprintf("%d", int8(b))
	}
	return fmt.Sprintf("%s[%d bytes]: %s", p.label, len(p.data), strings.Join(parts, ","))
}

// builder accumulates packet bytes.
type builder struct {
	buf bytes.Buffer
}

func (b *builder) writeByte(v byte) *builder {
	b.buf.WriteByte(v)
	return b
}

func (b *builder) writeVarInt(v int32) *builder {
	b.buf.Write(AppendVarInt(nil, v))
	return b
}

func (b *builder) writeUint16BE(v uint16) *builder {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	b.buf.Write(tmp[:])
	return b
}

func (b *builder) writeInt32LE(v int32) *builder {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(v))
	b.buf.Write(tmp[:])
	return b
}

func (b *builder) writeBytes(data []byte) *builder {
	b.buf.Write(data)
	return b
}

func (b *builder) bytes() []byte {
	return b.buf.Bytes()
}

func (b *builder) len() int {
	return b.buf.Len()
}
