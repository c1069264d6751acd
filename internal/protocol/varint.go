package protocol

import (
	"errors"
	"io"
)

// maxVarIntBytes is the longest encoding of a 32-bit VarInt.
const maxVarIntBytes = 5

// ErrVarIntTooLong is returned when a VarInt runs past five bytes.
var ErrVarIntTooLong = errors.New("varint is too long")

// AppendVarInt appends the VarInt encoding of v to dst: seven payload bits per
// byte, least significant group first, high bit set on every byte but the last.
// Negative values are encoded by their two's complement and take five bytes.
func AppendVarInt(dst []byte, v int32) []byte {
	u := uint32(v)
	for {
		if u&^0x7F == 0 {
			return append(dst, byte(u))
		}
		dst = append(dst, byte(u&0x7F|0x80))
		u >>= 7
	}
}

// VarIntSize returns how many bytes AppendVarInt writes for v.
func VarIntSize(v int32) int {
	u := uint32(v)
	n := 1
	for u >= 0x80 {
		u >>= 7
		n++
	}
	return n
}

// ReadVarInt decodes one VarInt from r.
func ReadVarInt(r io.ByteReader) (int32, error) {
	var result uint32
	for i := 0; i < maxVarIntBytes; i++ {
		b, err := r.ReadByte()
		if err != nil {
			if i > 0 && errors.Is(err, io.EOF) {
				return 0, io.ErrUnexpectedEOF
			}
			return 0, err
		}
		result |= uint32(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			return int32(result), nil
		}
	}
	return 0, ErrVarIntTooLong
}
