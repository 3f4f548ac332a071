// Package wire holds the byte-order primitives every higher OBEX layer
// builds on: big-endian integer packing and UTF-16BE string conversion.
package wire

import (
	"encoding/binary"
	"errors"
	"unicode/utf16"
)

// ErrOddLength is returned when a UTF-16BE byte slice has an odd length.
var ErrOddLength = errors.New("wire: utf-16be payload has odd length")

// PutUint16 writes v as big-endian into b[0:2].
func PutUint16(b []byte, v uint16) { binary.BigEndian.PutUint16(b, v) }

// Uint16 reads a big-endian uint16 from b[0:2].
func Uint16(b []byte) uint16 { return binary.BigEndian.Uint16(b) }

// PutUint32 writes v as big-endian into b[0:4].
func PutUint32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }

// Uint32 reads a big-endian uint32 from b[0:4].
func Uint32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }

// EncodeUTF16BE encodes s as UTF-16BE code units, without a terminator.
func EncodeUTF16BE(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, len(units)*2)
	for i, u := range units {
		PutUint16(out[i*2:i*2+2], u)
	}
	return out
}

// DecodeUTF16BE decodes a UTF-16BE byte slice (even length, no terminator).
func DecodeUTF16BE(b []byte) (string, error) {
	if len(b)%2 != 0 {
		return "", ErrOddLength
	}
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = Uint16(b[i*2 : i*2+2])
	}
	return string(utf16.Decode(units)), nil
}
