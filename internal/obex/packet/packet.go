// Package packet implements the OBEX packet codec: the outer
// opcode/status + length envelope around a header list, including the
// small set of per-opcode fixed fields (connect's version/flags/max
// length, setpath's flags/constants).
package packet

import (
	"errors"
	"fmt"

	"github.com/kelvinhammond/obexgo/internal/obex/codes"
	"github.com/kelvinhammond/obexgo/internal/obex/header"
	"github.com/kelvinhammond/obexgo/internal/obex/wire"
)

// HeaderLen is the size in bytes of the opcode/status + length prefix
// every packet begins with.
const HeaderLen = 3

var (
	// ErrIncomplete names the "buffer does not yet hold a full packet"
	// condition. No function in this package returns it: Complete
	// reports that case as (false, nil).
	ErrIncomplete = errors.New("packet: incomplete packet")
	// ErrTooShort is returned when a buffer is too short to even
	// contain the 3-byte prefix.
	ErrTooShort = errors.New("packet: buffer shorter than packet prefix")
	// ErrDeclaredLengthExceedsBuffer is returned when the declared
	// packet length is larger than the bytes actually available; a
	// caller that may still receive more bytes checks Complete first.
	ErrDeclaredLengthExceedsBuffer = errors.New("packet: declared length exceeds buffer")
)

// ConnectFields are the fixed fields carried by a connect request or
// response.
type ConnectFields struct {
	MajorVersion uint8
	MinorVersion uint8
	Flags        uint8
	MaxLength    uint16
}

// SetPathFields are the fixed fields carried by a setpath request.
type SetPathFields struct {
	Flags     uint8
	Constants uint8
}

// Packet is a fully decoded OBEX packet.
type Packet struct {
	// OpcodeOrStatus is the raw leading byte, final bit included.
	OpcodeOrStatus uint8
	PacketLength   uint16
	Final          bool
	Connect        *ConnectFields
	SetPath        *SetPathFields
	Headers        []header.Header
}

// LengthProbe reads the declared packet length from the first 3 bytes
// of buf.
func LengthProbe(buf []byte) (uint16, error) {
	if len(buf) < HeaderLen {
		return 0, ErrTooShort
	}
	return wire.Uint16(buf[1:3]), nil
}

// Complete reports whether buf already holds a full packet per its own
// declared length.
func Complete(buf []byte) (bool, error) {
	n, err := LengthProbe(buf)
	if err != nil {
		return false, err
	}
	return len(buf) >= int(n), nil
}

// EncodeRequest serializes a request packet from its opcode (final bit
// already set where the opcode demands it), fixed fields, and the
// already-encoded header blobs to append in order.
func EncodeRequest(op codes.Opcode, final bool, fixed []byte, headerBlobs [][]byte) ([]byte, error) {
	opByte := uint8(op)
	if op.MultiPacket() {
		if final {
			opByte |= codes.FinalBit
		}
	}
	total := HeaderLen + len(fixed)
	for _, b := range headerBlobs {
		total += len(b)
	}
	if total > 0xFFFF {
		return nil, fmt.Errorf("packet: encoded length %d exceeds u16 range", total)
	}
	out := make([]byte, HeaderLen, total)
	out[0] = opByte
	wire.PutUint16(out[1:3], uint16(total))
	out = append(out, fixed...)
	for _, b := range headerBlobs {
		out = append(out, b...)
	}
	return out, nil
}

// EncodeResponse serializes a response packet from its status byte
// (final bit already applied by the caller), fixed fields, and header
// blobs.
func EncodeResponse(status codes.Status, fixed []byte, headerBlobs [][]byte) ([]byte, error) {
	total := HeaderLen + len(fixed)
	for _, b := range headerBlobs {
		total += len(b)
	}
	if total > 0xFFFF {
		return nil, fmt.Errorf("packet: encoded length %d exceeds u16 range", total)
	}
	out := make([]byte, HeaderLen, total)
	out[0] = uint8(status)
	wire.PutUint16(out[1:3], uint16(total))
	out = append(out, fixed...)
	for _, b := range headerBlobs {
		out = append(out, b...)
	}
	return out, nil
}

// EncodeConnectFixed packs connect's 4-byte fixed-field block.
func EncodeConnectFixed(f ConnectFields) []byte {
	out := make([]byte, 4)
	out[0] = f.MajorVersion<<4 | f.MinorVersion&0x0F
	out[1] = f.Flags
	wire.PutUint16(out[2:4], f.MaxLength)
	return out
}

// EncodeSetPathFixed packs setpath's 2-byte fixed-field block.
func EncodeSetPathFixed(f SetPathFields) []byte {
	return []byte{f.Flags, f.Constants}
}

// Decode parses a packet out of buf. op identifies the request opcode
// this packet belongs to (the request's own opcode for a request
// packet, or the matching request's opcode when decoding its
// response) — the fixed-field shape is opcode-dependent and cannot be
// inferred from a response's status byte alone.
func Decode(buf []byte, op codes.Opcode) (Packet, error) {
	if len(buf) < HeaderLen {
		return Packet{}, ErrTooShort
	}
	leading := buf[0]
	length := wire.Uint16(buf[1:3])
	if int(length) > len(buf) {
		return Packet{}, fmt.Errorf("%w: declared %d, have %d", ErrDeclaredLengthExceedsBuffer, length, len(buf))
	}
	if int(length) < HeaderLen {
		return Packet{}, fmt.Errorf("packet: declared length %d shorter than the %d-byte prefix", length, HeaderLen)
	}
	body := buf[HeaderLen:length]

	p := Packet{
		OpcodeOrStatus: leading,
		PacketLength:   length,
		Final:          leading&codes.FinalBit != 0,
	}

	switch op {
	case codes.OpConnect:
		if len(body) < 4 {
			return Packet{}, fmt.Errorf("%w: connect fixed fields truncated", ErrDeclaredLengthExceedsBuffer)
		}
		p.Connect = &ConnectFields{
			MajorVersion: body[0] >> 4,
			MinorVersion: body[0] & 0x0F,
			Flags:        body[1],
			MaxLength:    wire.Uint16(body[2:4]),
		}
		body = body[4:]
	case codes.OpSetPath:
		if len(body) < 2 {
			return Packet{}, fmt.Errorf("%w: setpath fixed fields truncated", ErrDeclaredLengthExceedsBuffer)
		}
		p.SetPath = &SetPathFields{Flags: body[0], Constants: body[1]}
		body = body[2:]
	}

	headers, err := header.DecodeAll(body)
	if err != nil {
		return Packet{}, err
	}
	p.Headers = headers
	return p, nil
}
