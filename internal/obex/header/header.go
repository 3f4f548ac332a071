// Package header implements the OBEX header codec: encoding and decoding
// of individual tagged headers, the mnemonic registry, and the
// AppParameters tag/length/value sub-codec.
package header

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kelvinhammond/obexgo/internal/obex/wire"
)

// Kind is the value shape a header identifier's top two bits select.
type Kind uint8

const (
	KindUnicode Kind = 0
	KindBytes   Kind = 1
	KindU8      Kind = 2
	KindU32     Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindUnicode:
		return "Unicode"
	case KindBytes:
		return "Bytes"
	case KindU8:
		return "U8"
	case KindU32:
		return "U32"
	default:
		return "Unknown"
	}
}

// KindOf derives the header kind from the top two bits of an identifier.
func KindOf(id uint8) Kind { return Kind(id >> 6) }

var (
	// ErrInvalidLength is returned when a header's declared total_len is
	// out of range for its kind.
	ErrInvalidLength = errors.New("header: invalid header length")
	// ErrTruncated is returned when a header's declared length exceeds
	// the bytes remaining in the buffer.
	ErrTruncated = errors.New("header: truncated header")
	// ErrUnderrun is returned by DecodeAll when decoding advances past
	// the end of the buffer.
	ErrUnderrun = errors.New("header: decode underrun")
	// ErrKindMismatch is returned by a typed accessor called against a
	// header of a different kind.
	ErrKindMismatch = errors.New("header: kind mismatch")
)

// Header is a tagged header value: exactly one of the Unicode/Bytes/U8/U32
// fields is meaningful, selected by Kind.
type Header struct {
	ID    uint8
	Kind  Kind
	Text  string
	Bytes []byte
	U8    uint8
	U32   uint32
}

// Name returns the registry mnemonic for h's identifier, or a synthetic
// name derived from the hex value if h.ID is not registered.
func (h Header) Name() string { return NameOf(h.ID) }

// AsText returns h's string value, or ErrKindMismatch if h is not a
// Unicode header.
func (h Header) AsText() (string, error) {
	if h.Kind != KindUnicode {
		return "", fmt.Errorf("%w: %s is not Unicode", ErrKindMismatch, h.Name())
	}
	return h.Text, nil
}

// AsBytes returns h's byte value, or ErrKindMismatch if h is not a Bytes
// header.
func (h Header) AsBytes() ([]byte, error) {
	if h.Kind != KindBytes {
		return nil, fmt.Errorf("%w: %s is not Bytes", ErrKindMismatch, h.Name())
	}
	return h.Bytes, nil
}

// AsU8 returns h's byte value, or ErrKindMismatch if h is not a U8 header.
func (h Header) AsU8() (uint8, error) {
	if h.Kind != KindU8 {
		return 0, fmt.Errorf("%w: %s is not U8", ErrKindMismatch, h.Name())
	}
	return h.U8, nil
}

// AsU32 returns h's uint32 value, or ErrKindMismatch if h is not a U32
// header.
func (h Header) AsU32() (uint32, error) {
	if h.Kind != KindU32 {
		return 0, fmt.Errorf("%w: %s is not U32", ErrKindMismatch, h.Name())
	}
	return h.U32, nil
}

// NewUnicode builds a Unicode header.
func NewUnicode(id uint8, value string) Header {
	return Header{ID: id, Kind: KindUnicode, Text: value}
}

// NewBytes builds a Bytes header.
func NewBytes(id uint8, value []byte) Header {
	return Header{ID: id, Kind: KindBytes, Bytes: value}
}

// NewU8 builds a U8 header.
func NewU8(id uint8, value uint8) Header {
	return Header{ID: id, Kind: KindU8, U8: value}
}

// NewU32 builds a U32 header.
func NewU32(id uint8, value uint32) Header {
	return Header{ID: id, Kind: KindU32, U32: value}
}

// Registry identifiers, per the OBEX header table.
const (
	IDName                   uint8 = 0x01
	IDDescription            uint8 = 0x05
	IDType                   uint8 = 0x42
	IDTimestamp              uint8 = 0x44
	IDTarget                 uint8 = 0x46
	IDHttp                   uint8 = 0x47
	IDBody                   uint8 = 0x48
	IDEndOfBody              uint8 = 0x49
	IDWho                    uint8 = 0x4A
	IDAppParameters          uint8 = 0x4C
	IDAuthChallenge          uint8 = 0x4D
	IDAuthResponse           uint8 = 0x4E
	IDWanUuid                uint8 = 0x50
	IDObjectClass            uint8 = 0x51
	IDSessionParameters      uint8 = 0x52
	IDSessionSequenceNumber  uint8 = 0x93
	IDCount                  uint8 = 0xC0
	IDLength                 uint8 = 0xC3
	IDTimestamp4             uint8 = 0xC4
	IDConnectionId           uint8 = 0xCB
	IDCreatorId              uint8 = 0xCF
)

var registry = map[uint8]string{
	IDName:                  "Name",
	IDDescription:           "Description",
	IDType:                  "Type",
	IDTimestamp:             "Timestamp",
	IDTarget:                "Target",
	IDHttp:                  "Http",
	IDBody:                  "Body",
	IDEndOfBody:             "EndOfBody",
	IDWho:                   "Who",
	IDAppParameters:         "AppParameters",
	IDAuthChallenge:         "AuthChallenge",
	IDAuthResponse:          "AuthResponse",
	IDWanUuid:               "WanUuid",
	IDObjectClass:           "ObjectClass",
	IDSessionParameters:     "SessionParameters",
	IDSessionSequenceNumber: "SessionSequenceNumber",
	IDCount:                 "Count",
	IDLength:                "Length",
	IDTimestamp4:            "Timestamp4",
	IDConnectionId:          "ConnectionId",
	IDCreatorId:             "CreatorId",
}

var byName = func() map[string]uint8 {
	m := make(map[string]uint8, len(registry))
	for id, name := range registry {
		m[strings.ToLower(name)] = id
	}
	return m
}()

// NameOf returns the registry mnemonic for id, or a synthetic
// "Unknown0xNN" name if id is not registered.
func NameOf(id uint8) string {
	if name, ok := registry[id]; ok {
		return name
	}
	return fmt.Sprintf("Unknown0x%02X", id)
}

// IDOf resolves a mnemonic (case-insensitive) to its registered
// identifier.
func IDOf(name string) (uint8, bool) {
	id, ok := byName[strings.ToLower(name)]
	return id, ok
}

// Encode serializes h to its binary header form.
func Encode(h Header) ([]byte, error) {
	switch h.Kind {
	case KindUnicode:
		payload := wire.EncodeUTF16BE(h.Text)
		totalLen := 3 + len(payload) + 2
		out := make([]byte, totalLen)
		out[0] = h.ID
		wire.PutUint16(out[1:3], uint16(totalLen))
		copy(out[3:], payload)
		// trailing 0x0000 terminator already zero-valued
		return out, nil
	case KindBytes:
		totalLen := 3 + len(h.Bytes)
		out := make([]byte, totalLen)
		out[0] = h.ID
		wire.PutUint16(out[1:3], uint16(totalLen))
		copy(out[3:], h.Bytes)
		return out, nil
	case KindU8:
		return []byte{h.ID, h.U8}, nil
	case KindU32:
		out := make([]byte, 5)
		out[0] = h.ID
		wire.PutUint32(out[1:5], h.U32)
		return out, nil
	default:
		return nil, fmt.Errorf("header: unknown kind %d", h.Kind)
	}
}

// EncodedLen returns the wire length of h without allocating, for
// fragment-sizing calculations.
func EncodedLen(h Header) int {
	switch h.Kind {
	case KindUnicode:
		units := 0
		for _, r := range h.Text {
			if r >= 0x10000 && r <= 0x10FFFF {
				units += 2 // surrogate pair
			} else {
				units++
			}
		}
		return 3 + units*2 + 2
	case KindBytes:
		return 3 + len(h.Bytes)
	case KindU8:
		return 2
	case KindU32:
		return 5
	default:
		return 0
	}
}

// Decode decodes a single header starting at offset start in buf and
// returns it alongside the offset immediately following it.
func Decode(buf []byte, start int) (Header, int, error) {
	if start >= len(buf) {
		return Header{}, start, fmt.Errorf("%w: no bytes at offset %d", ErrTruncated, start)
	}
	id := buf[start]
	kind := KindOf(id)
	switch kind {
	case KindUnicode, KindBytes:
		minLen := 5
		if kind == KindBytes {
			minLen = 3
		}
		if start+3 > len(buf) {
			return Header{}, start, fmt.Errorf("%w: no length field at offset %d", ErrTruncated, start)
		}
		totalLen := int(wire.Uint16(buf[start+1 : start+3]))
		if totalLen < minLen {
			return Header{}, start, fmt.Errorf("%w: total_len=%d below minimum %d", ErrInvalidLength, totalLen, minLen)
		}
		if start+totalLen > len(buf) {
			return Header{}, start, fmt.Errorf("%w: total_len=%d exceeds remaining bytes", ErrTruncated, totalLen)
		}
		next := start + totalLen
		if kind == KindUnicode {
			text, err := wire.DecodeUTF16BE(buf[start+3 : next-2])
			if err != nil {
				return Header{}, start, fmt.Errorf("header: decoding unicode header %#x: %w", id, err)
			}
			return Header{ID: id, Kind: KindUnicode, Text: text}, next, nil
		}
		raw := append([]byte(nil), buf[start+3:next]...)
		return Header{ID: id, Kind: KindBytes, Bytes: raw}, next, nil
	case KindU8:
		if start+2 > len(buf) {
			return Header{}, start, fmt.Errorf("%w: U8 header needs 2 bytes at offset %d", ErrTruncated, start)
		}
		return Header{ID: id, Kind: KindU8, U8: buf[start+1]}, start + 2, nil
	default: // KindU32
		if start+5 > len(buf) {
			return Header{}, start, fmt.Errorf("%w: U32 header needs 5 bytes at offset %d", ErrTruncated, start)
		}
		return Header{ID: id, Kind: KindU32, U32: wire.Uint32(buf[start+1 : start+5])}, start + 5, nil
	}
}

// DecodeAll decodes every header in buf, left to right.
func DecodeAll(buf []byte) ([]Header, error) {
	var out []Header
	offset := 0
	for offset < len(buf) {
		h, next, err := Decode(buf, offset)
		if err != nil {
			return nil, err
		}
		if next <= offset || next > len(buf) {
			return nil, fmt.Errorf("%w: offset %d -> %d (buffer len %d)", ErrUnderrun, offset, next, len(buf))
		}
		out = append(out, h)
		offset = next
	}
	return out, nil
}

// Find returns the first header in list whose name matches name
// case-insensitively.
func Find(list []Header, name string) (Header, bool) {
	lower := strings.ToLower(name)
	for _, h := range list {
		if strings.ToLower(h.Name()) == lower {
			return h, true
		}
	}
	return Header{}, false
}

// FindAll returns every header in list whose name matches name
// case-insensitively, in order.
func FindAll(list []Header, name string) []Header {
	lower := strings.ToLower(name)
	var out []Header
	for _, h := range list {
		if strings.ToLower(h.Name()) == lower {
			out = append(out, h)
		}
	}
	return out
}

// AppParameter is one (tag, value) entry of an AppParameters payload.
type AppParameter struct {
	Tag   uint8
	Value []byte
}

// DecodeAppParameters decodes the tag/length/value triples packed inside
// an AppParameters header's byte payload.
func DecodeAppParameters(payload []byte) ([]AppParameter, error) {
	var out []AppParameter
	offset := 0
	for offset < len(payload) {
		if offset+2 > len(payload) {
			return nil, fmt.Errorf("%w: AppParameters truncated tag/length at offset %d", ErrTruncated, offset)
		}
		tag := payload[offset]
		length := int(payload[offset+1])
		if length < 2 {
			return nil, fmt.Errorf("%w: AppParameters triple length %d below minimum 2", ErrInvalidLength, length)
		}
		end := offset + length
		if end > len(payload) {
			return nil, fmt.Errorf("%w: AppParameters triple length %d exceeds remaining bytes", ErrTruncated, length)
		}
		value := append([]byte(nil), payload[offset+2:end]...)
		out = append(out, AppParameter{Tag: tag, Value: value})
		offset = end
	}
	return out, nil
}

// EncodeAppParameters serializes a list of AppParameter triples into a
// single AppParameters payload.
func EncodeAppParameters(params []AppParameter) []byte {
	var out []byte
	for _, p := range params {
		length := 2 + len(p.Value)
		out = append(out, p.Tag, uint8(length))
		out = append(out, p.Value...)
	}
	return out
}
