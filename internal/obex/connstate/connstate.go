// Package connstate holds the per-connection state shared by both the
// client and server state machines: the State enum, the ConnectionId/
// max-packet-length bookkeeping, and the canonical outgoing-packet
// construction algorithm they both use to build a request or response
// packet out of a FIFO queue of pre-encoded headers.
package connstate

import (
	"errors"
	"fmt"

	"github.com/kelvinhammond/obexgo/internal/obex/header"
	"github.com/kelvinhammond/obexgo/internal/obex/packet"
)

// State is the coarse connection/request state shared by client and
// server.
type State uint8

const (
	StateIdle State = iota
	StateBusy
	StateStreaming
	StateResponding
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateBusy:
		return "Busy"
	case StateStreaming:
		return "Streaming"
	case StateResponding:
		return "Responding"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// DefaultMaxPacketLen is the negotiated packet-size ceiling before any
// connect response raises it.
const DefaultMaxPacketLen uint16 = 255

// Action is the result every client and server input-processing step
// returns: whether the caller should keep pumping bytes, is done, may
// write more, or hit a fatal failure.
type Action int

const (
	ActionContinue Action = iota
	ActionDone
	ActionWritable
	ActionFailed
)

func (a Action) String() string {
	switch a {
	case ActionContinue:
		return "Continue"
	case ActionDone:
		return "Done"
	case ActionWritable:
		return "Writable"
	case ActionFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// ErrHeaderExceedsPacket is returned by BuildOutgoing when the head of
// the queue is a single header too large to ever fit in a packet at
// the current MaxPacketLen — this is fatal, not a "try again" signal.
var ErrHeaderExceedsPacket = errors.New("connstate: header exceeds max packet length")

// errConnectionIDHeaderTooLarge should be unreachable: a 5-byte
// ConnectionId header cannot fail to fit in any packet this protocol
// can negotiate.
var errConnectionIDHeaderTooLarge = errors.New("connstate: pre-encoded ConnectionId header does not fit in packet")

// Connection tracks the state spec.md calls ConnectionState: it
// survives across requests for the life of a transport session.
type Connection struct {
	State            State
	MaxPacketLen     uint16
	Connected        bool
	ConnectionID     *uint32
	ErrorMessage     string
	connectionIDBlob []byte
}

// NewConnection returns a freshly initialized, Idle connection.
func NewConnection() *Connection {
	return &Connection{State: StateIdle, MaxPacketLen: DefaultMaxPacketLen}
}

// Reset reinitializes the whole connection, per spec.md's `reset`
// operation.
func (c *Connection) Reset() {
	*c = *NewConnection()
}

// SetConnectionID persists id and pre-encodes its wire header form so
// BuildOutgoing can prepend it to every subsequent outgoing packet
// without re-encoding.
func (c *Connection) SetConnectionID(id uint32) error {
	blob, err := header.Encode(header.NewU32(header.IDConnectionId, id))
	if err != nil {
		return err
	}
	c.ConnectionID = &id
	c.connectionIDBlob = blob
	return nil
}

// ClearConnectionID drops any persisted ConnectionId, per disconnect.
func (c *Connection) ClearConnectionID() {
	c.ConnectionID = nil
	c.connectionIDBlob = nil
}

// ConnectionIDHeader returns the pre-encoded ConnectionId header blob,
// or nil if none is set.
func (c *Connection) ConnectionIDHeader() []byte { return c.connectionIDBlob }

// RaiseMaxPacketLen adopts n as MaxPacketLen if n is larger than the
// current value (the connect response MUST NOT ever lower it below the
// 255-byte floor).
func (c *Connection) RaiseMaxPacketLen(n uint16) {
	if n > c.MaxPacketLen {
		c.MaxPacketLen = n
	}
}

// BuildOutgoing implements the canonical outgoing-packet construction
// algorithm (spec §4.3 step 1-3, reused unchanged for server
// responses): given the free space left after the packet prefix and
// extraFixedLen bytes of opcode-specific fixed fields, it always
// places the pre-encoded ConnectionId header first when one is set,
// then pops blobs off the front of *queue in FIFO order so long as
// each still fits. It reports whether the queue drained completely.
func (c *Connection) BuildOutgoing(queue *[][]byte, extraFixedLen int) (popped [][]byte, drained bool, err error) {
	free := int(c.MaxPacketLen) - packet.HeaderLen - extraFixedLen
	if free < 0 {
		return nil, false, fmt.Errorf("connstate: fixed fields alone exceed max packet length %d", c.MaxPacketLen)
	}
	if blob := c.connectionIDBlob; blob != nil {
		if len(blob) > free {
			return nil, false, errConnectionIDHeaderTooLarge
		}
		popped = append(popped, blob)
		free -= len(blob)
	}
	fit := 0
	for len(*queue) > 0 {
		next := (*queue)[0]
		if len(next) > free {
			break
		}
		popped = append(popped, next)
		free -= len(next)
		*queue = (*queue)[1:]
		fit++
	}
	if fit == 0 && len(*queue) > 0 {
		return nil, false, fmt.Errorf("%w: %d bytes at current max packet length %d", ErrHeaderExceedsPacket, len((*queue)[0]), c.MaxPacketLen)
	}
	return popped, len(*queue) == 0, nil
}
