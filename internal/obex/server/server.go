// Package server implements the OBEX server-side response state
// machine: it accumulates an incoming (possibly multi-packet) request,
// surfaces the completed op to the application, and turns a
// respond/respond-content call into the single outgoing response
// packet.
package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelvinhammond/obexgo/internal/obex/codes"
	"github.com/kelvinhammond/obexgo/internal/obex/connstate"
	"github.com/kelvinhammond/obexgo/internal/obex/header"
	"github.com/kelvinhammond/obexgo/internal/obex/packet"
	"github.com/kelvinhammond/obexgo/internal/obexmetrics"
	"github.com/rs/zerolog/log"
)

// Action is the result of feeding bytes to Input.
type Action int

const (
	// ActionContinue means Input consumed bytes (and possibly produced
	// an automatic continue acknowledgement) but the request is not
	// yet complete.
	ActionContinue Action = iota
	// ActionRespond means a final-bit request packet has arrived; Op
	// names the completed request and the application must call
	// Respond or RespondContent.
	ActionRespond
	// ActionFailed means a protocol or decode error occurred; the
	// connection is now in the Error state.
	ActionFailed
)

func (a Action) String() string {
	switch a {
	case ActionContinue:
		return "Continue"
	case ActionRespond:
		return "Respond"
	case ActionFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

type requestState struct {
	op          codes.Opcode
	headersIn   []header.Header
	lastRequest *packet.Packet
	startedAt   time.Time
}

// Server is the server-side response state machine for one connection.
type Server struct {
	conn     *connstate.Connection
	minter   *IDMinter
	inbuf    []byte
	req      *requestState
	recorder obexmetrics.Recorder
}

// New returns a freshly initialized server using minter to mint
// connection ids on connect. Pass a shared *IDMinter across every
// Server instance in a process that must hand out unique ids; pass a
// dedicated one if each connection's ids may restart independently.
func New(minter *IDMinter) *Server {
	return &Server{conn: connstate.NewConnection(), minter: minter}
}

// SetRecorder wires metrics instrumentation into the server. The
// server works identically with no recorder set; this only adds
// observation.
func (s *Server) SetRecorder(r obexmetrics.Recorder) {
	s.recorder = r
}

// Reset reinitializes the whole connection, discarding any in-flight
// request.
func (s *Server) Reset() {
	s.conn.Reset()
	s.req = nil
}

// State returns a snapshot of the connection-level state.
func (s *Server) State() connstate.State { return s.conn.State }

// MaxPacketLen returns the currently negotiated packet-size ceiling.
func (s *Server) MaxPacketLen() uint16 { return s.conn.MaxPacketLen }

// ConnectionID returns the currently minted connection id, or nil.
func (s *Server) ConnectionID() *uint32 { return s.conn.ConnectionID }

// Headers returns every accumulated header of the in-flight request
// whose mnemonic matches name case-insensitively.
func (s *Server) Headers(name string) []header.Header {
	if s.req == nil {
		return nil
	}
	return header.FindAll(s.req.headersIn, name)
}

// Request returns the most recently decoded packet of the in-flight
// request.
func (s *Server) Request() *packet.Packet {
	if s.req == nil {
		return nil
	}
	return s.req.lastRequest
}

func (s *Server) fail(format string, args ...any) (Action, []byte, codes.Opcode) {
	msg := fmt.Sprintf(format, args...)
	s.conn.State = connstate.StateError
	s.conn.ErrorMessage = msg
	if s.recorder != nil {
		s.recorder.ProtocolError("server", codes.CategoryProtocolError)
		if s.req != nil {
			s.recorder.RequestDuration("server", s.req.op.Name(), time.Since(s.req.startedAt))
		}
	}
	log.Warn().Str("component", "obex.server").Str("error", msg).Msg("protocol error")
	return ActionFailed, nil, 0
}

// Input feeds newly received bytes into the in-flight request. It
// returns ActionContinue (with an automatic continue acknowledgement
// to write, for multi-packet ops) while more packets are expected, and
// ActionRespond with the completed op once a final-bit packet arrives.
func (s *Server) Input(data []byte) (Action, []byte, codes.Opcode) {
	s.inbuf = append(s.inbuf, data...)

	complete, err := packet.Complete(s.inbuf)
	if err != nil {
		return ActionContinue, nil, 0
	}
	if !complete {
		return ActionContinue, nil, 0
	}

	n, _ := packet.LengthProbe(s.inbuf)
	if int(n) < packet.HeaderLen {
		return s.fail("declared packet length %d shorter than packet prefix", n)
	}
	raw := s.inbuf[:n]
	s.inbuf = s.inbuf[n:]

	op, ok := codes.OpcodeFromByte(raw[0])
	if !ok {
		return s.fail("unrecognized opcode byte %#x", raw[0])
	}
	if op == codes.OpSession {
		return s.fail("session requests are unsupported")
	}

	if s.req == nil {
		s.req = &requestState{op: op, startedAt: time.Now()}
		s.conn.State = connstate.StateBusy
	} else if s.req.op != op {
		return s.fail("opcode changed mid-request: %s -> %s", s.req.op.Name(), op.Name())
	}

	pkt, err := packet.Decode(raw, op)
	if err != nil {
		return s.fail("decoding %s request: %v", op.Name(), err)
	}
	if s.recorder != nil {
		s.recorder.PacketReceived("server", op.Name(), len(raw))
	}
	s.req.lastRequest = &pkt
	s.req.headersIn = append(s.req.headersIn, pkt.Headers...)

	if !pkt.Final {
		if !op.MultiPacket() {
			return s.fail("non-final packet for non-multipacket op %s", op.Name())
		}
		ack, err := packet.EncodeResponse(codes.StatusContinue|codes.Status(codes.FinalBit), nil, nil)
		if err != nil {
			return s.fail("encoding continue acknowledgement: %v", err)
		}
		if s.recorder != nil {
			s.recorder.PacketSent("server", op.Name(), len(ack))
		}
		return ActionContinue, ack, 0
	}

	s.conn.State = connstate.StateResponding
	return ActionRespond, nil, op
}

// Respond answers the in-flight request with status and headers. It
// fails if status and headers together do not fit in a single packet.
func (s *Server) Respond(status codes.Status, headers []header.Header) ([]byte, error) {
	return s.respond(status, headers)
}

// RespondContent answers the in-flight request with a status plus a
// body: content is carried as a single EndOfBody header (preceded by a
// Length header), since multi-packet responses are out of scope.
func (s *Server) RespondContent(content []byte, status codes.Status, headers []header.Header) ([]byte, error) {
	all := append([]header.Header{
		header.NewU32(header.IDLength, uint32(len(content))),
		header.NewBytes(header.IDEndOfBody, content),
	}, headers...)
	return s.respond(status, all)
}

func (s *Server) respond(status codes.Status, headers []header.Header) ([]byte, error) {
	if s.req == nil {
		return nil, ErrNoRequestInFlight
	}
	op := s.req.op

	var fixed []byte
	switch op {
	case codes.OpConnect:
		maxLen := s.conn.MaxPacketLen
		if s.req.lastRequest != nil && s.req.lastRequest.Connect != nil {
			if proposed := s.req.lastRequest.Connect.MaxLength; proposed >= connstate.DefaultMaxPacketLen {
				maxLen = proposed
			}
		}
		s.conn.MaxPacketLen = maxLen
		id, err := s.minter.Next()
		if err != nil {
			s.conn.State = connstate.StateError
			s.conn.ErrorMessage = err.Error()
			return nil, err
		}
		if err := s.conn.SetConnectionID(id); err != nil {
			return nil, err
		}
		if s.recorder != nil {
			s.recorder.ConnectionIDMinted()
		}
		fixed = packet.EncodeConnectFixed(packet.ConnectFields{MajorVersion: 1, MinorVersion: 0, Flags: 0, MaxLength: maxLen})
	case codes.OpDisconnect:
		s.conn.ClearConnectionID()
		s.conn.MaxPacketLen = connstate.DefaultMaxPacketLen
	}

	blobs := make([][]byte, 0, len(headers))
	for _, h := range headers {
		blob, err := header.Encode(h)
		if err != nil {
			return nil, err
		}
		blobs = append(blobs, blob)
	}
	queue := blobs
	popped, drained, err := s.conn.BuildOutgoing(&queue, len(fixed))
	if err != nil {
		s.conn.State = connstate.StateError
		s.conn.ErrorMessage = err.Error()
		if errors.Is(err, connstate.ErrHeaderExceedsPacket) {
			return nil, fmt.Errorf("%w: %s: %w", ErrResponseExceedsOnePacket, op.Name(), err)
		}
		return nil, err
	}
	if !drained {
		s.conn.State = connstate.StateError
		s.conn.ErrorMessage = fmt.Sprintf("response for %s does not fit in a single packet", op.Name())
		return nil, fmt.Errorf("%w: %s", ErrResponseExceedsOnePacket, op.Name())
	}

	buf, err := packet.EncodeResponse(status|codes.Status(codes.FinalBit), fixed, popped)
	if err != nil {
		return nil, err
	}
	if s.recorder != nil {
		s.recorder.PacketSent("server", op.Name(), len(buf))
		s.recorder.RequestDuration("server", op.Name(), time.Since(s.req.startedAt))
	}

	if op == codes.OpConnect && codes.Categorize(status) == codes.CategorySuccess {
		s.conn.Connected = true
	}
	if op == codes.OpDisconnect {
		s.conn.Connected = false
	}
	s.req = nil
	s.conn.State = connstate.StateIdle
	return buf, nil
}
