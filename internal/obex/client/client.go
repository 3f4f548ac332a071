// Package client implements the OBEX client-side request state
// machine: it turns calls like Connect/Put/Get into outgoing packets
// and turns inbound bytes fed to Input into state transitions, without
// ever touching a transport itself.
package client

import (
	"fmt"
	"time"

	"github.com/kelvinhammond/obexgo/internal/obex/codes"
	"github.com/kelvinhammond/obexgo/internal/obex/connstate"
	"github.com/kelvinhammond/obexgo/internal/obex/header"
	"github.com/kelvinhammond/obexgo/internal/obex/packet"
	"github.com/kelvinhammond/obexgo/internal/obexmetrics"
	"github.com/rs/zerolog/log"
)

// connectProposedMaxPacketLen is what a connect request proposes; the
// server's response decides the actual negotiated value.
const connectProposedMaxPacketLen = 65535

// Action re-exports the shared Continue/Done/Writable/Failed result.
type Action = connstate.Action

const (
	ActionContinue = connstate.ActionContinue
	ActionDone     = connstate.ActionDone
	ActionWritable = connstate.ActionWritable
	ActionFailed   = connstate.ActionFailed
)

// StatusDetail mirrors spec.md's status_detail record.
type StatusDetail struct {
	ResponseStatus codes.Status
	ResponseCode   codes.Status
	ResponseName   string
	ErrorMessage   string
}

// SetPathOptions controls the two flag bits of a setpath request.
type SetPathOptions struct {
	Parent   bool // bit 0: go to parent directory before applying Name
	NoCreate bool // bit 1: do not create the directory if it is missing
}

type requestState struct {
	op        codes.Opcode
	inbuf     []byte
	queue     [][]byte
	headersIn []header.Header
	response  *packet.Packet
	streaming bool
	startedAt time.Time
}

// Client is the client-side request state machine for one connection.
type Client struct {
	conn     *connstate.Connection
	req      *requestState
	recorder obexmetrics.Recorder
}

// New returns a freshly initialized client in the Idle state.
func New() *Client {
	return &Client{conn: connstate.NewConnection()}
}

// SetRecorder wires metrics instrumentation into the client. The
// client works identically with no recorder set; this only adds
// observation.
func (c *Client) SetRecorder(r obexmetrics.Recorder) {
	c.recorder = r
}

func (c *Client) recordSent(op codes.Opcode, buf []byte) {
	if c.recorder != nil {
		c.recorder.PacketSent("client", op.Name(), len(buf))
	}
}

func (c *Client) recordReceived(op codes.Opcode, buf []byte) {
	if c.recorder != nil {
		c.recorder.PacketReceived("client", op.Name(), len(buf))
	}
}

func (c *Client) recordRequestDuration(op codes.Opcode, startedAt time.Time) {
	if c.recorder != nil {
		c.recorder.RequestDuration("client", op.Name(), time.Since(startedAt))
	}
}

// Reset reinitializes the entire connection, discarding any in-flight
// request.
func (c *Client) Reset() {
	c.conn.Reset()
	c.req = nil
}

// Clear discards the in-flight request only, returning to Idle without
// touching connection-level state (ConnectionId, MaxPacketLen,
// Connected).
func (c *Client) Clear() {
	c.req = nil
	c.conn.State = connstate.StateIdle
	c.conn.ErrorMessage = ""
}

// ClientState mirrors spec.md's client.state() record.
type ClientState struct {
	State         connstate.State
	Connected     bool
	ConnectionID  *uint32
	MaxPacketLen  uint16
	ErrorMessage  string
}

// State returns a snapshot of the connection-level state.
func (c *Client) State() ClientState {
	return ClientState{
		State:        c.conn.State,
		Connected:    c.conn.Connected,
		ConnectionID: c.conn.ConnectionID,
		MaxPacketLen: c.conn.MaxPacketLen,
		ErrorMessage: c.conn.ErrorMessage,
	}
}

// Status returns the status category of the latest decoded response.
func (c *Client) Status() codes.Category {
	if c.req == nil || c.req.response == nil {
		return codes.CategoryUnknown
	}
	return codes.Categorize(codes.Status(c.req.response.OpcodeOrStatus))
}

// StatusDetail returns the full status record for the latest decoded
// response.
func (c *Client) StatusDetail() StatusDetail {
	d := StatusDetail{ErrorMessage: c.conn.ErrorMessage}
	if c.req != nil && c.req.response != nil {
		raw := codes.Status(c.req.response.OpcodeOrStatus)
		d.ResponseStatus = raw
		d.ResponseCode = raw.Code()
		d.ResponseName = raw.Name()
	}
	return d
}

// Response returns the latest decoded response packet for the
// in-flight (or just-completed) request, or nil.
func (c *Client) Response() *packet.Packet {
	if c.req == nil {
		return nil
	}
	return c.req.response
}

// Bodies returns the Body/EndOfBody header values accumulated across
// the in-flight request's responses, one slice per header, in arrival
// order.
func (c *Client) Bodies() [][]byte {
	if c.req == nil {
		return nil
	}
	var out [][]byte
	for _, h := range c.req.headersIn {
		switch h.ID {
		case header.IDBody, header.IDEndOfBody:
			out = append(out, h.Bytes)
		}
	}
	return out
}

// Headers returns every accumulated response header whose mnemonic
// matches name case-insensitively.
func (c *Client) Headers(name string) []header.Header {
	if c.req == nil {
		return nil
	}
	return header.FindAll(c.req.headersIn, name)
}

func (c *Client) fail(format string, args ...any) (Action, []byte) {
	msg := fmt.Sprintf(format, args...)
	c.conn.State = connstate.StateError
	c.conn.ErrorMessage = msg
	if c.req != nil {
		c.req.response = &packet.Packet{OpcodeOrStatus: uint8(codes.StatusProtocolError) | codes.FinalBit}
	}
	if c.recorder != nil {
		c.recorder.ProtocolError("client", codes.CategoryProtocolError)
	}
	log.Warn().Str("component", "obex.client").Str("error", msg).Msg("protocol error")
	return ActionFailed, nil
}

func encodeHeaders(headers []header.Header) ([][]byte, error) {
	blobs := make([][]byte, 0, len(headers))
	for _, h := range headers {
		blob, err := header.Encode(h)
		if err != nil {
			return nil, err
		}
		blobs = append(blobs, blob)
	}
	return blobs, nil
}

func containsBoth(headers []header.Header, idA, idB uint8) bool {
	var a, b bool
	for _, h := range headers {
		if h.ID == idA {
			a = true
		}
		if h.ID == idB {
			b = true
		}
	}
	return a && b
}

func hasHeaderID(headers []header.Header, id uint8) bool {
	for _, h := range headers {
		if h.ID == id {
			return true
		}
	}
	return false
}

// targetConflictsWithConnectionID reports whether headers would put
// Target and ConnectionId on the same wire packet: either headers
// carries both itself, or it carries Target while the connection
// already has a ConnectionId that BuildOutgoing will prepend to every
// outgoing packet.
func (c *Client) targetConflictsWithConnectionID(headers []header.Header) bool {
	if containsBoth(headers, header.IDTarget, header.IDConnectionId) {
		return true
	}
	return c.conn.ConnectionID != nil && hasHeaderID(headers, header.IDTarget)
}

// beginRequest enforces the one-outstanding-request invariant and
// installs a fresh requestState for op.
func (c *Client) beginRequest(op codes.Opcode, streaming bool) error {
	if c.conn.State != connstate.StateIdle {
		return fmt.Errorf("%w: state is %s", ErrBusy, c.conn.State)
	}
	c.req = &requestState{op: op, streaming: streaming, startedAt: time.Now()}
	c.conn.State = connstate.StateBusy
	return nil
}

// singlePacketRequest builds and emits one complete request packet for
// non-spanning ops (connect/disconnect/setpath/abort), failing if the
// headers don't all fit.
func (c *Client) singlePacketRequest(op codes.Opcode, fixed []byte, headers []header.Header) (Action, []byte, error) {
	blobs, err := encodeHeaders(headers)
	if err != nil {
		return 0, nil, err
	}
	queue := blobs
	popped, drained, err := c.conn.BuildOutgoing(&queue, len(fixed))
	if err != nil {
		c.req = nil
		c.conn.State = connstate.StateIdle
		return 0, nil, err
	}
	if !drained {
		c.req = nil
		c.conn.State = connstate.StateIdle
		return 0, nil, fmt.Errorf("%w: %s", ErrHeadersExceedOnePacket, op.Name())
	}
	buf, err := packet.EncodeRequest(op, true, fixed, popped)
	if err != nil {
		return 0, nil, err
	}
	c.recordSent(op, buf)
	return ActionContinue, buf, nil
}

// Connect emits a connect request. It rejects the call if already
// connected and requires every header to fit in the single connect
// packet (connect cannot span packets).
func (c *Client) Connect(headers []header.Header) (Action, []byte, error) {
	if c.conn.Connected {
		return 0, nil, ErrAlreadyConnected
	}
	if err := c.beginRequest(codes.OpConnect, false); err != nil {
		return 0, nil, err
	}
	fixed := packet.EncodeConnectFixed(packet.ConnectFields{
		MajorVersion: 1,
		MinorVersion: 0,
		Flags:        0,
		MaxLength:    connectProposedMaxPacketLen,
	})
	return c.singlePacketRequest(codes.OpConnect, fixed, headers)
}

// Disconnect emits a disconnect request and marks the connection as no
// longer connected the moment the packet is emitted, regardless of the
// eventual response.
func (c *Client) Disconnect(headers []header.Header) (Action, []byte, error) {
	if !c.conn.Connected {
		return 0, nil, ErrNotConnected
	}
	if err := c.beginRequest(codes.OpDisconnect, false); err != nil {
		return 0, nil, err
	}
	action, buf, err := c.singlePacketRequest(codes.OpDisconnect, nil, headers)
	if err != nil {
		return action, buf, err
	}
	c.conn.Connected = false
	c.conn.ClearConnectionID()
	return action, buf, nil
}

// bodyFragmentBudget computes how many content bytes fit in the first
// outgoing packet alongside the Length header and, if present, the
// ConnectionId header: max_packet_len minus the packet prefix, minus
// the ConnectionId header if one is set, minus the encoded size of the
// Length header, minus the fixed overhead of a Body header's own
// id/length prefix (3 bytes).
func (c *Client) bodyFragmentBudget(lengthHeaderLen int) int {
	free := int(c.conn.MaxPacketLen) - packet.HeaderLen
	if blob := c.conn.ConnectionIDHeader(); blob != nil {
		free -= len(blob)
	}
	free -= lengthHeaderLen
	free -= 3 // Body header's own id+length prefix
	if free < 0 {
		return 0
	}
	return free
}

// splitBody fragments content into a queue of Body headers, each sized
// to fit the negotiated packet, in submission order.
func (c *Client) splitBody(content []byte) [][]byte {
	if len(content) == 0 {
		return nil
	}
	lengthBlob, _ := header.Encode(header.NewU32(header.IDLength, uint32(len(content))))
	budget := c.bodyFragmentBudget(len(lengthBlob))
	if budget < 1 {
		budget = 1
	}
	var out [][]byte
	for off := 0; off < len(content); off += budget {
		end := off + budget
		if end > len(content) {
			end = len(content)
		}
		blob, _ := header.Encode(header.NewBytes(header.IDBody, content[off:end]))
		out = append(out, blob)
	}
	return out
}

// Put emits a put request for content, fragmenting it into Body
// headers sized to the negotiated max packet length and prepending a
// Length header carrying the total content size.
func (c *Client) Put(content []byte, headers []header.Header) (Action, []byte, error) {
	if c.targetConflictsWithConnectionID(headers) {
		return 0, nil, ErrTargetAndConnectionID
	}
	if err := c.beginRequest(codes.OpPut, false); err != nil {
		return 0, nil, err
	}
	lengthHdr := header.NewU32(header.IDLength, uint32(len(content)))
	allHeaders := append([]header.Header{lengthHdr}, headers...)
	headerBlobs, err := encodeHeaders(allHeaders)
	if err != nil {
		return 0, nil, err
	}
	bodyBlobs := c.splitBody(content)
	c.req.queue = append(headerBlobs, bodyBlobs...)
	return c.emitNextPutGet()
}

// PutDelete emits a put request carrying no Length and no body, the
// OBEX idiom for deleting the object named by headers.
func (c *Client) PutDelete(headers []header.Header) (Action, []byte, error) {
	if c.targetConflictsWithConnectionID(headers) {
		return 0, nil, ErrTargetAndConnectionID
	}
	if err := c.beginRequest(codes.OpPut, false); err != nil {
		return 0, nil, err
	}
	blobs, err := encodeHeaders(headers)
	if err != nil {
		return 0, nil, err
	}
	c.req.queue = blobs
	return c.emitNextPutGet()
}

// PutStream starts (on the first call) or continues a streaming put.
// The first call may carry headers; subsequent calls must not. An
// empty chunk emits EndOfBody and ends the stream.
func (c *Client) PutStream(chunk []byte, headers []header.Header) (Action, []byte, error) {
	if c.req == nil || c.req.op != codes.OpPut || !c.req.streaming {
		if err := c.beginRequest(codes.OpPut, true); err != nil {
			return 0, nil, err
		}
		blobs, err := encodeHeaders(headers)
		if err != nil {
			return 0, nil, err
		}
		c.req.queue = blobs
	} else if len(headers) > 0 {
		return 0, nil, ErrPutStreamHeadersAfterFirst
	}

	if len(chunk) == 0 {
		blob, err := header.Encode(header.NewBytes(header.IDEndOfBody, nil))
		if err != nil {
			return 0, nil, err
		}
		c.req.queue = append(c.req.queue, blob)
		c.req.streaming = false
	} else {
		for _, blob := range c.splitBody(chunk) {
			c.req.queue = append(c.req.queue, blob)
		}
	}
	c.conn.State = connstate.StateBusy
	return c.emitNextPutGet()
}

// Get emits a get request, queuing headers for transmission across as
// many packets as needed.
func (c *Client) Get(headers []header.Header) (Action, []byte, error) {
	if c.targetConflictsWithConnectionID(headers) {
		return 0, nil, ErrTargetAndConnectionID
	}
	if err := c.beginRequest(codes.OpGet, false); err != nil {
		return 0, nil, err
	}
	blobs, err := encodeHeaders(headers)
	if err != nil {
		return 0, nil, err
	}
	c.req.queue = blobs
	return c.emitNextPutGet()
}

// emitNextPutGet builds and emits the next outgoing packet for the
// in-flight put/get, setting the final bit once the queue has drained
// (and the request is not in streaming mode).
func (c *Client) emitNextPutGet() (Action, []byte, error) {
	popped, drained, err := c.conn.BuildOutgoing(&c.req.queue, 0)
	if err != nil {
		c.req = nil
		c.conn.State = connstate.StateIdle
		return 0, nil, err
	}
	final := drained && !c.req.streaming
	buf, err := packet.EncodeRequest(c.req.op, final, nil, popped)
	if err != nil {
		return 0, nil, err
	}
	c.recordSent(c.req.op, buf)
	return ActionContinue, buf, nil
}

// Abort emits an abort request, terminating whatever op is currently
// in flight.
func (c *Client) Abort(headers []header.Header) (Action, []byte, error) {
	if c.targetConflictsWithConnectionID(headers) {
		return 0, nil, ErrTargetAndConnectionID
	}
	if c.req == nil {
		return 0, nil, ErrNoRequestInFlight
	}
	c.req = &requestState{op: codes.OpAbort, startedAt: time.Now()}
	c.conn.State = connstate.StateBusy
	return c.singlePacketRequest(codes.OpAbort, nil, headers)
}

// SetPath emits a setpath request with the parent/no-create flag bits
// packed into the numeric fixed fields (not, as the source this repo
// was ported from did, the literal strings "flags" and "constants").
func (c *Client) SetPath(headers []header.Header, opts SetPathOptions) (Action, []byte, error) {
	if c.targetConflictsWithConnectionID(headers) {
		return 0, nil, ErrTargetAndConnectionID
	}
	if err := c.beginRequest(codes.OpSetPath, false); err != nil {
		return 0, nil, err
	}
	var flags uint8
	if opts.Parent {
		flags |= 0x01
	}
	if opts.NoCreate {
		flags |= 0x02
	}
	fixed := packet.EncodeSetPathFixed(packet.SetPathFields{Flags: flags, Constants: 0})
	return c.singlePacketRequest(codes.OpSetPath, fixed, headers)
}

// Session always fails: reliable-session support is out of scope.
func (c *Client) Session(_ []header.Header) (Action, []byte, error) {
	return 0, nil, ErrUnsupported
}

// Input feeds newly-received bytes into the in-flight request. It
// returns Continue with no bytes if a full response packet has not
// yet arrived.
func (c *Client) Input(data []byte) (Action, []byte) {
	if c.req == nil {
		return c.fail("input received with no request in flight")
	}
	c.req.inbuf = append(c.req.inbuf, data...)

	complete, err := packet.Complete(c.req.inbuf)
	if err != nil {
		return ActionContinue, nil
	}
	if !complete {
		return ActionContinue, nil
	}

	n, _ := packet.LengthProbe(c.req.inbuf)
	raw := c.req.inbuf[:n]
	c.req.inbuf = c.req.inbuf[n:]

	op := c.req.op
	startedAt := c.req.startedAt

	resp, err := packet.Decode(raw, op)
	if err != nil {
		action, out := c.fail("decoding response for %s: %v", op.Name(), err)
		c.recordRequestDuration(op, startedAt)
		return action, out
	}
	c.recordReceived(op, raw)
	c.req.response = &resp
	c.req.headersIn = append(c.req.headersIn, resp.Headers...)
	c.checkConnectionIDMismatch(resp)

	status := codes.Status(resp.OpcodeOrStatus)
	var action Action
	var out []byte
	switch op {
	case codes.OpConnect:
		action, out = c.inputConnect(status, resp)
	case codes.OpPut, codes.OpGet:
		action, out = c.inputPutGet(status, resp)
	default: // disconnect, setpath, abort
		action, out = c.inputSinglePacket(status, resp)
	}
	if action == ActionDone || action == ActionFailed {
		c.recordRequestDuration(op, startedAt)
	}
	return action, out
}

// checkConnectionIDMismatch logs, but does not fail, a response that
// carries a ConnectionId different from the one already recorded for
// this connection. A mismatch never aborts the in-flight request: the
// spec leaves recovery from it unspecified, so the conservative move
// is to surface it and keep going.
func (c *Client) checkConnectionIDMismatch(resp packet.Packet) {
	if c.conn.ConnectionID == nil {
		return
	}
	h, ok := header.Find(resp.Headers, "ConnectionId")
	if !ok {
		return
	}
	seen, err := h.AsU32()
	if err != nil {
		return
	}
	if seen != *c.conn.ConnectionID {
		log.Warn().
			Str("component", "obex.client").
			Uint32("have", *c.conn.ConnectionID).
			Uint32("seen", seen).
			Msg("connection id mismatch on inbound packet")
	}
}

func (c *Client) inputConnect(status codes.Status, resp packet.Packet) (Action, []byte) {
	if status.Code() != codes.StatusOK {
		return c.fail("connect failed with status %s", status.Name())
	}
	if !resp.Final {
		return c.fail("connect response missing final bit")
	}
	if resp.Connect != nil {
		c.conn.RaiseMaxPacketLen(resp.Connect.MaxLength)
	}
	if h, ok := header.Find(resp.Headers, "ConnectionId"); ok {
		if v, err := h.AsU32(); err == nil {
			_ = c.conn.SetConnectionID(v)
		}
	}
	c.conn.Connected = true
	c.conn.State = connstate.StateIdle
	return ActionDone, nil
}

func (c *Client) inputPutGet(status codes.Status, resp packet.Packet) (Action, []byte) {
	if status.Code() == codes.StatusContinue {
		if len(c.req.queue) > 0 {
			action, buf, err := c.emitNextPutGet()
			if err != nil {
				return c.fail("building next %s packet: %v", c.req.op.Name(), err)
			}
			return action, buf
		}
		if c.req.op == codes.OpGet {
			// The server may keep streaming response fragments back
			// with no further bytes required from the client.
			return ActionContinue, nil
		}
		c.conn.State = connstate.StateStreaming
		c.req.streaming = true
		return ActionWritable, nil
	}
	if !resp.Final {
		return c.fail("non-continue response to %s missing final bit", c.req.op.Name())
	}
	c.conn.State = connstate.StateIdle
	return ActionDone, nil
}

func (c *Client) inputSinglePacket(status codes.Status, resp packet.Packet) (Action, []byte) {
	if status.Code() == codes.StatusContinue {
		return c.fail("CONTINUE packet received for %s request", c.req.op.Name())
	}
	if !resp.Final {
		return c.fail("non-continue response to %s missing final bit", c.req.op.Name())
	}
	c.conn.State = connstate.StateIdle
	return ActionDone, nil
}
