package client

import (
	"errors"
	"testing"

	"github.com/kelvinhammond/obexgo/internal/obex/codes"
	"github.com/kelvinhammond/obexgo/internal/obex/connstate"
	"github.com/kelvinhammond/obexgo/internal/obex/header"
)

func TestConnectSuccess(t *testing.T) {
	c := New()
	action, out, err := c.Connect([]header.Header{header.NewBytes(header.IDTarget, []byte("ABCD"))})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if action != ActionContinue {
		t.Fatalf("action = %v, want Continue", action)
	}
	want := []byte{0x80, 0x00, 0x0E, 0x10, 0x00, 0xFF, 0xFF, 0x46, 0x00, 0x07, 0x41, 0x42, 0x43, 0x44}
	if string(out) != string(want) {
		t.Fatalf("encoded = % X, want % X", out, want)
	}

	action, out = c.Input([]byte{0xA0, 0x00, 0x07, 0x10, 0x00, 0x04, 0x00})
	if action != ActionDone {
		t.Fatalf("action = %v, want Done", action)
	}
	if out != nil {
		t.Fatalf("expected no outgoing bytes, got % X", out)
	}
	st := c.State()
	if !st.Connected {
		t.Fatal("expected Connected")
	}
	if st.MaxPacketLen != 1024 {
		t.Fatalf("MaxPacketLen = %d, want 1024", st.MaxPacketLen)
	}
	if st.ConnectionID != nil {
		t.Fatalf("ConnectionID = %v, want nil", st.ConnectionID)
	}
	if st.State != connstate.StateIdle {
		t.Fatalf("State = %v, want Idle", st.State)
	}
}

func TestConnectWithConnectionID(t *testing.T) {
	c := New()
	if _, _, err := c.Connect(nil); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	resp := []byte{0xA0, 0x00, 0x0C, 0x10, 0x00, 0x04, 0x00, 0xCB, 0x00, 0x00, 0x00, 0x2A}
	action, _ := c.Input(resp)
	if action != ActionDone {
		t.Fatalf("action = %v, want Done", action)
	}
	st := c.State()
	if st.ConnectionID == nil || *st.ConnectionID != 0x2A {
		t.Fatalf("ConnectionID = %v, want 0x2A", st.ConnectionID)
	}

	// Subsequent request packets must lead with the ConnectionId header.
	_, out, err := c.Get([]header.Header{header.NewBytes(header.IDType, []byte("x\x00"))})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	prefix := out[3:8]
	want := []byte{0xCB, 0x00, 0x00, 0x00, 0x2A}
	if string(prefix) != string(want) {
		t.Fatalf("ConnectionId prefix = % X, want % X", prefix, want)
	}
}

func TestConnectRejectsWhileAlreadyConnected(t *testing.T) {
	c := New()
	c.Connect(nil)
	c.Input([]byte{0xA0, 0x00, 0x07, 0x10, 0x00, 0x04, 0x00})
	if _, _, err := c.Connect(nil); err != ErrAlreadyConnected {
		t.Fatalf("err = %v, want ErrAlreadyConnected", err)
	}
}

func TestGetMultiPacketResponseBodies(t *testing.T) {
	c := New()
	c.Connect(nil)
	c.Input([]byte{0xA0, 0x00, 0x07, 0x10, 0x00, 0x04, 0x00})

	_, _, err := c.Get([]header.Header{header.NewBytes(header.IDType, []byte("X\x00"))})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	action, out := c.Input([]byte{0x90, 0x00, 0x0B, 0x48, 0x00, 0x08, 0x41, 0x42, 0x43, 0x44, 0x45})
	if action != ActionContinue {
		t.Fatalf("action = %v, want Continue (server still streaming)", action)
	}
	if out != nil {
		t.Fatalf("expected no outgoing bytes, got % X", out)
	}

	action, _ = c.Input([]byte{0xA0, 0x00, 0x08, 0x49, 0x00, 0x05, 0x46, 0x47})
	if action != ActionDone {
		t.Fatalf("action = %v, want Done", action)
	}
	bodies := c.Bodies()
	if len(bodies) != 2 || string(bodies[0]) != "ABCDE" || string(bodies[1]) != "FG" {
		t.Fatalf("Bodies = %v", bodies)
	}
}

func TestPutStreamTerminatedByEmptyChunk(t *testing.T) {
	c := New()
	c.Connect(nil)
	c.Input([]byte{0xA0, 0x00, 0x07, 0x10, 0x00, 0x04, 0x00})

	_, _, err := c.PutStream([]byte("chunk1"), []header.Header{header.NewUnicode(header.IDName, "f")})
	if err != nil {
		t.Fatalf("PutStream #1: %v", err)
	}
	action, _ := c.Input([]byte{0x90, 0x00, 0x03})
	if action != ActionWritable {
		t.Fatalf("action = %v, want Writable", action)
	}

	_, _, err = c.PutStream([]byte("chunk2"), nil)
	if err != nil {
		t.Fatalf("PutStream #2: %v", err)
	}
	action, _ = c.Input([]byte{0x90, 0x00, 0x03})
	if action != ActionWritable {
		t.Fatalf("action = %v, want Writable", action)
	}

	_, out, err := c.PutStream(nil, nil)
	if err != nil {
		t.Fatalf("PutStream #3: %v", err)
	}
	if out[0]&codes.FinalBit == 0 {
		t.Fatalf("expected final bit set on terminating packet, got %#x", out[0])
	}
	action, _ = c.Input([]byte{0xA0, 0x00, 0x03})
	if action != ActionDone {
		t.Fatalf("action = %v, want Done", action)
	}
}

func TestPutStreamRejectsHeadersAfterFirstCall(t *testing.T) {
	c := New()
	c.Connect(nil)
	c.Input([]byte{0xA0, 0x00, 0x07, 0x10, 0x00, 0x04, 0x00})
	c.PutStream([]byte("a"), nil)
	_, _, err := c.PutStream([]byte("b"), []header.Header{header.NewUnicode(header.IDName, "f")})
	if err != ErrPutStreamHeadersAfterFirst {
		t.Fatalf("err = %v, want ErrPutStreamHeadersAfterFirst", err)
	}
}

func TestProtocolErrorContinueOnDisconnect(t *testing.T) {
	c := New()
	c.Connect(nil)
	c.Input([]byte{0xA0, 0x00, 0x07, 0x10, 0x00, 0x04, 0x00})
	c.Disconnect(nil)
	action, out := c.Input([]byte{0x90, 0x00, 0x03})
	if action != ActionFailed {
		t.Fatalf("action = %v, want Failed", action)
	}
	if out != nil {
		t.Fatalf("expected no outgoing bytes, got % X", out)
	}
	st := c.State()
	if st.State != connstate.StateError {
		t.Fatalf("State = %v, want Error", st.State)
	}
	detail := c.StatusDetail()
	if detail.ResponseCode != codes.StatusProtocolError {
		t.Fatalf("ResponseCode = %#x, want %#x", detail.ResponseCode, codes.StatusProtocolError)
	}
	if detail.ErrorMessage == "" {
		t.Fatal("expected a non-empty ErrorMessage")
	}
}

func TestBusyRejectsConcurrentRequest(t *testing.T) {
	c := New()
	c.Connect(nil)
	if _, _, err := c.Get(nil); !errors.Is(err, ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
}

func TestSessionAlwaysUnsupported(t *testing.T) {
	c := New()
	if _, _, err := c.Session(nil); err != ErrUnsupported {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
}

func TestPutFragmentsLargeContentWithLengthHeader(t *testing.T) {
	c := New()
	c.Connect(nil)
	c.Input([]byte{0xA0, 0x00, 0x07, 0x10, 0x00, 0x00, 0xFF}) // MaxLength=255, stays at the default
	content := make([]byte, 300)
	for i := range content {
		content[i] = byte(i)
	}
	_, out, err := c.Put(content, nil)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if len(out) > int(c.State().MaxPacketLen) {
		t.Fatalf("first packet length %d exceeds MaxPacketLen %d", len(out), c.State().MaxPacketLen)
	}
	if out[0]&codes.FinalBit != 0 {
		t.Fatal("expected final bit clear: content still queued")
	}
}

func TestGetRejectsTargetHeaderOnceConnectionIDIsSet(t *testing.T) {
	c := New()
	c.Connect(nil)
	c.Input([]byte{0xA0, 0x00, 0x0C, 0x10, 0x00, 0x04, 0x00, 0xCB, 0x00, 0x00, 0x00, 0x2A})

	_, _, err := c.Get([]header.Header{header.NewBytes(header.IDTarget, []byte("ABCD"))})
	if err != ErrTargetAndConnectionID {
		t.Fatalf("err = %v, want ErrTargetAndConnectionID", err)
	}
	if c.State().State != connstate.StateIdle {
		t.Fatalf("State = %v, want Idle: rejected call must not leave a request in flight", c.State().State)
	}
}

func TestAbortRejectsTargetHeaderOnceConnectionIDIsSet(t *testing.T) {
	c := New()
	c.Connect(nil)
	c.Input([]byte{0xA0, 0x00, 0x0C, 0x10, 0x00, 0x04, 0x00, 0xCB, 0x00, 0x00, 0x00, 0x2A})

	_, _, err := c.Abort([]header.Header{header.NewBytes(header.IDTarget, []byte("ABCD"))})
	if err != ErrTargetAndConnectionID {
		t.Fatalf("err = %v, want ErrTargetAndConnectionID", err)
	}
	if c.State().State != connstate.StateIdle {
		t.Fatalf("State = %v, want Idle: rejected call must not leave a request in flight", c.State().State)
	}
}

func TestSetPathRejectsTargetHeaderOnceConnectionIDIsSet(t *testing.T) {
	c := New()
	c.Connect(nil)
	c.Input([]byte{0xA0, 0x00, 0x0C, 0x10, 0x00, 0x04, 0x00, 0xCB, 0x00, 0x00, 0x00, 0x2A})

	_, _, err := c.SetPath([]header.Header{header.NewBytes(header.IDTarget, []byte("ABCD"))}, SetPathOptions{})
	if err != ErrTargetAndConnectionID {
		t.Fatalf("err = %v, want ErrTargetAndConnectionID", err)
	}
	if c.State().State != connstate.StateIdle {
		t.Fatalf("State = %v, want Idle: rejected call must not leave a request in flight", c.State().State)
	}
}

func TestDisconnectClearsConnectionID(t *testing.T) {
	c := New()
	c.Connect(nil)
	c.Input([]byte{0xA0, 0x00, 0x0C, 0x10, 0x00, 0x04, 0x00, 0xCB, 0x00, 0x00, 0x00, 0x2A})
	if c.State().ConnectionID == nil {
		t.Fatal("expected connect to set a connection id")
	}

	if _, _, err := c.Disconnect(nil); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	action, _ := c.Input([]byte{0xA0, 0x00, 0x03})
	if action != ActionDone {
		t.Fatalf("action = %v, want Done", action)
	}
	if c.State().Connected {
		t.Fatal("expected Connected = false after disconnect")
	}
	if c.State().ConnectionID != nil {
		t.Fatalf("ConnectionID = %v, want nil after disconnect", *c.State().ConnectionID)
	}

	// A subsequent connect must not carry the stale ConnectionId header:
	// BuildOutgoing prepends it to every outgoing packet once set, and a
	// connect packet must never carry one.
	_, out, err := c.Connect(nil)
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	for _, b := range out {
		if b == 0xCB {
			t.Fatalf("reconnect packet carries a ConnectionId header id byte: % X", out)
		}
	}
}

func TestConnectionIDMismatchIsLoggedNotFatal(t *testing.T) {
	c := New()
	c.Connect(nil)
	c.Input([]byte{0xA0, 0x00, 0x0C, 0x10, 0x00, 0x04, 0x00, 0xCB, 0x00, 0x00, 0x00, 0x2A})

	if _, _, err := c.Get(nil); err != nil {
		t.Fatalf("Get: %v", err)
	}
	// Server response carries a different ConnectionId than the one
	// recorded at connect time.
	action, _ := c.Input([]byte{0xA0, 0x00, 0x08, 0xCB, 0x00, 0x00, 0x00, 0x2B})
	if action != ActionDone {
		t.Fatalf("action = %v, want Done despite connection id mismatch", action)
	}
	if c.State().State == connstate.StateError {
		t.Fatal("expected mismatch to be logged, not fatal")
	}
}
