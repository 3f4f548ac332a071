package transport

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/kelvinhammond/obexgo/internal/obex/client"
	"github.com/kelvinhammond/obexgo/internal/obex/codes"
	"github.com/kelvinhammond/obexgo/internal/obex/connstate"
	"github.com/kelvinhammond/obexgo/internal/obex/header"
	"github.com/kelvinhammond/obexgo/internal/obex/server"
	"github.com/kelvinhammond/obexgo/internal/obexmetrics"
	"github.com/kelvinhammond/obexgo/internal/testutil/testlog"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ReadTimeout = 2 * time.Second
	cfg.WriteTimeout = 2 * time.Second
	return cfg
}

func TestRunRequestConnectOverPipe(t *testing.T) {
	testlog.Start(t)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	cfg := testConfig()
	cl := client.New()
	srv := server.New(server.NewIDMinter())

	serverDone := make(chan error, 1)
	go func() {
		op, err := ReadRequest(serverConn, srv, cfg)
		if err != nil {
			serverDone <- err
			return
		}
		if op != codes.OpConnect {
			serverDone <- errConnectExpected
			return
		}
		resp, err := srv.Respond(codes.StatusOK, nil)
		if err != nil {
			serverDone <- err
			return
		}
		serverDone <- WriteResponse(serverConn, cfg, resp)
	}()

	_, first, err := cl.Connect(nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	action, err := RunRequest(clientConn, cl, cfg, first)
	if err != nil {
		t.Fatalf("RunRequest: %v", err)
	}
	if action != connstate.ActionDone {
		t.Fatalf("action = %v, want Done", action)
	}
	if !cl.State().Connected {
		t.Fatal("expected client to be connected")
	}
	if err := <-serverDone; err != nil {
		t.Fatalf("server side: %v", err)
	}
	if srv.ConnectionID() == nil {
		t.Fatal("expected server to have minted a connection id")
	}
}

func TestRunRequestGetRespondContent(t *testing.T) {
	testlog.Start(t)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	cfg := testConfig()
	cl := client.New()
	srv := server.New(server.NewIDMinter())

	serverDone := make(chan error, 1)
	go func() {
		if _, err := ReadRequest(serverConn, srv, cfg); err != nil {
			serverDone <- err
			return
		}
		resp, err := srv.Respond(codes.StatusOK, nil)
		if err != nil {
			serverDone <- err
			return
		}
		serverDone <- WriteResponse(serverConn, cfg, resp)

		if _, err := ReadRequest(serverConn, srv, cfg); err != nil {
			serverDone <- err
			return
		}
		resp, err = srv.RespondContent([]byte("hello world"), codes.StatusOK, nil)
		if err != nil {
			serverDone <- err
			return
		}
		serverDone <- WriteResponse(serverConn, cfg, resp)
	}()

	_, first, err := cl.Connect(nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if action, err := RunRequest(clientConn, cl, cfg, first); err != nil || action != connstate.ActionDone {
		t.Fatalf("connect RunRequest: action=%v err=%v", action, err)
	}
	if err := <-serverDone; err != nil {
		t.Fatalf("server connect: %v", err)
	}

	_, first, err = cl.Get([]header.Header{header.NewUnicode(header.IDName, "report.txt")})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	action, err := RunRequest(clientConn, cl, cfg, first)
	if err != nil {
		t.Fatalf("get RunRequest: %v", err)
	}
	if action != connstate.ActionDone {
		t.Fatalf("action = %v, want Done", action)
	}
	if err := <-serverDone; err != nil {
		t.Fatalf("server get: %v", err)
	}

	bodies := cl.Bodies()
	if len(bodies) != 1 || string(bodies[0]) != "hello world" {
		t.Fatalf("Bodies = %v", bodies)
	}
}

var errConnectExpected = errUnexpectedOp("expected connect")

type errUnexpectedOp string

func (e errUnexpectedOp) Error() string { return string(e) }

// fakeRecorder implements obexmetrics.Recorder for tests that assert
// the client/server state machines actually call a wired recorder.
type fakeRecorder struct {
	mu             sync.Mutex
	sent           []string
	received       []string
	connectionIDs  int
	protocolErrors []string
	durations      []string
}

func (f *fakeRecorder) PacketSent(role, op string, bytes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, role+":"+op)
}

func (f *fakeRecorder) PacketReceived(role, op string, bytes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, role+":"+op)
}

func (f *fakeRecorder) ConnectionIDMinted() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectionIDs++
}

func (f *fakeRecorder) ProtocolError(role string, category codes.Category) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.protocolErrors = append(f.protocolErrors, role+":"+string(category))
}

func (f *fakeRecorder) RequestDuration(role, op string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.durations = append(f.durations, role+":"+op)
}

var _ obexmetrics.Recorder = &fakeRecorder{}

func TestSetRecorderObservesLiveConnectExchange(t *testing.T) {
	testlog.Start(t)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	cfg := testConfig()
	cl := client.New()
	srv := server.New(server.NewIDMinter())

	clientRec := &fakeRecorder{}
	serverRec := &fakeRecorder{}
	cl.SetRecorder(clientRec)
	srv.SetRecorder(serverRec)

	serverDone := make(chan error, 1)
	go func() {
		op, err := ReadRequest(serverConn, srv, cfg)
		if err != nil {
			serverDone <- err
			return
		}
		if op != codes.OpConnect {
			serverDone <- errConnectExpected
			return
		}
		resp, err := srv.Respond(codes.StatusOK, nil)
		if err != nil {
			serverDone <- err
			return
		}
		serverDone <- WriteResponse(serverConn, cfg, resp)
	}()

	_, first, err := cl.Connect(nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if action, err := RunRequest(clientConn, cl, cfg, first); err != nil || action != connstate.ActionDone {
		t.Fatalf("RunRequest: action=%v err=%v", action, err)
	}
	if err := <-serverDone; err != nil {
		t.Fatalf("server side: %v", err)
	}

	clientRec.mu.Lock()
	if len(clientRec.sent) == 0 {
		t.Error("expected client recorder to observe a sent packet")
	}
	if len(clientRec.received) == 0 {
		t.Error("expected client recorder to observe a received packet")
	}
	if len(clientRec.durations) == 0 {
		t.Error("expected client recorder to observe a request duration")
	}
	clientRec.mu.Unlock()

	serverRec.mu.Lock()
	if len(serverRec.received) == 0 {
		t.Error("expected server recorder to observe a received packet")
	}
	if len(serverRec.sent) == 0 {
		t.Error("expected server recorder to observe a sent packet")
	}
	if serverRec.connectionIDs != 1 {
		t.Errorf("connectionIDs = %d, want 1", serverRec.connectionIDs)
	}
	if len(serverRec.durations) == 0 {
		t.Error("expected server recorder to observe a request duration")
	}
	serverRec.mu.Unlock()
}
