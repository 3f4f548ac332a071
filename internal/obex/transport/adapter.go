// Package transport drives the client and server state machines over
// a net.Conn: it owns dialing, TLS, deadlines, and reconnect backoff,
// and turns their Input-loop contracts into a synchronous
// read/write-until-done call.
package transport

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/kelvinhammond/obexgo/internal/obex/client"
	"github.com/kelvinhammond/obexgo/internal/obex/codes"
	"github.com/kelvinhammond/obexgo/internal/obex/connstate"
	"github.com/kelvinhammond/obexgo/internal/obex/packet"
	"github.com/kelvinhammond/obexgo/internal/obex/server"
)

// RunRequest drives one client request to completion over conn. first
// is the packet returned by the call that began the request
// (Connect/Put/Get/...); RunRequest writes it, then alternates reading
// whole response packets and feeding them to cl.Input, writing
// whatever bytes each Input call produces, until the client reports
// Done, Writable, or Failed. Writable means the in-flight request is a
// streaming put now waiting on the caller's next PutStream call; the
// connection's read/write deadlines are restored to none before
// RunRequest returns on every path.
func RunRequest(conn net.Conn, cl *client.Client, cfg Config, first []byte) (connstate.Action, error) {
	defer clearDeadlines(conn)

	if err := writeAll(conn, cfg, first); err != nil {
		return connstate.ActionFailed, err
	}
	for {
		pkt, err := readPacket(conn, cfg)
		if err != nil {
			return connstate.ActionFailed, err
		}
		action, out := cl.Input(pkt)
		if len(out) > 0 {
			if err := writeAll(conn, cfg, out); err != nil {
				return connstate.ActionFailed, err
			}
		}
		if action == connstate.ActionContinue {
			continue
		}
		return action, nil
	}
}

// ReadRequest drives srv.Input over conn until a full request has
// arrived, writing any automatic continue acknowledgements along the
// way. The returned opcode identifies the completed request; the
// caller inspects srv's accumulated headers and calls Respond or
// RespondContent, then WriteResponse to send the result.
func ReadRequest(conn net.Conn, srv *server.Server, cfg Config) (codes.Opcode, error) {
	defer clearDeadlines(conn)

	for {
		pkt, err := readPacket(conn, cfg)
		if err != nil {
			return 0, err
		}
		action, out, op := srv.Input(pkt)
		if len(out) > 0 {
			if err := writeAll(conn, cfg, out); err != nil {
				return 0, err
			}
		}
		switch action {
		case server.ActionContinue:
			continue
		case server.ActionRespond:
			return op, nil
		default:
			return 0, fmt.Errorf("transport: reading request: %s", srv.State())
		}
	}
}

// WriteResponse writes a response buffer produced by srv.Respond or
// srv.RespondContent.
func WriteResponse(conn net.Conn, cfg Config, resp []byte) error {
	return writeAll(conn, cfg, resp)
}

// readPacket reads one whole OBEX packet: the 3-byte opcode/status +
// length prefix, then however many more bytes the declared length
// calls for.
func readPacket(conn net.Conn, cfg Config) ([]byte, error) {
	if err := setReadDeadline(conn, cfg.ReadTimeout); err != nil {
		return nil, err
	}
	prefix := make([]byte, packet.HeaderLen)
	if _, err := io.ReadFull(conn, prefix); err != nil {
		return nil, fmt.Errorf("transport: reading packet prefix: %w", err)
	}
	n, err := packet.LengthProbe(prefix)
	if err != nil {
		return nil, err
	}
	if int(n) < packet.HeaderLen {
		return nil, fmt.Errorf("transport: declared packet length %d shorter than header", n)
	}
	buf := make([]byte, n)
	copy(buf, prefix)
	if int(n) > packet.HeaderLen {
		if err := setReadDeadline(conn, cfg.ReadTimeout); err != nil {
			return nil, err
		}
		if _, err := io.ReadFull(conn, buf[packet.HeaderLen:]); err != nil {
			return nil, fmt.Errorf("transport: reading packet body: %w", err)
		}
	}
	return buf, nil
}

func writeAll(conn net.Conn, cfg Config, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	if err := setWriteDeadline(conn, cfg.WriteTimeout); err != nil {
		return err
	}
	_, err := conn.Write(buf)
	if err != nil {
		return fmt.Errorf("transport: writing packet: %w", err)
	}
	return nil
}

func setReadDeadline(conn net.Conn, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	return conn.SetReadDeadline(time.Now().Add(d))
}

func setWriteDeadline(conn net.Conn, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	return conn.SetWriteDeadline(time.Now().Add(d))
}

func clearDeadlines(conn net.Conn) {
	_ = conn.SetDeadline(time.Time{})
}
