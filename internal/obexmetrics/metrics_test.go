package obexmetrics

import (
	"testing"
	"time"

	"github.com/kelvinhammond/obexgo/internal/obex/codes"
	"github.com/kelvinhammond/obexgo/internal/testutil/testlog"
)

func TestRegisterAndRecordAreIdempotentAndSafe(t *testing.T) {
	testlog.Start(t)

	Register()
	Register()

	r := NewPrometheusRecorder()
	r.PacketSent("client", "connect", 14)
	r.PacketReceived("server", "connect", 7)
	r.ConnectionIDMinted()
	r.ProtocolError("client", codes.CategoryClientError)
	r.RequestDuration("client", "get", 3*time.Millisecond)
}

func TestPrometheusRecorderSatisfiesRecorder(t *testing.T) {
	var _ Recorder = PrometheusRecorder{}
}
