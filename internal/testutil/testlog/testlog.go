// Package testlog bootstraps logging once per test binary.
package testlog

import (
	"testing"

	"github.com/kelvinhammond/obexgo/internal/logging"
	"github.com/rs/zerolog/log"
)

// Start configures test-profile logging and announces t's name. Call
// it at the top of any test that exercises logged code paths.
func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	log.Info().Str("test", t.Name()).Msg("starting test")
}
