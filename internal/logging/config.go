// Package logging configures the process-wide zerolog logger: a
// console writer for every profile (there is no JSON output mode),
// level and formatting driven by OBEX_LOG_* environment variables.
package logging

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel     = "OBEX_LOG_LEVEL"
	EnvLogTimestamp = "OBEX_LOG_TIMESTAMP"
	EnvLogNoColor   = "OBEX_LOG_NOCOLOR"
	EnvLogBypass    = "OBEX_LOG_BYPASS"
)

// Profile selects the default level/timestamp combination before env
// overrides are applied.
type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

type config struct {
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
	Bypass    bool
}

var configureOnce sync.Once

// ConfigureRuntime configures the global logger for normal process
// operation. Safe to call more than once; only the first call takes
// effect.
func ConfigureRuntime() { Configure(ProfileRuntime) }

// ConfigureTests configures the global logger for test runs: debug
// level, no timestamps, grounded on the per-test bootstrap in
// internal/testutil/testlog.
func ConfigureTests() { Configure(ProfileTest) }

// Configure applies profile's defaults plus any OBEX_LOG_* env
// overrides to the global zerolog logger.
func Configure(profile Profile) {
	configureOnce.Do(func() {
		cfg := defaultConfig(profile)
		applyEnvOverrides(&cfg)

		if cfg.Bypass {
			log.Logger = zerolog.Nop()
			return
		}

		writer := consoleWriter(cfg.NoColor)
		logger := zerolog.New(writer).Level(cfg.Level).With().Timestamp().Logger()
		if !cfg.Timestamp {
			logger = zerolog.New(writer).Level(cfg.Level)
		}
		zerolog.SetGlobalLevel(cfg.Level)
		log.Logger = logger
	})
}

func consoleWriter(noColor bool) zerolog.ConsoleWriter {
	out := colorable.NewColorableStdout()
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		noColor = true
	}
	return zerolog.ConsoleWriter{Out: out, NoColor: noColor, TimeFormat: time.RFC3339}
}

func defaultConfig(profile Profile) config {
	switch profile {
	case ProfileTest:
		return config{Level: zerolog.DebugLevel, Timestamp: false}
	default:
		return config{Level: zerolog.InfoLevel, Timestamp: true}
	}
}

func applyEnvOverrides(cfg *config) {
	if lvl, ok := parseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	if v, ok := parseBool(os.Getenv(EnvLogTimestamp)); ok {
		cfg.Timestamp = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		cfg.NoColor = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogBypass)); ok {
		cfg.Bypass = v
	}
}

func parseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace", "diagnostics":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none", "inactive":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
