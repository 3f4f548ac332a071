// Package config loads an OBEX endpoint's connection settings from a
// TOML file, overlaying only the keys the file actually sets onto
// DefaultConnectionProfile.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/kelvinhammond/obexgo/internal/obex/connstate"
	"github.com/kelvinhammond/obexgo/internal/obex/transport"
)

// ConnectionProfile is what a client or server needs to open an OBEX
// connection: where to dial or listen, and the transport's timeout and
// TLS posture.
type ConnectionProfile struct {
	Name         string
	Address      string
	MaxPacketLen uint16
	Transport    transport.Config
}

// DefaultConnectionProfile returns development-mode defaults with no
// TLS, matching transport.DefaultConfig.
func DefaultConnectionProfile() ConnectionProfile {
	return ConnectionProfile{
		Name:         "obex",
		MaxPacketLen: connstate.DefaultMaxPacketLen,
		Transport:    transport.DefaultConfig(),
	}
}

// fileProfile is the on-disk TOML shape: a flat key per setting, the
// same layout the runtime's own service config loaders use so that an
// unset key falls through to the default rather than zeroing a field.
type fileProfile struct {
	Name               string `toml:"name"`
	Address            string `toml:"address"`
	MaxPacketLen       int    `toml:"max_packet_len"`
	ConnectTimeoutMS   int    `toml:"connect_timeout_ms"`
	HandshakeTimeoutMS int    `toml:"handshake_timeout_ms"`
	ReadTimeoutMS      int    `toml:"read_timeout_ms"`
	WriteTimeoutMS     int    `toml:"write_timeout_ms"`
	SecurityMode       string `toml:"security_mode"`
	TLSEnabled         bool   `toml:"tls_enabled"`
	TLSMutual          bool   `toml:"tls_mutual"`
	TLSCertFile        string `toml:"tls_cert_file"`
	TLSKeyFile         string `toml:"tls_key_file"`
	TLSCAFile          string `toml:"tls_ca_file"`
	TLSInsecureSkip    bool   `toml:"tls_insecure_skip_verify"`
}

// LoadConnectionProfile reads path and overlays its defined keys onto
// DefaultConnectionProfile. A minimal file need only set address.
func LoadConnectionProfile(path string) (ConnectionProfile, error) {
	cfg := DefaultConnectionProfile()

	var raw fileProfile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ConnectionProfile{}, fmt.Errorf("config: load %q: %w", path, err)
	}

	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("address") {
		cfg.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("max_packet_len") {
		cfg.MaxPacketLen = uint16(raw.MaxPacketLen)
	}
	if meta.IsDefined("connect_timeout_ms") {
		cfg.Transport.ConnectTimeout = time.Duration(raw.ConnectTimeoutMS) * time.Millisecond
	}
	if meta.IsDefined("handshake_timeout_ms") {
		cfg.Transport.HandshakeTimeout = time.Duration(raw.HandshakeTimeoutMS) * time.Millisecond
	}
	if meta.IsDefined("read_timeout_ms") {
		cfg.Transport.ReadTimeout = time.Duration(raw.ReadTimeoutMS) * time.Millisecond
	}
	if meta.IsDefined("write_timeout_ms") {
		cfg.Transport.WriteTimeout = time.Duration(raw.WriteTimeoutMS) * time.Millisecond
	}
	if meta.IsDefined("security_mode") {
		cfg.Transport.SecurityMode = transport.SecurityMode(strings.TrimSpace(raw.SecurityMode))
	}
	if meta.IsDefined("tls_enabled") {
		cfg.Transport.TLS.Enabled = raw.TLSEnabled
	}
	if meta.IsDefined("tls_mutual") {
		cfg.Transport.TLS.Mutual = raw.TLSMutual
	}
	if meta.IsDefined("tls_cert_file") {
		cfg.Transport.TLS.CertFile = strings.TrimSpace(raw.TLSCertFile)
	}
	if meta.IsDefined("tls_key_file") {
		cfg.Transport.TLS.KeyFile = strings.TrimSpace(raw.TLSKeyFile)
	}
	if meta.IsDefined("tls_ca_file") {
		cfg.Transport.TLS.CAFile = strings.TrimSpace(raw.TLSCAFile)
	}
	if meta.IsDefined("tls_insecure_skip_verify") {
		cfg.Transport.TLS.InsecureSkipVerify = raw.TLSInsecureSkip
	}

	if err := ValidateConnectionProfile(cfg); err != nil {
		return ConnectionProfile{}, err
	}
	return cfg, nil
}

// ValidateConnectionProfile rejects a profile missing required fields
// or proposing a packet ceiling below the protocol's floor.
func ValidateConnectionProfile(cfg ConnectionProfile) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("config: profile missing name")
	}
	if strings.TrimSpace(cfg.Address) == "" {
		return fmt.Errorf("config: profile missing address")
	}
	if cfg.MaxPacketLen < connstate.DefaultMaxPacketLen {
		return fmt.Errorf("config: max_packet_len must be at least %d", connstate.DefaultMaxPacketLen)
	}
	return nil
}
