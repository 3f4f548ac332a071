package config

import (
	"fmt"
	"os"
	"strings"
)

// Template returns the starter TOML for kind ("client" or "server").
func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "client":
		return clientTemplate, nil
	case "server":
		return serverTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

// WriteTemplate writes kind's starter TOML to path, refusing to
// overwrite an existing file unless overwrite is set.
func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const clientTemplate = `name = "obex-client"
address = "127.0.0.1:650"
max_packet_len = 4096
connect_timeout_ms = 5000
handshake_timeout_ms = 5000
read_timeout_ms = 15000
write_timeout_ms = 15000
security_mode = "development"
tls_enabled = false
`

const serverTemplate = `name = "obex-server"
address = ":650"
max_packet_len = 4096
read_timeout_ms = 15000
write_timeout_ms = 15000
security_mode = "production"
tls_enabled = true
tls_mutual = true
tls_cert_file = "/etc/obex/server.pem"
tls_key_file = "/etc/obex/server-key.pem"
tls_ca_file = "/etc/obex/ca.pem"
`
