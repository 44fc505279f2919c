// Package tlscert supplies certificates to the HTTPS listener, either from
// operator-managed files or from a generated development certificate.
package tlscert

import (
	"crypto/tls"
	"fmt"
	"log/slog"
)

// Mode selects where certificates come from. It mirrors server.tls_mode.
type Mode string

const (
	ModeFile Mode = "file"
	ModeAuto Mode = "auto"
)

// MinVersion is the lowest protocol version the listener negotiates.
const MinVersion = tls.VersionTLS12

// Config describes the certificate source.
type Config struct {
	Mode Mode

	CertFile string
	KeyFile  string

	// CertDir holds the generated pair in auto mode.
	CertDir string
	Hosts   []string
}

// Manager provides TLS configuration to the HTTP server.
type Manager interface {
	GetTLSConfig() (*tls.Config, error)
	Description() string
	Shutdown() error
}

// NewManager validates cfg and returns the matching manager.
func NewManager(cfg Config, logger *slog.Logger) (Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Mode {
	case ModeFile:
		return newFileManager(cfg, logger)
	case ModeAuto:
		return newAutoManager(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported tls mode %q (valid modes: auto, file)", cfg.Mode)
	}
}
