package tlscert

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// fileManager serves an operator-managed pair and picks up replacements
// when either file's modification time changes.
type fileManager struct {
	certFile string
	keyFile  string
	logger   *slog.Logger

	mu      sync.Mutex
	cert    *tls.Certificate
	certMod time.Time
	keyMod  time.Time
}

func newFileManager(cfg Config, logger *slog.Logger) (*fileManager, error) {
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, fmt.Errorf("server.tls_cert_file and server.tls_key_file are required when server.tls_mode=file")
	}
	for _, path := range []string{cfg.CertFile, cfg.KeyFile} {
		if _, err := statRegular(path); err != nil {
			return nil, err
		}
	}
	if err := requirePrivateKeyFile(cfg.KeyFile); err != nil {
		return nil, err
	}

	m := &fileManager{certFile: cfg.CertFile, keyFile: cfg.KeyFile, logger: logger}
	if _, err := m.current(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *fileManager) GetTLSConfig() (*tls.Config, error) {
	return &tls.Config{
		MinVersion: MinVersion,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			return m.current()
		},
	}, nil
}

func (m *fileManager) current() (*tls.Certificate, error) {
	certInfo, err := os.Stat(m.certFile)
	if err != nil {
		return m.fallback(err)
	}
	keyInfo, err := os.Stat(m.keyFile)
	if err != nil {
		return m.fallback(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cert != nil && certInfo.ModTime().Equal(m.certMod) && keyInfo.ModTime().Equal(m.keyMod) {
		return m.cert, nil
	}

	cert, err := tls.LoadX509KeyPair(m.certFile, m.keyFile)
	if err != nil {
		if m.cert != nil {
			m.logger.Error("certificate reload failed, keeping previous certificate",
				slog.String("cert_file", m.certFile),
				slog.String("error", err.Error()))
			return m.cert, nil
		}
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	if m.cert != nil {
		m.logger.Info("certificate reloaded", slog.String("cert_file", m.certFile))
	}
	m.cert = &cert
	m.certMod = certInfo.ModTime()
	m.keyMod = keyInfo.ModTime()
	return m.cert, nil
}

func (m *fileManager) fallback(err error) (*tls.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cert == nil {
		return nil, err
	}
	m.logger.Warn("certificate file unavailable, serving cached certificate", slog.String("error", err.Error()))
	return m.cert, nil
}

func (m *fileManager) Description() string {
	return "file " + m.certFile
}

func (m *fileManager) Shutdown() error { return nil }

func statRegular(path string) (os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("tls file %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("tls file %s is not a regular file", path)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("tls file %s is empty", path)
	}
	return info, nil
}

// requirePrivateKeyFile rejects key files readable by group or others.
func requirePrivateKeyFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return fmt.Errorf("tls key file %s has mode %04o, want 0600 or stricter", path, perm)
	}
	return nil
}
