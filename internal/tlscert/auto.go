package tlscert

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"slices"
	"time"
)

const (
	autoCertName = "odata-dev.crt"
	autoKeyName  = "odata-dev.key"
	autoValidity = 90 * 24 * time.Hour
	// Regenerate when less than this much validity remains.
	autoRenewBefore = 7 * 24 * time.Hour
)

var defaultHosts = []string{"localhost", "127.0.0.1", "::1"}

// autoManager keeps a development certificate in CertDir, reusing it across
// restarts while it still covers the configured hosts.
type autoManager struct {
	certPath string
	keyPath  string
}

func newAutoManager(cfg Config, logger *slog.Logger) (*autoManager, error) {
	if cfg.CertDir == "" {
		return nil, fmt.Errorf("server.tls_auto_cert_dir is required when server.tls_mode=auto")
	}
	hosts := cfg.Hosts
	if len(hosts) == 0 {
		hosts = defaultHosts
	}
	if err := os.MkdirAll(cfg.CertDir, 0o700); err != nil {
		return nil, fmt.Errorf("create tls cert dir: %w", err)
	}

	m := &autoManager{
		certPath: filepath.Join(cfg.CertDir, autoCertName),
		keyPath:  filepath.Join(cfg.CertDir, autoKeyName),
	}

	if reusable(m.certPath, m.keyPath, hosts, time.Now()) {
		logger.Info("reusing development certificate", slog.String("cert_path", m.certPath))
		return m, nil
	}
	if err := writeDevCertificate(m.certPath, m.keyPath, hosts, time.Now()); err != nil {
		return nil, err
	}
	logger.Warn("generated self-signed development certificate; clients will not trust it",
		slog.String("cert_path", m.certPath),
		slog.Any("hosts", hosts))
	return m, nil
}

func (m *autoManager) GetTLSConfig() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(m.certPath, m.keyPath)
	if err != nil {
		return nil, fmt.Errorf("load development certificate: %w", err)
	}
	return &tls.Config{MinVersion: MinVersion, Certificates: []tls.Certificate{cert}}, nil
}

func (m *autoManager) Description() string {
	return "self-signed " + m.certPath
}

func (m *autoManager) Shutdown() error { return nil }

func writeDevCertificate(certPath, keyPath string, hosts []string, now time.Time) error {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 127))
	if err != nil {
		return fmt.Errorf("generate serial: %w", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: hosts[0], Organization: []string{"TiDB OData development"}},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(autoValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, host := range hosts {
		if ip := net.ParseIP(host); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		} else {
			tmpl.DNSNames = append(tmpl.DNSNames, host)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("create certificate: %w", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("encode key: %w", err)
	}

	if err := os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		return fmt.Errorf("write key: %w", err)
	}
	if err := os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o644); err != nil {
		return fmt.Errorf("write certificate: %w", err)
	}
	return nil
}

// reusable reports whether the stored pair loads, is not close to expiry and
// names exactly the requested hosts.
func reusable(certPath, keyPath string, hosts []string, now time.Time) bool {
	pair, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil || len(pair.Certificate) == 0 {
		return false
	}
	cert, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return false
	}
	if now.Before(cert.NotBefore) || now.Add(autoRenewBefore).After(cert.NotAfter) {
		return false
	}

	var have []string
	have = append(have, cert.DNSNames...)
	for _, ip := range cert.IPAddresses {
		have = append(have, ip.String())
	}
	var want []string
	for _, host := range hosts {
		if ip := net.ParseIP(host); ip != nil {
			want = append(want, ip.String())
		} else {
			want = append(want, host)
		}
	}
	slices.Sort(have)
	slices.Sort(want)
	return slices.Equal(have, want)
}
