package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// tlsConfigName is the name custom TLS configs are registered under with the MySQL driver.
const tlsConfigName = "tidb-odata-custom"

// IsSQLite reports whether the configured driver is sqlite3.
func (d *DatabaseConfig) IsSQLite() bool {
	return d.Driver == DriverSQLite
}

// DSN returns the data source name for the configured driver.
func (d *DatabaseConfig) DSN() (string, error) {
	return d.dsn(true)
}

// DSNWithoutDatabase returns a DSN that omits the default database. Role-based
// execution selects the database after SET ROLE.
func (d *DatabaseConfig) DSNWithoutDatabase() (string, error) {
	return d.dsn(false)
}

func (d *DatabaseConfig) dsn(withDatabase bool) (string, error) {
	if d.IsSQLite() {
		if strings.TrimSpace(d.ConnectionString) == "" {
			return "", fmt.Errorf("database.dsn is required for the sqlite3 driver")
		}
		return d.ConnectionString, nil
	}

	var cfg *mysql.Config
	if d.ConnectionString != "" {
		parsed, err := mysql.ParseDSN(d.ConnectionString)
		if err != nil {
			return "", fmt.Errorf("database.dsn is invalid: %w", err)
		}
		cfg = parsed
	} else {
		cfg = mysql.NewConfig()
		cfg.User = d.User
		cfg.Passwd = d.Password
		cfg.Net = "tcp"
		cfg.Addr = fmt.Sprintf("%s:%d", d.Host, d.Port)
		cfg.DBName = d.Database
	}
	if !withDatabase {
		cfg.DBName = ""
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	if param := d.effectiveTLSParam(); param != "" && cfg.TLSConfig == "" {
		cfg.TLSConfig = param
	}
	return cfg.FormatDSN(), nil
}

// EffectiveDatabaseName returns the database used for introspection and
// role-aware execution. database.database wins; otherwise the DSN's database.
func (d *DatabaseConfig) EffectiveDatabaseName() (string, error) {
	if d.IsSQLite() {
		return "main", nil
	}
	configured := strings.TrimSpace(d.Database)
	fromDSN, err := parseDSNDatabaseName(d.ConnectionString)
	if err != nil {
		return "", err
	}
	switch {
	case configured != "" && fromDSN != "" && configured != fromDSN:
		return "", fmt.Errorf("database mismatch: database.database=%q but database.dsn targets %q", configured, fromDSN)
	case configured != "":
		return configured, nil
	case fromDSN != "":
		return fromDSN, nil
	default:
		return "", fmt.Errorf("no database configured: set database.database or include /<database> in database.dsn")
	}
}

func parseDSNDatabaseName(connectionString string) (string, error) {
	dsn := strings.TrimSpace(connectionString)
	if dsn == "" {
		return "", nil
	}
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("database.dsn is invalid: %w", err)
	}
	return strings.TrimSpace(parsed.DBName), nil
}

func (d *DatabaseConfig) effectiveTLSParam() string {
	switch d.TLS.Mode {
	case "":
		return ""
	case "off":
		return "false"
	case "skip-verify":
		return "skip-verify"
	case "verify-ca", "verify-full":
		return tlsConfigName
	default:
		return d.TLS.Mode
	}
}

// RegisterTLS registers the custom TLS configuration with the MySQL driver.
// It must run before the connection is opened and is a no-op unless the
// mode is verify-ca or verify-full.
func (d *DatabaseConfig) RegisterTLS() error {
	if d.IsSQLite() || (d.TLS.Mode != "verify-ca" && d.TLS.Mode != "verify-full") {
		return nil
	}

	tlsCfg, err := d.buildTLSConfig()
	if err != nil {
		return fmt.Errorf("failed to build TLS config: %w", err)
	}
	if err := mysql.RegisterTLSConfig(tlsConfigName, tlsCfg); err != nil {
		return fmt.Errorf("failed to register TLS config: %w", err)
	}
	return nil
}

func (d *DatabaseConfig) buildTLSConfig() (*tls.Config, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if d.TLS.CAFile != "" {
		caCert, err := os.ReadFile(d.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file %q: %w", d.TLS.CAFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate from %q", d.TLS.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	switch {
	case d.TLS.CertFile != "" && d.TLS.KeyFile != "":
		cert, err := tls.LoadX509KeyPair(d.TLS.CertFile, d.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	case d.TLS.CertFile != "" || d.TLS.KeyFile != "":
		return nil, fmt.Errorf("both cert_file and key_file must be specified for client certificate authentication")
	}

	if d.TLS.Mode == "verify-full" {
		tlsCfg.ServerName = d.TLS.ServerName
		if tlsCfg.ServerName == "" {
			tlsCfg.ServerName = d.Host
		}
	}
	return tlsCfg, nil
}
