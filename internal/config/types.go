package config

import (
	"time"

	"tidb-odata/internal/naming"
	"tidb-odata/internal/schemafilter"
)

// Supported values for database.driver.
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite3"
)

// Config holds the application configuration.
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Server        ServerConfig        `mapstructure:"server"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Schema        SchemaConfig        `mapstructure:"schema"`
	Query         QueryConfig         `mapstructure:"query"`
}

// SchemaConfig selects where the entity model comes from.
type SchemaConfig struct {
	// File is a YAML descriptor. It takes precedence over Introspect.
	File string `mapstructure:"file"`
	// Introspect builds the model from information_schema at startup.
	Introspect bool   `mapstructure:"introspect"`
	Namespace  string `mapstructure:"namespace"`
	// UUIDColumns maps table glob patterns to column glob patterns exposed as Edm.Guid.
	UUIDColumns map[string][]string `mapstructure:"uuid_columns"`
	Filters     schemafilter.Config `mapstructure:"filters"`
	Naming      naming.Config       `mapstructure:"naming"`
}

// QueryConfig bounds compiled requests and controls hydration.
type QueryConfig struct {
	MaxTop              int  `mapstructure:"max_top"`
	DefaultTop          int  `mapstructure:"default_top"`
	MaxExpandDepth      int  `mapstructure:"max_expand_depth"`
	MaxInClause         int  `mapstructure:"max_in_clause"`
	ParallelHydration   bool `mapstructure:"parallel_hydration"`
	MaxHydrationWorkers int  `mapstructure:"max_hydration_workers"`
}

// PoolConfig holds connection pool parameters.
type PoolConfig struct {
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
}

// DatabaseTLSConfig holds TLS settings for MySQL/TiDB connections.
type DatabaseTLSConfig struct {
	// Mode is one of off, skip-verify, verify-ca, verify-full.
	Mode       string `mapstructure:"mode"`
	CAFile     string `mapstructure:"ca_file"`
	CertFile   string `mapstructure:"cert_file"`
	KeyFile    string `mapstructure:"key_file"`
	ServerName string `mapstructure:"server_name"`
}

// DatabaseConfig holds database connection parameters.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	// ConnectionString is a complete driver DSN. For mysql it overrides the
	// discrete fields; for sqlite3 it is the database file or URI.
	ConnectionString string `mapstructure:"dsn"`
	// ConnectionStringFile holds the DSN in a file. "@-" reads stdin.
	ConnectionStringFile string `mapstructure:"dsn_file"`

	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	PasswordFile   string `mapstructure:"password_file"`
	PasswordPrompt bool   `mapstructure:"password_prompt"`
	Database       string `mapstructure:"database"`

	TLS  DatabaseTLSConfig `mapstructure:"tls"`
	Pool PoolConfig        `mapstructure:"pool"`

	// ConnectionTimeout is the max time to wait for the database on startup.
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
	// ConnectionRetryInterval is the initial interval between connection retries.
	ConnectionRetryInterval time.Duration `mapstructure:"connection_retry_interval"`
}

// AuthConfig holds authentication and authorization parameters. OIDC and
// shared-secret bearer auth are mutually exclusive.
type AuthConfig struct {
	OIDCEnabled   bool          `mapstructure:"oidc_enabled"`
	OIDCIssuerURL string        `mapstructure:"oidc_issuer_url"`
	OIDCAudience  string        `mapstructure:"oidc_audience"`
	OIDCClockSkew time.Duration `mapstructure:"oidc_clock_skew"`
	OIDCCAFile    string        `mapstructure:"oidc_ca_file"`

	SharedSecretEnabled  bool   `mapstructure:"shared_secret_enabled"`
	SharedSecret         string `mapstructure:"shared_secret"`
	SharedSecretFile     string `mapstructure:"shared_secret_file"`
	SharedSecretIssuer   string `mapstructure:"shared_secret_issuer"`
	SharedSecretAudience string `mapstructure:"shared_secret_audience"`

	DBRoleEnabled    bool     `mapstructure:"db_role_enabled"`
	DBRoleClaimName  string   `mapstructure:"db_role_claim_name"`
	DBRoleValidation bool     `mapstructure:"db_role_validation"`
	DBRoleAllowed    []string `mapstructure:"db_role_allowed"`
}

// BearerAuthEnabled reports whether requests must carry a bearer token.
func (a AuthConfig) BearerAuthEnabled() bool {
	return a.OIDCEnabled || a.SharedSecretEnabled
}

// AdminConfig controls administrative endpoint exposure and authentication.
type AdminConfig struct {
	SchemaEndpointEnabled bool   `mapstructure:"schema_endpoint_enabled"`
	AuthToken             string `mapstructure:"auth_token"`
	AuthTokenFile         string `mapstructure:"auth_token_file"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port                 int           `mapstructure:"port"`
	BasePath             string        `mapstructure:"base_path"`
	ServiceRoot          string        `mapstructure:"service_root"`
	HealthPath           string        `mapstructure:"health_path"`
	Auth                 AuthConfig    `mapstructure:"auth"`
	Admin                AdminConfig   `mapstructure:"admin"`
	RateLimitEnabled     bool          `mapstructure:"rate_limit_enabled"`
	RateLimitRPS         float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst       int           `mapstructure:"rate_limit_burst"`
	RateLimitPerClient   bool          `mapstructure:"rate_limit_per_client"`
	CORSEnabled          bool          `mapstructure:"cors_enabled"`
	CORSAllowedOrigins   []string      `mapstructure:"cors_allowed_origins"`
	CORSAllowedMethods   []string      `mapstructure:"cors_allowed_methods"`
	CORSAllowedHeaders   []string      `mapstructure:"cors_allowed_headers"`
	CORSExposeHeaders    []string      `mapstructure:"cors_expose_headers"`
	CORSAllowCredentials bool          `mapstructure:"cors_allow_credentials"`
	CORSMaxAge           int           `mapstructure:"cors_max_age"`
	ReadTimeout          time.Duration `mapstructure:"read_timeout"`
	WriteTimeout         time.Duration `mapstructure:"write_timeout"`
	IdleTimeout          time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout      time.Duration `mapstructure:"shutdown_timeout"`
	HealthCheckTimeout   time.Duration `mapstructure:"health_check_timeout"`

	TLSMode        string `mapstructure:"tls_mode"`          // "off", "auto", or "file"
	TLSCertFile    string `mapstructure:"tls_cert_file"`     // certificate for "file" mode
	TLSKeyFile     string `mapstructure:"tls_key_file"`      // private key for "file" mode
	TLSAutoCertDir string `mapstructure:"tls_auto_cert_dir"` // where "auto" mode keeps its certificate
}

// LoggingConfig holds logging parameters.
type LoggingConfig struct {
	Level          string `mapstructure:"level"`           // debug, info, warn, error
	Format         string `mapstructure:"format"`          // json, text
	ExportsEnabled bool   `mapstructure:"exports_enabled"` // OTLP log export
}

// ObservabilityConfig holds observability parameters.
type ObservabilityConfig struct {
	ServiceName         string        `mapstructure:"service_name"`
	ServiceVersion      string        `mapstructure:"service_version"`
	Environment         string        `mapstructure:"environment"`
	MetricsEnabled      bool          `mapstructure:"metrics_enabled"`
	TracingEnabled      bool          `mapstructure:"tracing_enabled"`
	TraceSampleRatio    float64       `mapstructure:"trace_sample_ratio"`
	SQLCommenterEnabled bool          `mapstructure:"sqlcommenter_enabled"`
	Logging             LoggingConfig `mapstructure:"logging"`

	// OTLP holds defaults for every signal.
	OTLP OTLPConfig `mapstructure:"otlp"`

	Traces  *OTLPConfig `mapstructure:"traces,omitempty"`
	Logs    *OTLPConfig `mapstructure:"logs,omitempty"`
	Metrics *OTLPConfig `mapstructure:"metrics,omitempty"`
}

// OTLPConfig holds OTLP exporter configuration
type OTLPConfig struct {
	Endpoint          string            `mapstructure:"endpoint"`
	Protocol          string            `mapstructure:"protocol"` // "grpc", "http/protobuf"
	Insecure          bool              `mapstructure:"insecure"`
	TLSCertFile       string            `mapstructure:"tls_cert_file"`
	TLSClientCertFile string            `mapstructure:"tls_client_cert_file"`
	TLSClientKeyFile  string            `mapstructure:"tls_client_key_file"`
	Headers           map[string]string `mapstructure:"headers"`
	Timeout           time.Duration     `mapstructure:"timeout"`
	Compression       string            `mapstructure:"compression"` // "none", "gzip"
	RetryEnabled      bool              `mapstructure:"retry_enabled"`
	RetryMaxAttempts  int               `mapstructure:"retry_max_attempts"`
}

// GetTracesConfig returns the effective OTLP config for traces.
func (c *ObservabilityConfig) GetTracesConfig() OTLPConfig {
	return c.signalConfig(c.Traces)
}

// GetLogsConfig returns the effective OTLP config for logs.
func (c *ObservabilityConfig) GetLogsConfig() OTLPConfig {
	return c.signalConfig(c.Logs)
}

// GetMetricsConfig returns the effective OTLP config for metrics.
func (c *ObservabilityConfig) GetMetricsConfig() OTLPConfig {
	return c.signalConfig(c.Metrics)
}

func (c *ObservabilityConfig) signalConfig(override *OTLPConfig) OTLPConfig {
	if override == nil {
		return c.OTLP
	}
	return mergeOTLPConfigs(c.OTLP, *override)
}

// mergeOTLPConfigs lays the non-zero fields of a signal override over the
// global settings. Insecure always comes from the override.
func mergeOTLPConfigs(base OTLPConfig, override OTLPConfig) OTLPConfig {
	result := base
	if override.Endpoint != "" {
		result.Endpoint = override.Endpoint
	}
	if override.Protocol != "" {
		result.Protocol = override.Protocol
	}
	result.Insecure = override.Insecure
	if override.TLSCertFile != "" {
		result.TLSCertFile = override.TLSCertFile
	}
	if override.TLSClientCertFile != "" {
		result.TLSClientCertFile = override.TLSClientCertFile
	}
	if override.TLSClientKeyFile != "" {
		result.TLSClientKeyFile = override.TLSClientKeyFile
	}
	if override.Headers != nil {
		result.Headers = make(map[string]string, len(base.Headers)+len(override.Headers))
		for k, v := range base.Headers {
			result.Headers[k] = v
		}
		for k, v := range override.Headers {
			result.Headers[k] = v
		}
	}
	if override.Timeout != 0 {
		result.Timeout = override.Timeout
	}
	if override.Compression != "" {
		result.Compression = override.Compression
	}
	if override.RetryMaxAttempts != 0 {
		result.RetryEnabled = override.RetryEnabled
		result.RetryMaxAttempts = override.RetryMaxAttempts
	}
	return result
}
