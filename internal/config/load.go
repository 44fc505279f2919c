// Package config loads configuration from files, env vars and flags, and validates it.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"tidb-odata/internal/planner"
)

// EnvPrefix prefixes every environment variable, e.g. TIODATA_SERVER_PORT.
const EnvPrefix = "TIODATA"

var defineFlagsOnce sync.Once

// Load loads configuration with the following precedence:
// 1. Explicit overrides (v.Set) used for secrets read from files or prompts
// 2. Command line flags
// 3. Environment variables
// 4. Config file
// 5. Default values
func Load() (*Config, error) {
	defineFlagsOnce.Do(func() { DefineFlags(pflag.CommandLine) })
	if !pflag.Parsed() {
		pflag.Parse()
	}
	return LoadFlags(pflag.CommandLine)
}

// LoadFlags loads configuration using an already parsed flag set. fs may be
// nil, in which case only the file, env and defaults apply.
func LoadFlags(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	cfgPath := ""
	if fs != nil {
		cfgPath, _ = fs.GetString("config")
	}
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.SetConfigName("tidb-odata")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/tidb-odata/")
		v.AddConfigPath("$HOME/.tidb-odata")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if cfgPath != "" {
			return nil, fmt.Errorf("failed to read config file %q: %w", cfgPath, err)
		}
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Canonical keys are dot + snake_case: TIODATA_QUERY_MAX_TOP.
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		bindChangedFlagsToViper(v, fs)
	}
	if err := validateSingleStdinFileSource(v); err != nil {
		return nil, err
	}
	if err := resolveSecrets(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.UnmarshalExact(
		&cfg,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				stringToStringSliceHookFunc(","),
			),
		),
	); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if !cfg.Database.IsSQLite() {
		if name, err := cfg.Database.EffectiveDatabaseName(); err == nil {
			cfg.Database.Database = name
		}
	}
	return &cfg, nil
}

// stdinPath selects standard input for a *_file setting.
const stdinPath = "@-"

// fileBackedSetting pairs a secret with the setting naming a file to read it
// from. Any of the files may be stdinPath.
type fileBackedSetting struct {
	valueKey string
	fileKey  string
	what     string
	required bool
}

var fileBackedSettings = []fileBackedSetting{
	{valueKey: "database.dsn", fileKey: "database.dsn_file", what: "database DSN"},
	{valueKey: "database.password", fileKey: "database.password_file", what: "database password"},
	{valueKey: "server.admin.auth_token", fileKey: "server.admin.auth_token_file", what: "admin auth token", required: true},
	{valueKey: "server.auth.shared_secret", fileKey: "server.auth.shared_secret_file", what: "shared secret", required: true},
}

// resolveSecrets reads file-backed settings into their value keys. An
// explicitly set value always wins over its file.
func resolveSecrets(v *viper.Viper) error {
	for _, fb := range fileBackedSettings {
		filePath := strings.TrimSpace(v.GetString(fb.fileKey))
		if v.GetString(fb.valueKey) != "" || filePath == "" {
			continue
		}
		value, err := readSecretFile(filePath)
		if err != nil {
			return fmt.Errorf("failed to read %s file: %w", fb.what, err)
		}
		if fb.required && value == "" {
			return fmt.Errorf("%s file %q is empty", fb.what, filePath)
		}
		v.Set(fb.valueKey, value)
	}

	if v.GetString("database.password") == "" && v.GetBool("database.password_prompt") {
		pwd, err := promptPassword()
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		v.Set("database.password", pwd)
	}
	return nil
}

// bindChangedFlagsToViper copies only explicitly-set flags into Viper,
// preserving precedence: flags > env > file > defaults.
func bindChangedFlagsToViper(v *viper.Viper, fs *pflag.FlagSet) {
	fs.Visit(func(f *pflag.Flag) {
		if f.Name == "config" || f.Name == "version" {
			return
		}
		switch f.Value.Type() {
		case "string":
			val, _ := fs.GetString(f.Name)
			v.Set(f.Name, val)
		case "int":
			val, _ := fs.GetInt(f.Name)
			v.Set(f.Name, val)
		case "bool":
			val, _ := fs.GetBool(f.Name)
			v.Set(f.Name, val)
		case "float64":
			val, _ := fs.GetFloat64(f.Name)
			v.Set(f.Name, val)
		case "duration":
			val, _ := fs.GetDuration(f.Name)
			v.Set(f.Name, val)
		case "stringSlice":
			val, _ := fs.GetStringSlice(f.Name)
			v.Set(f.Name, val)
		default:
			v.Set(f.Name, f.Value.String())
		}
	})
}

// DefineFlags registers every configuration flag on fs using canonical
// snake_case keys.
func DefineFlags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "Config file path")

	fs.String("database.driver", "", "Database driver (mysql, sqlite3)")
	fs.String("database.dsn", "", "Complete driver DSN (mysql: user:pass@tcp(host:port)/db, sqlite3: file path)")
	fs.String("database.dsn_file", "", "Path to file containing database DSN (use @- for stdin)")
	fs.String("database.host", "", "Database host")
	fs.Int("database.port", 0, "Database port")
	fs.String("database.user", "", "Database user")
	fs.String("database.password", "", "Database password")
	fs.String("database.password_file", "", "Path to file containing database password (use @- for stdin)")
	fs.Bool("database.password_prompt", false, "Prompt for database password securely")
	fs.String("database.database", "", "Database name")
	fs.String("database.tls.mode", "", "TLS mode (off, skip-verify, verify-ca, verify-full)")
	fs.String("database.tls.ca_file", "", "Path to CA certificate for server verification")
	fs.String("database.tls.cert_file", "", "Path to client certificate for mTLS")
	fs.String("database.tls.key_file", "", "Path to client private key for mTLS")
	fs.String("database.tls.server_name", "", "Override TLS server name for verification")
	fs.Int("database.pool.max_open", 0, "Maximum open database connections")
	fs.Int("database.pool.max_idle", 0, "Maximum idle connections in pool")
	fs.Duration("database.pool.max_lifetime", 0, "Connection max lifetime (e.g. 5m, 30s)")
	fs.Duration("database.connection_timeout", 0, "Max time to wait for database on startup (0 = fail immediately)")
	fs.Duration("database.connection_retry_interval", 0, "Initial interval between connection retries")

	fs.Int("server.port", 0, "HTTP server port")
	fs.String("server.base_path", "", "URL path the OData service is mounted under (default: /odata)")
	fs.String("server.service_root", "", "Absolute service root used in @odata.context and @odata.id")
	fs.String("server.health_path", "", "Health check path (default: /health)")
	fs.Bool("server.auth.oidc_enabled", false, "Enable OIDC/JWKS bearer authentication")
	fs.String("server.auth.oidc_issuer_url", "", "OIDC issuer URL (for discovery and JWKS)")
	fs.String("server.auth.oidc_audience", "", "Expected JWT audience (client ID)")
	fs.Duration("server.auth.oidc_clock_skew", 0, "Allowed JWT clock skew (e.g. 2m)")
	fs.String("server.auth.oidc_ca_file", "", "Additional CA bundle for the OIDC issuer")
	fs.Bool("server.auth.shared_secret_enabled", false, "Enable HS256 shared-secret bearer authentication")
	fs.String("server.auth.shared_secret", "", "HS256 signing secret")
	fs.String("server.auth.shared_secret_file", "", "Path to file containing the HS256 secret (use @- for stdin)")
	fs.String("server.auth.shared_secret_issuer", "", "Expected issuer for shared-secret tokens")
	fs.String("server.auth.shared_secret_audience", "", "Expected audience for shared-secret tokens")
	fs.Bool("server.auth.db_role_enabled", false, "Run queries under the database role named in the token (SET ROLE)")
	fs.String("server.auth.db_role_claim_name", "", "JWT claim carrying the database role (default: db_role)")
	fs.Bool("server.auth.db_role_validation", false, "Reject roles missing from db_role_allowed")
	fs.StringSlice("server.auth.db_role_allowed", nil, "Database roles requests may assume")
	fs.Bool("server.admin.schema_endpoint_enabled", false, "Enable the /admin/schema descriptor endpoint")
	fs.String("server.admin.auth_token", "", "Shared secret required in X-Admin-Token when bearer auth is off")
	fs.String("server.admin.auth_token_file", "", "Path to file containing admin auth token (use @- for stdin)")
	fs.Bool("server.rate_limit_enabled", false, "Enable rate limiting")
	fs.Float64("server.rate_limit_rps", 0, "Rate limit requests per second")
	fs.Int("server.rate_limit_burst", 0, "Rate limit burst size")
	fs.Bool("server.rate_limit_per_client", false, "Apply the rate limit per client address instead of globally")
	fs.Bool("server.cors_enabled", false, "Enable CORS")
	fs.StringSlice("server.cors_allowed_origins", nil, "Allowed CORS origins (comma-separated or repeated)")
	fs.StringSlice("server.cors_allowed_methods", nil, "Allowed CORS methods (comma-separated or repeated)")
	fs.StringSlice("server.cors_allowed_headers", nil, "Allowed CORS headers (comma-separated or repeated)")
	fs.StringSlice("server.cors_expose_headers", nil, "Extra CORS headers to expose to browsers")
	fs.Bool("server.cors_allow_credentials", false, "Allow credentials in CORS requests")
	fs.Int("server.cors_max_age", 0, "CORS preflight cache duration (seconds)")
	fs.Duration("server.read_timeout", 0, "HTTP server read timeout")
	fs.Duration("server.write_timeout", 0, "HTTP server write timeout")
	fs.Duration("server.idle_timeout", 0, "HTTP server idle timeout")
	fs.Duration("server.shutdown_timeout", 0, "HTTP server graceful shutdown timeout")
	fs.Duration("server.health_check_timeout", 0, "Health check timeout")
	fs.String("server.tls_mode", "", "TLS mode: off, auto (self-signed), file (default: off)")
	fs.String("server.tls_cert_file", "", "Path to TLS certificate file (for file mode)")
	fs.String("server.tls_key_file", "", "Path to TLS private key file (for file mode)")
	fs.String("server.tls_auto_cert_dir", "", "Directory for auto-generated certificates (default: .tls)")

	fs.String("schema.file", "", "Schema descriptor file (YAML)")
	fs.Bool("schema.introspect", false, "Build the schema from information_schema")
	fs.String("schema.namespace", "", "Namespace used in the service document and $metadata context")
	fs.StringSlice("schema.filters.allow_tables", nil, "Table glob patterns to expose when introspecting")
	fs.StringSlice("schema.filters.deny_tables", nil, "Table glob patterns to hide when introspecting")
	fs.Bool("schema.filters.scan_views", false, "Include views when introspecting")

	fs.Int("query.max_top", 0, "Maximum $top on any level (0 = unlimited)")
	fs.Int("query.default_top", 0, "Root $top applied when the request has none (0 = unlimited)")
	fs.Int("query.max_expand_depth", 0, "Maximum $expand nesting (0 = unlimited)")
	fs.Int("query.max_in_clause", 0, "Maximum parent keys bound into one expand statement (0 = unlimited)")
	fs.Bool("query.parallel_hydration", false, "Hydrate root entities concurrently")
	fs.Int("query.max_hydration_workers", 0, "Upper bound on hydration workers (0 = GOMAXPROCS)")

	fs.String("observability.service_name", "", "Service name for observability")
	fs.String("observability.service_version", "", "Service version for observability")
	fs.String("observability.environment", "", "Environment name (dev, staging, prod)")
	fs.Bool("observability.metrics_enabled", false, "Enable metrics collection")
	fs.Bool("observability.tracing_enabled", false, "Enable distributed tracing")
	fs.Float64("observability.trace_sample_ratio", 0, "Trace sampling ratio from 0.0 to 1.0")
	fs.Bool("observability.sqlcommenter_enabled", false, "Inject trace context into SQL queries")
	fs.String("observability.logging.level", "", "Log level (debug, info, warn, error)")
	fs.String("observability.logging.format", "", "Log format (json, text)")
	fs.Bool("observability.logging.exports_enabled", false, "Enable OTLP log export")
	fs.String("observability.otlp.endpoint", "", "OTLP endpoint for all signals (e.g., localhost:4317)")
	fs.String("observability.otlp.protocol", "", "OTLP protocol for all signals (grpc, http/protobuf)")
	fs.Bool("observability.otlp.insecure", false, "Use insecure connection (no TLS)")
	fs.String("observability.otlp.tls_cert_file", "", "Path to TLS certificate file for server verification")
	fs.String("observability.otlp.tls_client_cert_file", "", "Path to client certificate file for mTLS")
	fs.String("observability.otlp.tls_client_key_file", "", "Path to client key file for mTLS")
	fs.Duration("observability.otlp.timeout", 0, "OTLP export timeout")
	fs.String("observability.otlp.compression", "", "OTLP compression (none, gzip)")
	fs.Bool("observability.otlp.retry_enabled", false, "Enable retry on transient errors")
	fs.Int("observability.otlp.retry_max_attempts", 0, "Maximum retry attempts")
	fs.String("observability.traces.endpoint", "", "OTLP endpoint for traces only")
	fs.String("observability.traces.protocol", "", "OTLP protocol for traces (grpc, http/protobuf)")
	fs.Bool("observability.traces.insecure", false, "Use insecure connection for traces")
	fs.Duration("observability.traces.timeout", 0, "Timeout for trace exports")
	fs.String("observability.logs.endpoint", "", "OTLP endpoint for logs only")
	fs.String("observability.logs.protocol", "", "OTLP protocol for logs (grpc, http/protobuf)")
	fs.Bool("observability.logs.insecure", false, "Use insecure connection for logs")
	fs.Duration("observability.logs.timeout", 0, "Timeout for log exports")
	fs.String("observability.metrics.endpoint", "", "OTLP endpoint for metrics only")
	fs.Bool("observability.metrics.insecure", false, "Use insecure connection for metrics")
	fs.Duration("observability.metrics.timeout", 0, "Timeout for metric exports")
}

// setDefaults sets default values (lowest precedence).
func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", DriverMySQL)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.dsn_file", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 4000)
	v.SetDefault("database.user", "tidb_odata")
	v.SetDefault("database.password", "")
	v.SetDefault("database.password_file", "")
	v.SetDefault("database.password_prompt", false)
	v.SetDefault("database.database", "")
	v.SetDefault("database.tls.mode", "")
	v.SetDefault("database.tls.ca_file", "")
	v.SetDefault("database.tls.cert_file", "")
	v.SetDefault("database.tls.key_file", "")
	v.SetDefault("database.tls.server_name", "")
	v.SetDefault("database.pool.max_open", 25)
	v.SetDefault("database.pool.max_idle", 5)
	v.SetDefault("database.pool.max_lifetime", 5*time.Minute)
	v.SetDefault("database.connection_timeout", 60*time.Second)
	v.SetDefault("database.connection_retry_interval", 2*time.Second)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_path", "/odata")
	v.SetDefault("server.service_root", "")
	v.SetDefault("server.health_path", "/health")
	v.SetDefault("server.auth.oidc_enabled", false)
	v.SetDefault("server.auth.oidc_issuer_url", "")
	v.SetDefault("server.auth.oidc_audience", "")
	v.SetDefault("server.auth.oidc_clock_skew", 2*time.Minute)
	v.SetDefault("server.auth.oidc_ca_file", "")
	v.SetDefault("server.auth.shared_secret_enabled", false)
	v.SetDefault("server.auth.shared_secret", "")
	v.SetDefault("server.auth.shared_secret_file", "")
	v.SetDefault("server.auth.shared_secret_issuer", "")
	v.SetDefault("server.auth.shared_secret_audience", "")
	v.SetDefault("server.auth.db_role_enabled", false)
	v.SetDefault("server.auth.db_role_claim_name", "db_role")
	v.SetDefault("server.auth.db_role_validation", true)
	v.SetDefault("server.auth.db_role_allowed", []string{})
	v.SetDefault("server.admin.schema_endpoint_enabled", false)
	v.SetDefault("server.admin.auth_token", "")
	v.SetDefault("server.admin.auth_token_file", "")
	v.SetDefault("server.rate_limit_enabled", false)
	v.SetDefault("server.rate_limit_rps", 0.0)
	v.SetDefault("server.rate_limit_burst", 0)
	v.SetDefault("server.rate_limit_per_client", false)
	v.SetDefault("server.cors_enabled", false)
	v.SetDefault("server.cors_allowed_origins", []string{})
	v.SetDefault("server.cors_allowed_methods", []string{"GET", "HEAD", "OPTIONS"})
	v.SetDefault("server.cors_allowed_headers", []string{"Content-Type", "Authorization", "OData-Version", "OData-MaxVersion"})
	v.SetDefault("server.cors_expose_headers", []string{})
	v.SetDefault("server.cors_allow_credentials", false)
	v.SetDefault("server.cors_max_age", 86400)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.health_check_timeout", 2*time.Second)
	v.SetDefault("server.tls_mode", "off")
	v.SetDefault("server.tls_cert_file", "")
	v.SetDefault("server.tls_key_file", "")
	v.SetDefault("server.tls_auto_cert_dir", ".tls")

	v.SetDefault("schema.file", "")
	v.SetDefault("schema.introspect", false)
	v.SetDefault("schema.namespace", "TiDB")
	v.SetDefault("schema.uuid_columns", map[string][]string{})
	v.SetDefault("schema.filters.allow_tables", []string{"*"})
	v.SetDefault("schema.filters.deny_tables", []string{})
	v.SetDefault("schema.filters.scan_views", false)
	v.SetDefault("schema.filters.allow_columns", map[string][]string{"*": {"*"}})
	v.SetDefault("schema.filters.deny_columns", map[string][]string{})
	v.SetDefault("schema.naming.plural_overrides", map[string]string{})
	v.SetDefault("schema.naming.singular_overrides", map[string]string{})

	limits := planner.DefaultLimits()
	v.SetDefault("query.max_top", limits.MaxTop)
	v.SetDefault("query.default_top", limits.DefaultTop)
	v.SetDefault("query.max_expand_depth", limits.MaxExpandDepth)
	v.SetDefault("query.max_in_clause", limits.MaxInClause)
	v.SetDefault("query.parallel_hydration", false)
	v.SetDefault("query.max_hydration_workers", 0)

	v.SetDefault("observability.service_name", "tidb-odata")
	v.SetDefault("observability.service_version", "")
	v.SetDefault("observability.environment", "development")
	v.SetDefault("observability.metrics_enabled", true)
	v.SetDefault("observability.tracing_enabled", false)
	v.SetDefault("observability.trace_sample_ratio", 1.0)
	v.SetDefault("observability.sqlcommenter_enabled", true)
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.logging.exports_enabled", false)
	v.SetDefault("observability.otlp.endpoint", "localhost:4317")
	v.SetDefault("observability.otlp.protocol", "grpc")
	v.SetDefault("observability.otlp.insecure", false)
	v.SetDefault("observability.otlp.tls_cert_file", "")
	v.SetDefault("observability.otlp.tls_client_cert_file", "")
	v.SetDefault("observability.otlp.tls_client_key_file", "")
	v.SetDefault("observability.otlp.timeout", 10*time.Second)
	v.SetDefault("observability.otlp.compression", "gzip")
	v.SetDefault("observability.otlp.retry_enabled", true)
	v.SetDefault("observability.otlp.retry_max_attempts", 3)
}

// promptPassword prompts for a password without echoing to the terminal.
func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Enter database password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(bytePassword), nil
}

func readSecretFile(path string) (string, error) {
	var data []byte
	var err error
	if path == stdinPath {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func validateSingleStdinFileSource(v *viper.Viper) error {
	var fromStdin []string
	for _, fb := range fileBackedSettings {
		if strings.TrimSpace(v.GetString(fb.fileKey)) == stdinPath {
			fromStdin = append(fromStdin, fb.fileKey)
		}
	}
	if len(fromStdin) > 1 {
		return fmt.Errorf("only one setting may read from stdin (%s), got %s", stdinPath, strings.Join(fromStdin, ", "))
	}
	return nil
}

func stringToStringSliceHookFunc(sep string) mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf([]string{}) {
			return data, nil
		}

		raw := strings.TrimSpace(data.(string))
		if raw == "" {
			return []string{}, nil
		}

		parts := strings.Split(raw, sep)
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	}
}
