package config

import (
	"fmt"
	"net"
	"net/url"
	"path"
	"strings"

	"tidb-odata/internal/schemafilter"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

func (r *ValidationResult) addError(field, message, hint string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message, Hint: hint})
}

func (r *ValidationResult) addWarning(field, message, hint string) {
	r.Warnings = append(r.Warnings, ValidationWarning{Field: field, Message: message, Hint: hint})
}

// Validate checks the configuration and returns fatal errors and warnings.
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}
	c.Database.validate(result)
	c.Server.validate(result)
	c.Observability.validate(result)
	c.Schema.validate(result, c.Database.IsSQLite())
	c.Query.validate(result)
	return result
}

func (s *SchemaConfig) validate(result *ValidationResult, sqlite bool) {
	if strings.TrimSpace(s.File) == "" && !s.Introspect {
		result.addError("schema.file", "no schema source configured", "set schema.file or schema.introspect=true")
	}
	if strings.TrimSpace(s.File) != "" && s.Introspect {
		result.addWarning("schema.introspect", "schema.file is set; introspection is ignored", "")
	}
	if s.Introspect && strings.TrimSpace(s.File) == "" && sqlite {
		result.addError("schema.introspect", "introspection requires the mysql driver", "provide schema.file when using sqlite3")
	}
	if strings.TrimSpace(s.Namespace) == "" {
		result.addError("schema.namespace", "namespace cannot be empty", "")
	}
	validatePatternMap(result, "schema.uuid_columns", s.UUIDColumns)
	validateSchemaFilters(result, s.Filters)
}

func (q *QueryConfig) validate(result *ValidationResult) {
	nonNegative := map[string]int{
		"query.max_top":               q.MaxTop,
		"query.default_top":           q.DefaultTop,
		"query.max_expand_depth":      q.MaxExpandDepth,
		"query.max_in_clause":         q.MaxInClause,
		"query.max_hydration_workers": q.MaxHydrationWorkers,
	}
	for field, value := range nonNegative {
		if value < 0 {
			result.addError(field, fmt.Sprintf("%s cannot be negative", field[len("query."):]), "")
		}
	}
	if q.MaxTop > 0 && q.DefaultTop > q.MaxTop {
		result.addWarning("query.default_top", "default_top is greater than max_top", "the default is capped at max_top")
	}
	if !q.ParallelHydration && q.MaxHydrationWorkers > 0 {
		result.addWarning("query.max_hydration_workers", "max_hydration_workers is set but parallel_hydration is disabled", "")
	}
}

func validateSchemaFilters(result *ValidationResult, filters schemafilter.Config) {
	validateGlobList(result, "schema.filters.allow_tables", filters.AllowTables)
	validateGlobList(result, "schema.filters.deny_tables", filters.DenyTables)
	validatePatternMap(result, "schema.filters.allow_columns", filters.AllowColumns)
	validatePatternMap(result, "schema.filters.deny_columns", filters.DenyColumns)
}

func validatePatternMap(result *ValidationResult, field string, patternMap map[string][]string) {
	for tablePattern, columnPatterns := range patternMap {
		if strings.TrimSpace(tablePattern) == "" {
			result.addError(field, "table pattern cannot be empty", "")
			continue
		}
		if _, err := path.Match(strings.ToLower(tablePattern), "probe"); err != nil {
			result.addError(field, fmt.Sprintf("invalid table glob pattern %q: %v", tablePattern, err), "")
		}
		for _, columnPattern := range columnPatterns {
			if strings.TrimSpace(columnPattern) == "" {
				result.addError(field, fmt.Sprintf("column pattern for table pattern %q cannot be empty", tablePattern), "")
				continue
			}
			if _, err := path.Match(strings.ToLower(columnPattern), "probe"); err != nil {
				result.addError(field, fmt.Sprintf("invalid column glob pattern %q for table pattern %q: %v", columnPattern, tablePattern, err), "")
			}
		}
	}
}

func validateGlobList(result *ValidationResult, field string, patterns []string) {
	for _, pattern := range patterns {
		if strings.TrimSpace(pattern) == "" {
			result.addError(field, "glob pattern cannot be empty", "")
			continue
		}
		if _, err := path.Match(strings.ToLower(pattern), "probe"); err != nil {
			result.addError(field, fmt.Sprintf("invalid glob pattern %q: %v", pattern, err), "")
		}
	}
}

func (d *DatabaseConfig) validate(result *ValidationResult) {
	switch d.Driver {
	case DriverMySQL:
	case DriverSQLite:
		if strings.TrimSpace(d.ConnectionString) == "" {
			result.addError("database.dsn", "dsn is required for the sqlite3 driver", "use a file path or file::memory:?cache=shared")
		}
	default:
		result.addError("database.driver", fmt.Sprintf("unsupported driver %q", d.Driver), "valid values are: mysql, sqlite3")
		return
	}

	if d.Pool.MaxOpen < 0 {
		result.addError("database.pool.max_open", "max_open cannot be negative", "")
	}
	if d.Pool.MaxIdle < 0 {
		result.addError("database.pool.max_idle", "max_idle cannot be negative", "")
	}
	if d.Pool.MaxIdle > d.Pool.MaxOpen && d.Pool.MaxOpen > 0 {
		result.addWarning("database.pool.max_idle", "max_idle is greater than max_open", "idle connections will be limited to max_open")
	}

	if d.ConnectionTimeout < 0 {
		result.addError("database.connection_timeout", "connection_timeout cannot be negative", "")
	}
	if d.ConnectionRetryInterval < 0 {
		result.addError("database.connection_retry_interval", "connection_retry_interval cannot be negative", "")
	}
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval == 0 {
		result.addError("database.connection_retry_interval",
			"connection_retry_interval must be greater than 0 when connection_timeout is set",
			"set a retry interval such as 2s, or set connection_timeout to 0 to disable retries")
	}
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval > d.ConnectionTimeout {
		result.addWarning("database.connection_retry_interval", "connection_retry_interval is greater than connection_timeout", "only one connection attempt will be made")
	}

	if d.IsSQLite() {
		return
	}

	if d.ConnectionString == "" && (d.Port < 1 || d.Port > 65535) {
		result.addError("database.port", fmt.Sprintf("port %d is out of valid range (1-65535)", d.Port), "")
	}
	d.TLS.validate(result)

	if _, err := d.EffectiveDatabaseName(); err != nil {
		field := "database.database"
		if strings.HasPrefix(err.Error(), "database.dsn") {
			field = "database.dsn"
		}
		result.addError(field, err.Error(), "set database.database or include a /database in database.dsn")
	}
}

func (t *DatabaseTLSConfig) validate(result *ValidationResult) {
	validModes := map[string]bool{"": true, "off": true, "skip-verify": true, "verify-ca": true, "verify-full": true}
	if !validModes[t.Mode] {
		result.addError("database.tls.mode", fmt.Sprintf("invalid TLS mode %q", t.Mode), "valid values are: off, skip-verify, verify-ca, verify-full")
	}
	if (t.Mode == "verify-ca" || t.Mode == "verify-full") && t.CAFile == "" {
		result.addError("database.tls.ca_file", "CA file is required for verify-ca and verify-full modes", "")
	}
	if (t.CertFile == "") != (t.KeyFile == "") {
		result.addError("database.tls.cert_file", "both cert_file and key_file must be specified for client certificate authentication", "provide both cert_file and key_file, or neither")
	}
	if t.Mode == "skip-verify" {
		result.addWarning("database.tls.mode", "skip-verify mode does not verify server certificates", "use verify-ca or verify-full in production")
	}
}

func (s *ServerConfig) validate(result *ValidationResult) {
	if s.Port < 1 || s.Port > 65535 {
		result.addError("server.port", fmt.Sprintf("port %d is out of valid range (1-65535)", s.Port), "")
	}

	if s.BasePath != "" && !strings.HasPrefix(s.BasePath, "/") {
		result.addError("server.base_path", fmt.Sprintf("base path %q must start with /", s.BasePath), "")
	}
	if s.HealthPath == "" || !strings.HasPrefix(s.HealthPath, "/") {
		result.addError("server.health_path", fmt.Sprintf("health path %q must start with /", s.HealthPath), "")
	}
	if base := strings.TrimSuffix(s.BasePath, "/"); base != "" && (s.HealthPath == base || strings.HasPrefix(s.HealthPath, base+"/")) {
		result.addError("server.health_path", "health path is inside the OData base path", "move health_path outside server.base_path")
	}
	if s.ServiceRoot != "" {
		if parsed, err := url.Parse(s.ServiceRoot); err != nil || parsed.Scheme == "" || parsed.Host == "" {
			result.addError("server.service_root", fmt.Sprintf("service root %q must be an absolute URL", s.ServiceRoot), "")
		}
	}

	if s.RateLimitEnabled {
		if s.RateLimitRPS <= 0 {
			result.addError("server.rate_limit_rps", "rate_limit_rps must be greater than 0 when rate limiting is enabled", "")
		}
		if s.RateLimitBurst <= 0 {
			result.addError("server.rate_limit_burst", "rate_limit_burst must be greater than 0 when rate limiting is enabled", "")
		}
	} else if s.RateLimitRPS > 0 || s.RateLimitBurst > 0 || s.RateLimitPerClient {
		result.addWarning("server.rate_limit_enabled", "rate limit values are set but rate limiting is disabled", "enable server.rate_limit_enabled to apply rate limits")
	}

	s.validateCORS(result)
	s.Auth.validate(result)

	if s.Admin.SchemaEndpointEnabled && !s.Auth.BearerAuthEnabled() && s.Admin.AuthToken == "" {
		result.addError("server.admin.auth_token", "admin schema endpoint requires bearer auth or an admin token", "set server.admin.auth_token or enable OIDC/shared-secret auth")
	}

	validTLSModes := map[string]bool{"": true, "off": true, "auto": true, "file": true}
	if !validTLSModes[s.TLSMode] {
		result.addError("server.tls_mode", fmt.Sprintf("invalid TLS mode %q", s.TLSMode), "valid values are: off, auto, file")
	}
	if s.TLSMode == "file" {
		if s.TLSCertFile == "" {
			result.addError("server.tls_cert_file", "TLS cert file required when tls_mode is 'file'", "")
		}
		if s.TLSKeyFile == "" {
			result.addError("server.tls_key_file", "TLS key file required when tls_mode is 'file'", "")
		}
	}
}

func (s *ServerConfig) validateCORS(result *ValidationResult) {
	if !s.CORSEnabled {
		return
	}
	if len(s.CORSAllowedOrigins) == 0 {
		result.addError("server.cors_allowed_origins", "CORS enabled but no allowed origins configured", "set cors_allowed_origins or disable CORS")
	}
	hasWildcard := false
	for _, origin := range s.CORSAllowedOrigins {
		if strings.TrimSpace(origin) == "*" {
			hasWildcard = true
			break
		}
	}
	if hasWildcard && s.CORSAllowCredentials {
		result.addError("server.cors_allowed_origins", "wildcard origin (*) cannot be used with credentials", "use specific origins with credentials, or wildcard without credentials")
	}
	if hasWildcard {
		result.addWarning("server.cors_allowed_origins", "CORS wildcard origin enabled", "use specific origins in production")
	}
}

func (a *AuthConfig) validate(result *ValidationResult) {
	if a.OIDCEnabled && a.SharedSecretEnabled {
		result.addError("server.auth.shared_secret_enabled", "shared-secret auth cannot be combined with OIDC", "enable exactly one bearer auth mode")
	}
	if a.OIDCEnabled {
		if a.OIDCIssuerURL == "" {
			result.addError("server.auth.oidc_issuer_url", "issuer URL is required when OIDC is enabled", "")
		}
		if a.OIDCAudience == "" {
			result.addError("server.auth.oidc_audience", "audience is required when OIDC is enabled", "")
		}
	}
	if a.SharedSecretEnabled && a.SharedSecret == "" {
		result.addError("server.auth.shared_secret", "secret is required when shared-secret auth is enabled", "set shared_secret or shared_secret_file")
	}
	if a.DBRoleEnabled {
		if !a.BearerAuthEnabled() {
			result.addError("server.auth.db_role_enabled", "db_role_enabled requires bearer auth", "enable OIDC or shared-secret auth")
		}
		if a.DBRoleValidation && len(a.DBRoleAllowed) == 0 {
			result.addError("server.auth.db_role_allowed", "db_role_validation requires at least one allowed role", "")
		}
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[o.Logging.Level] {
		result.addError("observability.logging.level", fmt.Sprintf("invalid log level %q", o.Logging.Level), "valid values are: debug, info, warn, error")
	}
	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[o.Logging.Format] {
		result.addError("observability.logging.format", fmt.Sprintf("invalid log format %q", o.Logging.Format), "valid values are: json, text")
	}
	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		result.addError("observability.trace_sample_ratio", "trace_sample_ratio must be between 0 and 1", "")
	}

	o.OTLP.validate("observability.otlp", result)
	if o.Traces != nil {
		o.Traces.validate("observability.traces", result)
	}
	if o.Logs != nil {
		o.Logs.validate("observability.logs", result)
	}
	if o.Metrics != nil {
		o.Metrics.validate("observability.metrics", result)
	}
}

func (o *OTLPConfig) validate(prefix string, result *ValidationResult) {
	validProtocols := map[string]bool{"": true, "grpc": true, "http/protobuf": true}
	if !validProtocols[o.Protocol] {
		result.addError(prefix+".protocol", fmt.Sprintf("invalid OTLP protocol %q", o.Protocol), "valid values are: grpc, http/protobuf")
	}
	if o.Protocol == "http/protobuf" && !validOTLPEndpoint(o.Endpoint) {
		result.addError(prefix+".endpoint", fmt.Sprintf("invalid OTLP endpoint %q for http/protobuf", o.Endpoint), "use host:port or a full URL")
	}
	validCompressions := map[string]bool{"": true, "none": true, "gzip": true}
	if !validCompressions[o.Compression] {
		result.addError(prefix+".compression", fmt.Sprintf("invalid OTLP compression %q", o.Compression), "valid values are: none, gzip")
	}
	if o.RetryMaxAttempts < 0 {
		result.addError(prefix+".retry_max_attempts", "retry_max_attempts cannot be negative", "")
	}
}

func validOTLPEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return parsed.Host != ""
	}
	_, _, err := net.SplitHostPort(endpoint)
	return err == nil
}
