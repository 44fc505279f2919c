package observability

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"google.golang.org/grpc/credentials"
)

// OTLPExporterConfig configures the OTLP trace and log exporters.
type OTLPExporterConfig struct {
	Endpoint          string
	Protocol          string // grpc (default) or http/protobuf
	Insecure          bool
	TLSCertFile       string // CA bundle for verifying the collector
	TLSClientCertFile string
	TLSClientKeyFile  string
	Headers           map[string]string
	Timeout           time.Duration
	Compression       string
	RetryEnabled      bool
	RetryMaxAttempts  int
}

type otlpProtocol string

const (
	otlpProtocolGRPC otlpProtocol = "grpc"
	otlpProtocolHTTP otlpProtocol = "http/protobuf"
)

const (
	otlpRetryInitial = time.Second
	otlpRetryMax     = 5 * time.Second
)

func parseOTLPProtocol(value string) (otlpProtocol, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(otlpProtocolGRPC):
		return otlpProtocolGRPC, nil
	case "http", string(otlpProtocolHTTP):
		return otlpProtocolHTTP, nil
	default:
		return "", fmt.Errorf("unsupported OTLP protocol %q (use grpc or http/protobuf)", value)
	}
}

// otlpSettings is an OTLPExporterConfig resolved once and shared by the
// trace and log exporters.
type otlpSettings struct {
	cfg      OTLPExporterConfig
	protocol otlpProtocol
	tls      *tls.Config // nil when insecure
	gzip     bool
	retry    bool
	// retryBudget bounds the total time spent retrying one export.
	retryBudget time.Duration
}

func resolveOTLP(cfg OTLPExporterConfig) (*otlpSettings, error) {
	protocol, err := parseOTLPProtocol(cfg.Protocol)
	if err != nil {
		return nil, err
	}
	s := &otlpSettings{
		cfg:      cfg,
		protocol: protocol,
		gzip:     strings.EqualFold(cfg.Compression, "gzip"),
		retry:    cfg.RetryEnabled && cfg.RetryMaxAttempts > 0,
	}
	if s.retry {
		s.retryBudget = time.Duration(cfg.RetryMaxAttempts) * otlpRetryMax
	}
	if !cfg.Insecure {
		if s.tls, err = buildTLSConfig(cfg); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func buildTLSConfig(cfg OTLPExporterConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.TLSCertFile != "" {
		pemData, err := os.ReadFile(cfg.TLSCertFile)
		if err != nil {
			return nil, fmt.Errorf("read OTLP CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("OTLP CA file %s holds no PEM certificates", cfg.TLSCertFile)
		}
		tlsConfig.RootCAs = pool
	}

	if (cfg.TLSClientCertFile == "") != (cfg.TLSClientKeyFile == "") {
		return nil, fmt.Errorf("OTLP client certificate and key must be set together")
	}
	if cfg.TLSClientCertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSClientCertFile, cfg.TLSClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load OTLP client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

// endpointIsURL reports whether the endpoint carries a scheme, which the
// HTTP exporters accept as a full URL.
func (s *otlpSettings) endpointIsURL() bool {
	return strings.HasPrefix(s.cfg.Endpoint, "http://") || strings.HasPrefix(s.cfg.Endpoint, "https://")
}

func (s *otlpSettings) traceGRPCOptions() []otlptracegrpc.Option {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(s.cfg.Endpoint)}
	if s.tls == nil {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewTLS(s.tls)))
	}
	if len(s.cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(s.cfg.Headers))
	}
	if s.cfg.Timeout > 0 {
		opts = append(opts, otlptracegrpc.WithTimeout(s.cfg.Timeout))
	}
	if s.gzip {
		opts = append(opts, otlptracegrpc.WithCompressor("gzip"))
	}
	if s.retry {
		opts = append(opts, otlptracegrpc.WithRetry(otlptracegrpc.RetryConfig{
			Enabled:         true,
			InitialInterval: otlpRetryInitial,
			MaxInterval:     otlpRetryMax,
			MaxElapsedTime:  s.retryBudget,
		}))
	}
	return opts
}

func (s *otlpSettings) traceHTTPOptions() []otlptracehttp.Option {
	var opts []otlptracehttp.Option
	if s.endpointIsURL() {
		opts = append(opts, otlptracehttp.WithEndpointURL(s.cfg.Endpoint))
	} else {
		opts = append(opts, otlptracehttp.WithEndpoint(s.cfg.Endpoint))
	}
	if s.tls == nil {
		opts = append(opts, otlptracehttp.WithInsecure())
	} else {
		opts = append(opts, otlptracehttp.WithTLSClientConfig(s.tls))
	}
	if len(s.cfg.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(s.cfg.Headers))
	}
	if s.cfg.Timeout > 0 {
		opts = append(opts, otlptracehttp.WithTimeout(s.cfg.Timeout))
	}
	if s.gzip {
		opts = append(opts, otlptracehttp.WithCompression(otlptracehttp.GzipCompression))
	}
	if s.retry {
		opts = append(opts, otlptracehttp.WithRetry(otlptracehttp.RetryConfig{
			Enabled:         true,
			InitialInterval: otlpRetryInitial,
			MaxInterval:     otlpRetryMax,
			MaxElapsedTime:  s.retryBudget,
		}))
	}
	return opts
}

func (s *otlpSettings) logGRPCOptions() []otlploggrpc.Option {
	opts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(s.cfg.Endpoint)}
	if s.tls == nil {
		opts = append(opts, otlploggrpc.WithInsecure())
	} else {
		opts = append(opts, otlploggrpc.WithTLSCredentials(credentials.NewTLS(s.tls)))
	}
	if len(s.cfg.Headers) > 0 {
		opts = append(opts, otlploggrpc.WithHeaders(s.cfg.Headers))
	}
	if s.cfg.Timeout > 0 {
		opts = append(opts, otlploggrpc.WithTimeout(s.cfg.Timeout))
	}
	if s.gzip {
		opts = append(opts, otlploggrpc.WithCompressor("gzip"))
	}
	if s.retry {
		opts = append(opts, otlploggrpc.WithRetry(otlploggrpc.RetryConfig{
			Enabled:         true,
			InitialInterval: otlpRetryInitial,
			MaxInterval:     otlpRetryMax,
			MaxElapsedTime:  s.retryBudget,
		}))
	}
	return opts
}

func (s *otlpSettings) logHTTPOptions() []otlploghttp.Option {
	var opts []otlploghttp.Option
	if s.endpointIsURL() {
		opts = append(opts, otlploghttp.WithEndpointURL(s.cfg.Endpoint))
	} else {
		opts = append(opts, otlploghttp.WithEndpoint(s.cfg.Endpoint))
	}
	if s.tls == nil {
		opts = append(opts, otlploghttp.WithInsecure())
	} else {
		opts = append(opts, otlploghttp.WithTLSClientConfig(s.tls))
	}
	if len(s.cfg.Headers) > 0 {
		opts = append(opts, otlploghttp.WithHeaders(s.cfg.Headers))
	}
	if s.cfg.Timeout > 0 {
		opts = append(opts, otlploghttp.WithTimeout(s.cfg.Timeout))
	}
	if s.gzip {
		opts = append(opts, otlploghttp.WithCompression(otlploghttp.GzipCompression))
	}
	if s.retry {
		opts = append(opts, otlploghttp.WithRetry(otlploghttp.RetryConfig{
			Enabled:         true,
			InitialInterval: otlpRetryInitial,
			MaxInterval:     otlpRetryMax,
			MaxElapsedTime:  s.retryBudget,
		}))
	}
	return opts
}
