package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"tidb-odata/internal/logging"
	"tidb-odata/internal/observability"
	"tidb-odata/internal/response"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
)

// OIDCAuthConfig controls OIDC/JWKS validation behavior.
type OIDCAuthConfig struct {
	Enabled       bool
	IssuerURL     string
	Audience      string
	ClockSkew     time.Duration
	SkipTLSVerify bool
	// CAFile adds a PEM bundle to the roots trusted for the issuer.
	CAFile string
}

// SharedSecretAuthConfig controls HS256 bearer token validation.
type SharedSecretAuthConfig struct {
	Secret    string
	Issuer    string
	Audience  string
	ClockSkew time.Duration
}

type authContextKey struct{}

// AuthContext carries validated JWT claims.
type AuthContext struct {
	Subject  string
	Issuer   string
	Audience []string
	Claims   map[string]interface{}
}

// WithAuthContext attaches auth to ctx.
func WithAuthContext(ctx context.Context, auth AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// AuthFromContext returns the auth context from a request context.
func AuthFromContext(ctx context.Context) (AuthContext, bool) {
	value := ctx.Value(authContextKey{})
	if value == nil {
		return AuthContext{}, false
	}
	auth, ok := value.(AuthContext)
	return auth, ok
}

// tokenVerifier turns a raw bearer token into claims. reason is a short
// metric label for failures.
type tokenVerifier func(ctx context.Context, token string) (claims map[string]interface{}, reason string, err error)

// OIDCAuthMiddleware validates Bearer tokens against an OIDC issuer when enabled.
// Optional securityMetrics parameter enables security monitoring; pass nil to disable.
func OIDCAuthMiddleware(cfg OIDCAuthConfig, logger *logging.Logger, securityMetrics ...*observability.SecurityMetrics) (func(http.Handler) http.Handler, error) {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }, nil
	}

	if cfg.IssuerURL == "" || cfg.Audience == "" {
		return nil, errors.New("oidc auth enabled but issuer/audience not configured")
	}
	if cfg.ClockSkew == 0 {
		cfg.ClockSkew = 2 * time.Minute
	}

	issuerURL, err := url.Parse(cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid oidc issuer url: %w", err)
	}
	if issuerURL.Scheme != "https" {
		return nil, errors.New("oidc issuer url must use https")
	}
	if logger != nil && cfg.SkipTLSVerify {
		logger.Warn("oidc tls verification is disabled; enable only for local development",
			"issuer", cfg.IssuerURL,
		)
	}

	httpClient, err := newOIDCHTTPClient(cfg)
	if err != nil {
		return nil, err
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize oidc provider: %w", err)
	}
	// Expiry is checked below with the configured clock skew instead of
	// go-oidc's exact comparison.
	verifier := provider.Verifier(&oidc.Config{ClientID: cfg.Audience, SkipExpiryCheck: true})
	timing := jwt.NewValidator(jwt.WithLeeway(cfg.ClockSkew), jwt.WithExpirationRequired())

	verify := func(ctx context.Context, token string) (map[string]interface{}, string, error) {
		idToken, err := verifier.Verify(ctx, token)
		if err != nil {
			return nil, "verification_failed", err
		}
		claims := jwt.MapClaims{}
		if err := idToken.Claims(&claims); err != nil {
			return nil, "claims_parse_failed", err
		}
		if err := timing.Validate(claims); err != nil {
			return nil, "time_validation_failed", err
		}
		return claims, "", nil
	}

	return bearerAuth(verify, cfg.IssuerURL, logger, firstMetrics(securityMetrics)), nil
}

// SharedSecretAuthMiddleware validates HS256 bearer tokens signed with a
// shared secret. Issuer and audience are checked when configured.
func SharedSecretAuthMiddleware(cfg SharedSecretAuthConfig, logger *logging.Logger, securityMetrics ...*observability.SecurityMetrics) (func(http.Handler) http.Handler, error) {
	secret := []byte(strings.TrimSpace(cfg.Secret))
	if len(secret) == 0 {
		return nil, errors.New("shared secret auth enabled but no secret configured")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(cfg.ClockSkew),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	parser := jwt.NewParser(opts...)

	verify := func(_ context.Context, token string) (map[string]interface{}, string, error) {
		claims := jwt.MapClaims{}
		if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
			return secret, nil
		}); err != nil {
			return nil, "verification_failed", err
		}
		return claims, "", nil
	}

	issuer := cfg.Issuer
	if issuer == "" {
		issuer = "shared_secret"
	}
	return bearerAuth(verify, issuer, logger, firstMetrics(securityMetrics)), nil
}

func firstMetrics(metrics []*observability.SecurityMetrics) *observability.SecurityMetrics {
	if len(metrics) > 0 {
		return metrics[0]
	}
	return nil
}

func bearerAuth(verify tokenVerifier, issuer string, logger *logging.Logger, metrics *observability.SecurityMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			endpoint := r.URL.Path
			metrics.RecordAuthAttempt(ctx, endpoint)

			tokenString := bearerToken(r.Header.Get("Authorization"))
			if tokenString == "" {
				metrics.RecordAuthFailure(ctx, endpoint, "missing_token")
				metrics.RecordUnauthorizedAttempt(ctx, endpoint, "missing_token")
				if logger != nil {
					logging.FromContext(ctx).Warn("authentication failed: missing bearer token",
						slog.String("endpoint", endpoint),
						slog.String("remote_addr", r.RemoteAddr),
					)
				}
				writeUnauthorized(w, "missing bearer token")
				return
			}

			claims, reason, err := verify(ctx, tokenString)
			if err != nil {
				metrics.RecordAuthFailure(ctx, endpoint, reason)
				metrics.RecordTokenValidationError(ctx, reason)
				metrics.RecordUnauthorizedAttempt(ctx, endpoint, "invalid_token")
				if logger != nil {
					logging.FromContext(ctx).Warn("token validation failed",
						slog.String("reason", reason),
						slog.String("error", err.Error()),
						slog.String("endpoint", endpoint),
						slog.String("remote_addr", r.RemoteAddr),
					)
				}
				writeUnauthorized(w, "invalid token")
				return
			}

			subject, _ := jwt.MapClaims(claims).GetSubject()
			aud, _ := jwt.MapClaims(claims).GetAudience()
			metrics.RecordAuthSuccess(ctx, endpoint, issuer)
			if logger != nil {
				logging.FromContext(ctx).Debug("authentication successful",
					slog.String("subject", subject),
					slog.String("issuer", issuer),
					slog.String("endpoint", endpoint),
				)
			}

			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.SetAttributes(
					attribute.String("auth.subject", subject),
					attribute.String("auth.issuer", issuer),
					attribute.Bool("auth.authenticated", true),
				)
				if len(aud) > 0 {
					span.SetAttributes(attribute.StringSlice("auth.audience", aud))
				}
			}

			ctx = WithAuthContext(ctx, AuthContext{
				Subject:  subject,
				Issuer:   issuer,
				Audience: []string(aud),
				Claims:   claims,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func newOIDCHTTPClient(cfg OIDCAuthConfig) (*http.Client, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.SkipTLSVerify}
	if cfg.CAFile != "" {
		pemData, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read oidc ca file: %w", err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("oidc ca file %s contains no certificates", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}
	return &http.Client{
		Transport: &http.Transport{TLSClientConfig: tlsConfig},
		Timeout:   10 * time.Second,
	}, nil
}

func bearerToken(value string) string {
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	_ = response.WriteError(w, http.StatusUnauthorized, "Unauthorized", message)
}
