package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SecurityMetrics counts authentication and authorization outcomes. A nil
// *SecurityMetrics records nothing.
type SecurityMetrics struct {
	authAttempts          metric.Int64Counter
	authFailures          metric.Int64Counter
	authSuccesses         metric.Int64Counter
	adminEndpointAccess   metric.Int64Counter
	unauthorizedAttempts  metric.Int64Counter
	tokenValidationErrors metric.Int64Counter
	roleRejections        metric.Int64Counter
}

// InitSecurityMetrics registers the security counters on the global meter.
func InitSecurityMetrics() (*SecurityMetrics, error) {
	meter := otel.Meter("tidb-odata/security")
	m := &SecurityMetrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.authAttempts, "odata.security.auth.attempts", "Bearer authentication attempts"},
		{&m.authFailures, "odata.security.auth.failures", "Rejected bearer tokens, by reason"},
		{&m.authSuccesses, "odata.security.auth.successes", "Accepted bearer tokens, by issuer"},
		{&m.adminEndpointAccess, "odata.security.admin.access", "Requests to admin endpoints"},
		{&m.unauthorizedAttempts, "odata.security.unauthorized", "Requests answered with 401"},
		{&m.tokenValidationErrors, "odata.security.token.errors", "Token validation errors, by type"},
		{&m.roleRejections, "odata.security.db_role.rejections", "Requests refused for their database role claim"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("create %s counter: %w", c.name, err)
		}
		*c.dst = counter
	}
	return m, nil
}

func (m *SecurityMetrics) RecordAuthAttempt(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.authAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

func (m *SecurityMetrics) RecordAuthFailure(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	m.authFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("reason", reason),
	))
}

func (m *SecurityMetrics) RecordAuthSuccess(ctx context.Context, endpoint, issuer string) {
	if m == nil {
		return
	}
	m.authSuccesses.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("issuer", issuer),
	))
}

// RecordAdminEndpointAccess counts one admin request. operation names the
// endpoint, e.g. "schema_dump".
func (m *SecurityMetrics) RecordAdminEndpointAccess(ctx context.Context, operation string, authenticated, success bool) {
	if m == nil {
		return
	}
	m.adminEndpointAccess.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.Bool("authenticated", authenticated),
		attribute.Bool("success", success),
	))
}

func (m *SecurityMetrics) RecordUnauthorizedAttempt(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	m.unauthorizedAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("reason", reason),
	))
}

func (m *SecurityMetrics) RecordTokenValidationError(ctx context.Context, errorType string) {
	if m == nil {
		return
	}
	m.tokenValidationErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("error_type", errorType)))
}

// RecordRoleRejection counts a request refused by the database role check.
// reason is one of missing_claim, invalid_claim_type or role_not_allowed.
func (m *SecurityMetrics) RecordRoleRejection(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.roleRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
