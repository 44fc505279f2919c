package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// QueryMetrics holds custom metrics for OData query execution. A nil
// *QueryMetrics records nothing.
type QueryMetrics struct {
	requestDuration metric.Float64Histogram
	requestCounter  metric.Int64Counter
	errorCounter    metric.Int64Counter
	activeRequests  metric.Int64UpDownCounter
	compileDuration metric.Float64Histogram
	statements      metric.Int64Histogram
	rowsFetched     metric.Int64Histogram
	expandDepth     metric.Int64Histogram
	parentKeys      metric.Int64Histogram
}

// InitQueryMetrics initializes query metrics on the global meter provider.
func InitQueryMetrics() (*QueryMetrics, error) {
	meter := otel.Meter("tidb-odata")

	requestDuration, err := meter.Float64Histogram(
		"odata.request.duration",
		metric.WithDescription("Duration of OData requests in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request duration histogram: %w", err)
	}

	requestCounter, err := meter.Int64Counter(
		"odata.requests.total",
		metric.WithDescription("Total number of OData requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}

	errorCounter, err := meter.Int64Counter(
		"odata.errors.total",
		metric.WithDescription("Total number of failed OData requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}

	activeRequests, err := meter.Int64UpDownCounter(
		"odata.requests.active",
		metric.WithDescription("Number of active OData requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active requests counter: %w", err)
	}

	compileDuration, err := meter.Float64Histogram(
		"odata.compile.duration",
		metric.WithDescription("Time spent planning SQL for a request in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create compile duration histogram: %w", err)
	}

	statements, err := meter.Int64Histogram(
		"odata.request.statements",
		metric.WithDescription("Number of SQL statements executed per request"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create statements histogram: %w", err)
	}

	rowsFetched, err := meter.Int64Histogram(
		"odata.request.rows",
		metric.WithDescription("Number of rows fetched per request across all levels"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rows histogram: %w", err)
	}

	expandDepth, err := meter.Int64Histogram(
		"odata.expand.depth",
		metric.WithDescription("Deepest $expand level of a request"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create expand depth histogram: %w", err)
	}

	parentKeys, err := meter.Int64Histogram(
		"odata.expand.parent_keys",
		metric.WithDescription("Number of parent keys included in an expand statement"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create parent keys histogram: %w", err)
	}

	return &QueryMetrics{
		requestDuration: requestDuration,
		requestCounter:  requestCounter,
		errorCounter:    errorCounter,
		activeRequests:  activeRequests,
		compileDuration: compileDuration,
		statements:      statements,
		rowsFetched:     rowsFetched,
		expandDepth:     expandDepth,
		parentKeys:      parentKeys,
	}, nil
}

// RecordRequest records one OData request with its duration and outcome.
func (m *QueryMetrics) RecordRequest(ctx context.Context, duration time.Duration, entitySet, outcome string) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("entity_set", entitySet),
		attribute.String("outcome", outcome),
	}
	m.requestDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	m.requestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	if outcome != "success" {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordCompile records the planning time of a request.
func (m *QueryMetrics) RecordCompile(ctx context.Context, duration time.Duration, entitySet string) {
	if m == nil {
		return
	}
	m.compileDuration.Record(ctx, float64(duration.Microseconds())/1000, metric.WithAttributes(
		attribute.String("entity_set", entitySet),
	))
}

// RecordExecution records the statements and rows of a completed request.
func (m *QueryMetrics) RecordExecution(ctx context.Context, entitySet string, statements int, rows int64, depth int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("entity_set", entitySet))
	m.statements.Record(ctx, int64(statements), attrs)
	m.rowsFetched.Record(ctx, rows, attrs)
	m.expandDepth.Record(ctx, int64(depth), attrs)
}

// RecordParentKeys records how many parent keys one expand statement carried.
func (m *QueryMetrics) RecordParentKeys(ctx context.Context, count int, expand string) {
	if m == nil {
		return
	}
	m.parentKeys.Record(ctx, int64(count), metric.WithAttributes(
		attribute.String("expand", expand),
	))
}

// IncrementActiveRequests increments the active requests counter
func (m *QueryMetrics) IncrementActiveRequests(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeRequests.Add(ctx, 1)
}

// DecrementActiveRequests decrements the active requests counter
func (m *QueryMetrics) DecrementActiveRequests(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeRequests.Add(ctx, -1)
}

// InitMetrics initializes all custom metrics and returns the QueryMetrics instance
func InitMetrics(logger *slog.Logger) (*QueryMetrics, error) {
	metrics, err := InitQueryMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize query metrics: %w", err)
	}

	logger.Info("custom query metrics initialized")
	return metrics, nil
}
