package middleware

import (
	"log/slog"
	"net/http"

	"tidb-odata/internal/logging"
	"tidb-odata/internal/observability"

	"go.opentelemetry.io/otel"
)

// RequestTracingMiddleware opens an odata.request span around parsed
// requests and adds the trace ids to the request logger. It must run
// inside RequestParseMiddleware.
func RequestTracingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			parsed, ok := ParsedRequestFromContext(r.Context())
			if !ok || parsed.Request == nil {
				next.ServeHTTP(w, r)
				return
			}

			tracer := otel.Tracer("tidb-odata/http")
			ctx, span := tracer.Start(r.Context(), "odata.request")
			defer span.End()
			if spanCtx := span.SpanContext(); spanCtx.IsValid() {
				reqLogger := logging.FromContext(ctx).WithFields(
					slog.String("trace_id", spanCtx.TraceID().String()),
					slog.String("span_id", spanCtx.SpanID().String()),
				)
				ctx = logging.WithLogger(ctx, reqLogger)
			}

			if span.IsRecording() {
				span.SetAttributes(observability.RequestSpanAttributes(parsed.Request, parsed.Meta)...)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
