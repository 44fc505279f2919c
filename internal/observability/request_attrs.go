package observability

import (
	"context"
	"log/slog"
	"strings"

	"tidb-odata/internal/odata"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RequestMeta carries request facts known outside the parsed request.
type RequestMeta struct {
	Role        string
	Fingerprint string
}

// RequestSpanAttributes builds canonical span attributes for an OData request.
func RequestSpanAttributes(req *odata.Request, meta RequestMeta) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 10)

	if req != nil {
		res := req.Resource
		attrs = append(attrs, attribute.String("odata.entity_set", res.EntitySet))
		if len(res.Key) > 0 {
			attrs = append(attrs, attribute.Bool("odata.keyed", true))
		}
		if len(res.Navigation) > 0 {
			names := make([]string, len(res.Navigation))
			for i, seg := range res.Navigation {
				names[i] = seg.Name
			}
			attrs = append(attrs, attribute.String("odata.navigation", strings.Join(names, "/")))
		}
		opts := req.Options
		attrs = append(attrs,
			attribute.Int("odata.expand.count", len(opts.Expand)),
			attribute.Bool("odata.filter", opts.Filter != nil),
			attribute.Bool("odata.count", opts.Count || res.Count),
		)
		if opts.Top != nil {
			attrs = append(attrs, attribute.Int("odata.top", *opts.Top))
		}
		if opts.Skip != nil {
			attrs = append(attrs, attribute.Int("odata.skip", *opts.Skip))
		}
	}

	if meta.Role != "" {
		attrs = append(attrs, attribute.String("auth.role", meta.Role))
	}
	if meta.Fingerprint != "" {
		attrs = append(attrs, attribute.String("schema.fingerprint", meta.Fingerprint))
	}

	return attrs
}

// RequestLogFields builds canonical structured log fields for an OData request.
func RequestLogFields(ctx context.Context, req *odata.Request, meta RequestMeta) []any {
	fields := make([]any, 0, 6)

	if req != nil {
		fields = append(fields, slog.String("entity_set", req.Resource.EntitySet))
		if len(req.Options.Expand) > 0 {
			fields = append(fields, slog.Int("expand_count", len(req.Options.Expand)))
		}
	}

	if meta.Role != "" {
		fields = append(fields, slog.String("role", meta.Role))
	}
	if meta.Fingerprint != "" {
		fields = append(fields, slog.String("schema_fingerprint", meta.Fingerprint))
	}

	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.IsValid() {
		fields = append(fields, slog.String("trace_id", spanCtx.TraceID().String()))
	}

	return fields
}
