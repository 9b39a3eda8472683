package middleware

import (
	"context"
	"fmt"

	"github.com/vango-dev/eventbroker/pkg/protocol"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Default tracer name for broker spans.
const defaultTracerName = "eventbroker"

// OTelConfig configures the OpenTelemetry middleware.
type OTelConfig struct {
	// TracerName is the name of the tracer (default: "eventbroker").
	// Ignored when Tracer is set.
	TracerName string

	// Tracer overrides the tracer resolved from the global provider.
	Tracer trace.Tracer

	// IncludeUserID includes the user ID in spans.
	// May contain sensitive information - disabled by default.
	IncludeUserID bool

	// IncludeSessionID includes the session ID in spans.
	// Enabled by default.
	IncludeSessionID bool

	// Filter determines which requests to trace.
	// If nil, all requests are traced.
	Filter func(req *protocol.Request) bool

	// AttributeExtractor adds custom attributes per request.
	AttributeExtractor func(req *protocol.Request) []attribute.KeyValue
}

// OTelOption configures the OpenTelemetry middleware.
type OTelOption func(*OTelConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) OTelOption {
	return func(c *OTelConfig) {
		c.TracerName = name
	}
}

// WithTracer sets the tracer directly.
func WithTracer(tracer trace.Tracer) OTelOption {
	return func(c *OTelConfig) {
		c.Tracer = tracer
	}
}

// WithIncludeUserID enables including user ID in spans.
func WithIncludeUserID(include bool) OTelOption {
	return func(c *OTelConfig) {
		c.IncludeUserID = include
	}
}

// WithIncludeSessionID enables/disables including session ID in spans.
func WithIncludeSessionID(include bool) OTelOption {
	return func(c *OTelConfig) {
		c.IncludeSessionID = include
	}
}

// WithRequestFilter sets a filter function for requests.
func WithRequestFilter(filter func(req *protocol.Request) bool) OTelOption {
	return func(c *OTelConfig) {
		c.Filter = filter
	}
}

// WithAttributeExtractor sets a custom attribute extractor.
func WithAttributeExtractor(extractor func(req *protocol.Request) []attribute.KeyValue) OTelOption {
	return func(c *OTelConfig) {
		c.AttributeExtractor = extractor
	}
}

func defaultOTelConfig() OTelConfig {
	return OTelConfig{
		TracerName:       defaultTracerName,
		IncludeSessionID: true,
	}
}

// OpenTelemetry creates middleware that starts a span for every call.
func OpenTelemetry(opts ...OTelOption) Middleware {
	config := defaultOTelConfig()
	for _, opt := range opts {
		opt(&config)
	}

	tracer := config.Tracer
	if tracer == nil {
		tracer = otel.Tracer(config.TracerName)
	}

	return func(next protocol.Handler) protocol.Handler {
		return func(ctx context.Context, req *protocol.Request) (any, error) {
			if req == nil || (config.Filter != nil && !config.Filter(req)) {
				return next(ctx, req)
			}

			attrs := []attribute.KeyValue{
				attribute.String("eventbroker.mode", string(req.Mode)),
				attribute.String("eventbroker.target", req.Target),
				attribute.String("eventbroker.path", req.Path),
			}
			if config.IncludeSessionID && req.SessionID != "" {
				attrs = append(attrs, attribute.String("eventbroker.session_id", req.SessionID))
			}
			if config.IncludeUserID && req.UserID != "" {
				attrs = append(attrs, attribute.String("eventbroker.user_id", req.UserID))
			}
			if config.AttributeExtractor != nil {
				attrs = append(attrs, config.AttributeExtractor(req)...)
			}

			ctx, span := tracer.Start(ctx, spanName(req),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attrs...),
			)
			defer span.End()

			result, err := next(ctx, req)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else {
				span.SetStatus(codes.Ok, "")
			}
			return result, err
		}
	}
}

func spanName(req *protocol.Request) string {
	if req.Mode == "" {
		return "eventbroker.handler"
	}
	return fmt.Sprintf("%s %s", req.Mode, req.Target)
}
