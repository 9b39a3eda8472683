package broker

import (
	"log/slog"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/eventbroker/pkg/credentials"
	"github.com/vango-dev/eventbroker/pkg/metrics"
	"github.com/vango-dev/eventbroker/pkg/middleware"
)

// Option configures a Broker.
type Option func(*Broker)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithClock sets the clock shared by the pool, registry, callback table and
// credential store.
func WithClock(clock clockwork.Clock) Option {
	return func(b *Broker) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// WithTracer sets the tracer used for handler spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(b *Broker) {
		b.tracer = tracer
	}
}

// WithMetrics sets the metrics collectors. Without it a fresh registry is
// created when metrics are enabled.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Broker) {
		b.metrics = m
	}
}

// WithCredentials replaces the credential store.
func WithCredentials(store *credentials.Store) Option {
	return func(b *Broker) {
		b.store = store
	}
}

// WithTokenValidator enables token checks on the event path using v.
func WithTokenValidator(v credentials.TokenValidator) Option {
	return func(b *Broker) {
		b.tokens = v
	}
}

// WithMiddleware appends handler middleware. They run inside the built-in
// tracing and logging middleware.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(b *Broker) {
		b.extraMiddleware = append(b.extraMiddleware, mws...)
	}
}
