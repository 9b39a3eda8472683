// Package middleware wraps function and callback handlers.
//
// This package includes:
//   - OpenTelemetry tracing, one span per handler call
//   - Call logging with a slow-call warning threshold
//
// Middleware compose with Chain. The first middleware is the outermost:
//
//	h = middleware.Chain(h,
//	    middleware.OpenTelemetry(middleware.WithTracerName("my-app")),
//	    middleware.Logging(logger, 500*time.Millisecond),
//	)
//
// # OpenTelemetry
//
// Spans are named after the request mode and target, for example
// "function echo" or "event page/widget-1". Attributes carry the path and,
// when enabled, the user and session identifiers. Handler errors are
// recorded on the span and set its status.
//
//	middleware.OpenTelemetry(
//	    middleware.WithIncludeUserID(true),
//	    middleware.WithRequestFilter(func(req *protocol.Request) bool {
//	        return req.Target != "heartbeat"
//	    }),
//	)
//
// The tracer comes from the global provider unless WithTracer is given.
package middleware
