package middleware

import "github.com/vango-dev/eventbroker/pkg/protocol"

// Middleware wraps a handler.
type Middleware func(next protocol.Handler) protocol.Handler

// Chain wraps h with mws. The first middleware runs first.
func Chain(h protocol.Handler, mws ...Middleware) protocol.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			h = mws[i](h)
		}
	}
	return h
}
