package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/vango-dev/eventbroker/pkg/protocol"
)

// DefaultSlowCall is the duration above which a call is logged as a warning.
const DefaultSlowCall = 500 * time.Millisecond

// Logging logs every call with its duration. Calls slower than slow are
// logged at warn level; failed calls at error level with the target name.
// A non-positive slow uses DefaultSlowCall.
func Logging(logger *slog.Logger, slow time.Duration) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	if slow <= 0 {
		slow = DefaultSlowCall
	}

	return func(next protocol.Handler) protocol.Handler {
		return func(ctx context.Context, req *protocol.Request) (any, error) {
			start := time.Now()
			result, err := next(ctx, req)
			duration := time.Since(start)

			var mode protocol.Mode
			var target, path string
			if req != nil {
				mode, target, path = req.Mode, req.Target, req.Path
			}

			switch {
			case err != nil:
				logger.Error("handler failed",
					"mode", mode,
					"target", target,
					"path", path,
					"duration", duration,
					"error", err)
			case duration > slow:
				logger.Warn("slow handler",
					"mode", mode,
					"target", target,
					"duration", duration)
			default:
				logger.Debug("handler completed",
					"mode", mode,
					"target", target,
					"duration", duration)
			}
			return result, err
		}
	}
}
