// Package functions holds the named handlers served on RPC paths.
package functions

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/vango-dev/eventbroker/pkg/protocol"
)

// Registry maps function names to handlers. Registration is last-write-wins.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]protocol.Handler
	logger   *slog.Logger
}

// New creates an empty Registry. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handlers: make(map[string]protocol.Handler),
		logger:   logger.With("component", "functions"),
	}
}

// Register binds name to h. A nil handler is ignored.
func (r *Registry) Register(name string, h protocol.Handler) {
	if name == "" || h == nil {
		r.logger.Warn("ignoring function registration", "function", name, "nil_handler", h == nil)
		return
	}

	r.mu.Lock()
	_, replaced := r.handlers[name]
	r.handlers[name] = h
	r.mu.Unlock()

	r.logger.Info("registered function", "function", name, "replaced", replaced)
}

// Resolve returns the handler bound to name.
func (r *Registry) Resolve(name string) (protocol.Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}
