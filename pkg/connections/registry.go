package connections

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/vango-dev/eventbroker/pkg/protocol"
)

// DefaultPollInterval is how often LookupReady re-checks the registry.
const DefaultPollInterval = 150 * time.Millisecond

// Lookup errors.
var (
	ErrNotFound = errors.New("connections: no client for key")
	ErrNotReady = errors.New("connections: client not ready")
	ErrClosed   = errors.New("connections: client is no longer open")
)

// Client is a registered connection.
type Client interface {
	// Key returns the routing key the client registered under.
	Key() string

	// Ready reports whether the client has sent its first message.
	Ready() bool

	// Open reports whether the transport is still usable.
	Open() bool

	// Send writes one frame. Concurrent sends never interleave.
	Send(ctx context.Context, frame protocol.Frame) error

	// Close closes the transport.
	Close() error
}

// Option configures a Registry.
type Option func(*Registry)

// WithPollInterval sets the LookupReady poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// WithClock sets the clock used by LookupReady.
func WithClock(clock clockwork.Clock) Option {
	return func(r *Registry) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Registry maps routing keys to clients.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client

	pollInterval time.Duration
	clock        clockwork.Clock
	logger       *slog.Logger
}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		clients:      make(map[string]Client),
		pollInterval: DefaultPollInterval,
		clock:        clockwork.NewRealClock(),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "connections")
	return r
}

// Register stores c under its key, replacing any previous client.
// It reports whether a still-open client was replaced.
func (r *Registry) Register(c Client) bool {
	key := c.Key()

	r.mu.Lock()
	prev, exists := r.clients[key]
	r.clients[key] = c
	r.mu.Unlock()

	if exists && prev != c && prev.Open() {
		r.logger.Warn("key already registered, replacing client", "key", key)
		return true
	}
	r.logger.Debug("client registered", "key", key)
	return false
}

// Get returns the client for key.
func (r *Registry) Get(key string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[key]
	return c, ok
}

// Remove drops the entry for key if it still holds c. A nil c removes
// whatever is registered. It reports whether an entry was removed.
func (r *Registry) Remove(key string, c Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.clients[key]
	if !ok {
		return false
	}
	if c != nil && current != c {
		return false
	}
	delete(r.clients, key)
	return true
}

// LookupReady waits up to timeout for an open, ready client under key.
// It polls at the registry's poll interval. On timeout it returns
// ErrNotFound, ErrNotReady or ErrClosed depending on what it last saw.
func (r *Registry) LookupReady(ctx context.Context, key string, timeout time.Duration) (Client, error) {
	deadline := r.clock.Now().Add(timeout)

	ticker := r.clock.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		c, ok := r.Get(key)
		if ok && c.Ready() && c.Open() {
			return c, nil
		}
		if !r.clock.Now().Before(deadline) {
			switch {
			case !ok:
				return nil, ErrNotFound
			case !c.Open():
				return nil, ErrClosed
			default:
				return nil, ErrNotReady
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.Chan():
		}
	}
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Keys returns the registered keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.clients))
	for k := range r.clients {
		keys = append(keys, k)
	}
	r.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

// CloseAll removes every client and closes it.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]Client)
	r.mu.Unlock()

	for key, c := range clients {
		if err := c.Close(); err != nil {
			r.logger.Debug("close client", "key", key, "error", err)
		}
	}
}
