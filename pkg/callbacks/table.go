package callbacks

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/eventbroker/pkg/metrics"
	"github.com/vango-dev/eventbroker/pkg/protocol"
	"github.com/vango-dev/eventbroker/pkg/workerpool"
)

// DefaultUserID is used for messages that carry no user identity.
const DefaultUserID = "default"

// Submitter runs callbacks. *workerpool.Pool implements it.
type Submitter interface {
	Submit(name string, fn workerpool.Func) (*workerpool.Task, error)
}

// Registration is a stored callback.
type Registration struct {
	Handler      protocol.Handler
	RegisteredAt time.Time
}

// Option configures a Table.
type Option func(*Table)

// WithClock sets the clock used for registration times.
func WithClock(clock clockwork.Clock) Option {
	return func(t *Table) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Table) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithMetrics records dispatch delays.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Table) {
		t.metrics = m
	}
}

// Table maps (user, event id) to callbacks.
type Table struct {
	mu     sync.RWMutex
	byUser map[string]map[string]Registration

	pool    Submitter
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a Table that runs callbacks on pool.
func New(pool Submitter, opts ...Option) *Table {
	t := &Table{
		byUser: make(map[string]map[string]Registration),
		pool:   pool,
		clock:  clockwork.NewRealClock(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "callbacks")
	return t
}

// NormalizeUser maps an empty user id to DefaultUserID.
func NormalizeUser(userID string) string {
	if userID == "" {
		return DefaultUserID
	}
	return userID
}

// Register stores h for (userID, eventID), overwriting any previous handler.
func (t *Table) Register(userID, eventID string, h protocol.Handler) {
	if h == nil {
		t.logger.Warn("ignoring nil callback", "user_id", userID, "event_id", eventID)
		return
	}
	userID = NormalizeUser(userID)

	t.mu.Lock()
	events, ok := t.byUser[userID]
	if !ok {
		events = make(map[string]Registration)
		t.byUser[userID] = events
	}
	events[eventID] = Registration{Handler: h, RegisteredAt: t.clock.Now()}
	t.mu.Unlock()

	t.logger.Debug("registered callback", "user_id", userID, "event_id", eventID)
}

// Lookup returns the registration for (userID, eventID).
func (t *Table) Lookup(userID, eventID string) (Registration, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	reg, ok := t.byUser[NormalizeUser(userID)][eventID]
	return reg, ok
}

// Remove deletes the callback for (userID, eventID).
func (t *Table) Remove(userID, eventID string) bool {
	userID = NormalizeUser(userID)

	t.mu.Lock()
	defer t.mu.Unlock()

	events, ok := t.byUser[userID]
	if !ok {
		return false
	}
	if _, ok := events[eventID]; !ok {
		return false
	}
	delete(events, eventID)
	if len(events) == 0 {
		delete(t.byUser, userID)
	}
	return true
}

// Dispatch submits the callback for (userID, eventID) with req. ok is false
// when no callback is registered. The returned task may already be
// rejected when the pool is saturated.
func (t *Table) Dispatch(ctx context.Context, userID, eventID string, req *protocol.Request) (task *workerpool.Task, ok bool) {
	userID = NormalizeUser(userID)
	reg, ok := t.Lookup(userID, eventID)
	if !ok {
		return nil, false
	}
	return t.submit(ctx, userID, eventID, reg, req), true
}

// InvokeByKeyFragment dispatches every callback of userID whose event id
// contains fragment. Each handler receives its own copy of req.
func (t *Table) InvokeByKeyFragment(ctx context.Context, userID, fragment string, req *protocol.Request) []*workerpool.Task {
	userID = NormalizeUser(userID)

	t.mu.RLock()
	matched := make(map[string]Registration)
	for eventID, reg := range t.byUser[userID] {
		if strings.Contains(eventID, fragment) {
			matched[eventID] = reg
		}
	}
	t.mu.RUnlock()

	ids := make([]string, 0, len(matched))
	for id := range matched {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tasks := make([]*workerpool.Task, 0, len(ids))
	for _, id := range ids {
		tasks = append(tasks, t.submit(ctx, userID, id, matched[id], cloneRequest(req)))
	}
	t.logger.Debug("invoked callbacks by fragment", "user_id", userID, "fragment", fragment, "count", len(tasks))
	return tasks
}

// RemoveByKeyFragment removes every callback of userID whose event id
// contains the routing key of path. An empty key removes nothing.
func (t *Table) RemoveByKeyFragment(path, userID string) int {
	fragment := protocol.RoutingKey(path)
	if fragment == "" {
		return 0
	}
	userID = NormalizeUser(userID)

	t.mu.Lock()
	defer t.mu.Unlock()

	events := t.byUser[userID]
	removed := 0
	for eventID := range events {
		if strings.Contains(eventID, fragment) {
			delete(events, eventID)
			removed++
		}
	}
	if events != nil && len(events) == 0 {
		delete(t.byUser, userID)
	}
	if removed > 0 {
		t.logger.Debug("removed callbacks by fragment", "user_id", userID, "fragment", fragment, "count", removed)
	}
	return removed
}

// ExpireOlderThan removes callbacks registered more than age ago.
func (t *Table) ExpireOlderThan(age time.Duration) int {
	cutoff := t.clock.Now().Add(-age)

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for userID, events := range t.byUser {
		for eventID, reg := range events {
			if reg.RegisteredAt.Before(cutoff) {
				delete(events, eventID)
				removed++
			}
		}
		if len(events) == 0 {
			delete(t.byUser, userID)
		}
	}
	return removed
}

// Len returns the number of registered callbacks across all users.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, events := range t.byUser {
		n += len(events)
	}
	return n
}

func (t *Table) submit(ctx context.Context, userID, eventID string, reg Registration, req *protocol.Request) *workerpool.Task {
	delay := t.clock.Since(reg.RegisteredAt)
	t.metrics.ObserveDispatchDelay(delay)
	t.logger.Debug("dispatching callback",
		"user_id", userID,
		"event_id", eventID,
		"since_registration", delay)

	span := trace.SpanFromContext(ctx)
	h := reg.Handler
	task, err := t.pool.Submit("callback:"+eventID, func(taskCtx context.Context) (any, error) {
		return h(trace.ContextWithSpan(taskCtx, span), req)
	})
	if err != nil {
		t.logger.Warn("callback not scheduled", "user_id", userID, "event_id", eventID, "error", err)
	}
	return task
}

func cloneRequest(req *protocol.Request) *protocol.Request {
	if req == nil {
		return &protocol.Request{}
	}
	out := *req
	out.Message = req.Message.Clone()
	return &out
}
