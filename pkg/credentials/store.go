package credentials

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// State is an arbitrary key-value bag attached to a session or a user.
type State = map[string]any

// Defaults for StoreConfig.
const (
	DefaultCapacity = 1000
	DefaultMaxAge   = 10 * time.Minute
)

// TokenValidator decides whether an access token is currently valid.
type TokenValidator interface {
	ValidToken(ctx context.Context, token string) bool
}

// StoreConfig configures a Store.
type StoreConfig struct {
	// Capacity bounds each of the token, session and user maps.
	// Default: 1000.
	Capacity int

	// MaxAge is how long an entry stays valid after its last write.
	// Default: 10 minutes.
	MaxAge time.Duration

	// SessionCapacity and UserCapacity override Capacity per map.
	SessionCapacity int
	UserCapacity    int

	// SessionMaxAge and UserMaxAge override MaxAge per map.
	SessionMaxAge time.Duration
	UserMaxAge    time.Duration

	// Clock drives expiry. Default: the real clock.
	Clock clockwork.Clock

	// Logger receives sweep logs. Default: slog.Default().
	Logger *slog.Logger
}

// Store holds tokens, session state and user state in three independent
// bounded caches. Lookups never fail: absent or expired entries return
// (nil, false).
type Store struct {
	tokens   *Cache[string, time.Time]
	sessions *Cache[string, State]
	users    *Cache[string, State]

	clock  clockwork.Clock
	logger *slog.Logger

	sweepMu   sync.Mutex
	sweepStop chan struct{}
	sweepDone chan struct{}
}

// NewStore creates a Store.
func NewStore(config StoreConfig) *Store {
	if config.Capacity <= 0 {
		config.Capacity = DefaultCapacity
	}
	if config.MaxAge <= 0 {
		config.MaxAge = DefaultMaxAge
	}
	if config.SessionCapacity <= 0 {
		config.SessionCapacity = config.Capacity
	}
	if config.UserCapacity <= 0 {
		config.UserCapacity = config.Capacity
	}
	if config.SessionMaxAge <= 0 {
		config.SessionMaxAge = config.MaxAge
	}
	if config.UserMaxAge <= 0 {
		config.UserMaxAge = config.MaxAge
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Store{
		tokens:   NewCache[string, time.Time](config.Capacity, config.MaxAge, config.Clock),
		sessions: NewCache[string, State](config.SessionCapacity, config.SessionMaxAge, config.Clock),
		users:    NewCache[string, State](config.UserCapacity, config.UserMaxAge, config.Clock),
		clock:    config.Clock,
		logger:   config.Logger.With("component", "credentials"),
	}
}

// Add records token with the current time. Adding a live token is a no-op.
func (s *Store) Add(token string) {
	s.tokens.SetIfAbsent(token, s.clock.Now())
}

// CheckValid reports whether token is present and not expired.
func (s *Store) CheckValid(token string) bool {
	if token == "" {
		return false
	}
	_, ok := s.tokens.Get(token)
	return ok
}

// ValidToken implements TokenValidator.
func (s *Store) ValidToken(_ context.Context, token string) bool {
	return s.CheckValid(token)
}

// Expire removes token.
func (s *Store) Expire(token string) {
	s.tokens.Delete(token)
}

// SessionState returns a copy of the state for sessionID.
func (s *Store) SessionState(sessionID string) (State, bool) {
	return getState(s.sessions, sessionID)
}

// SetSessionState creates an empty state for sessionID if none exists.
func (s *Store) SetSessionState(sessionID string) {
	s.sessions.SetIfAbsent(sessionID, State{})
}

// SetSessionData stores value under key in the state of sessionID, creating
// the state when needed.
func (s *Store) SetSessionData(sessionID, key string, value any) {
	setData(s.sessions, sessionID, key, value)
}

// SessionData returns a single value from the state of sessionID.
func (s *Store) SessionData(sessionID, key string) (any, bool) {
	return getData(s.sessions, sessionID, key)
}

// UserState returns a copy of the state for userID.
func (s *Store) UserState(userID string) (State, bool) {
	return getState(s.users, userID)
}

// SetUserState creates an empty state for userID if none exists.
func (s *Store) SetUserState(userID string) {
	s.users.SetIfAbsent(userID, State{})
}

// SetUserData stores value under key in the state of userID, creating the
// state when needed.
func (s *Store) SetUserData(userID, key string, value any) {
	setData(s.users, userID, key, value)
}

// UserData returns a single value from the state of userID.
func (s *Store) UserData(userID, key string) (any, bool) {
	return getData(s.users, userID, key)
}

// Stats is a point-in-time view of the store sizes.
type Stats struct {
	Tokens    int    `json:"tokens"`
	Sessions  int    `json:"sessions"`
	Users     int    `json:"users"`
	Evictions uint64 `json:"evictions"`
}

// Stats returns the current sizes of the three maps.
func (s *Store) Stats() Stats {
	return Stats{
		Tokens:    s.tokens.Len(),
		Sessions:  s.sessions.Len(),
		Users:     s.users.Len(),
		Evictions: s.tokens.Evictions() + s.sessions.Evictions() + s.users.Evictions(),
	}
}

// Sweep removes expired entries from all maps and returns how many were
// removed.
func (s *Store) Sweep() int {
	return s.tokens.Sweep() + s.sessions.Sweep() + s.users.Sweep()
}

// StartSweeper removes expired entries every interval until Close. Lookups
// stay lazy either way; the sweeper only bounds memory held by idle entries.
func (s *Store) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		return
	}

	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()
	if s.sweepStop != nil {
		return
	}
	s.sweepStop = make(chan struct{})
	s.sweepDone = make(chan struct{})

	go s.sweepLoop(interval, s.sweepStop, s.sweepDone)
}

// Close stops the sweeper, if running.
func (s *Store) Close() error {
	s.sweepMu.Lock()
	stop, done := s.sweepStop, s.sweepDone
	s.sweepStop, s.sweepDone = nil, nil
	s.sweepMu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return nil
}

func (s *Store) sweepLoop(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			if n := s.Sweep(); n > 0 {
				s.logger.Debug("swept expired entries", "count", n)
			}
		case <-stop:
			return
		}
	}
}

func getState(c *Cache[string, State], id string) (State, bool) {
	var out State
	ok := c.View(id, func(st State) {
		out = maps.Clone(st)
		if out == nil {
			out = State{}
		}
	})
	if !ok {
		return nil, false
	}
	return out, true
}

func setData(c *Cache[string, State], id, key string, value any) {
	c.Update(id, func(st State, ok bool) State {
		if !ok || st == nil {
			st = State{}
		}
		st[key] = value
		return st
	})
}

func getData(c *Cache[string, State], id, key string) (any, bool) {
	var (
		out   any
		found bool
	)
	c.View(id, func(st State) {
		out, found = st[key]
	})
	return out, found
}
