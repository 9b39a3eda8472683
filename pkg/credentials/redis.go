package credentials

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of *redis.Client used by RedisTokens.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisTokens keeps access tokens in Redis so an external auth service can
// issue them. Keys expire after maxAge through Redis TTLs.
type RedisTokens struct {
	client RedisClient
	prefix string
	maxAge time.Duration
	clock  func() time.Time
	logger *slog.Logger
}

// RedisTokensOption configures RedisTokens behavior.
type RedisTokensOption func(*RedisTokens)

// WithRedisPrefix sets the key prefix for tokens.
// Default: "eventbroker:token:".
func WithRedisPrefix(prefix string) RedisTokensOption {
	return func(r *RedisTokens) {
		r.prefix = prefix
	}
}

// WithRedisLogger sets the logger used for backend errors.
func WithRedisLogger(logger *slog.Logger) RedisTokensOption {
	return func(r *RedisTokens) {
		r.logger = logger
	}
}

// NewRedisTokens creates a Redis-backed token set.
func NewRedisTokens(client RedisClient, maxAge time.Duration, opts ...RedisTokensOption) *RedisTokens {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	r := &RedisTokens{
		client: client,
		prefix: "eventbroker:token:",
		maxAge: maxAge,
		clock:  time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "redis_tokens")
	return r
}

func (r *RedisTokens) key(token string) string {
	return r.prefix + token
}

// Add records token. Adding a live token keeps its original issue time.
func (r *RedisTokens) Add(ctx context.Context, token string) error {
	return r.client.SetNX(ctx, r.key(token), r.clock().Unix(), r.maxAge).Err()
}

// ValidToken implements TokenValidator. Backend errors count as invalid.
func (r *RedisTokens) ValidToken(ctx context.Context, token string) bool {
	if token == "" {
		return false
	}
	n, err := r.client.Exists(ctx, r.key(token)).Result()
	if err != nil {
		r.logger.Error("token lookup failed", "error", err)
		return false
	}
	return n > 0
}

// Expire removes token.
func (r *RedisTokens) Expire(ctx context.Context, token string) error {
	return r.client.Del(ctx, r.key(token)).Err()
}

// Prefix returns the current key prefix.
func (r *RedisTokens) Prefix() string {
	return r.prefix
}
