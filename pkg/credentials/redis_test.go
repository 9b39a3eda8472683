package credentials

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type fakeRedis struct {
	mu      sync.Mutex
	values  map[string]interface{}
	ttls    map[string]time.Duration
	failing bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]interface{}{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return redis.NewBoolResult(false, errors.New("connection refused"))
	}
	if _, ok := f.values[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = value
	f.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Exists(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return redis.NewIntResult(0, errors.New("connection refused"))
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.values[k]; ok {
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.values[k]; ok {
			delete(f.values, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestRedisTokens_Lifecycle(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	tokens := NewRedisTokens(client, 5*time.Minute, WithRedisPrefix("test:"))

	if tokens.ValidToken(ctx, "abc") {
		t.Fatal("ValidToken() before Add = true")
	}
	if err := tokens.Add(ctx, "abc"); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if !tokens.ValidToken(ctx, "abc") {
		t.Fatal("ValidToken() after Add = false")
	}
	if got := client.ttls["test:abc"]; got != 5*time.Minute {
		t.Fatalf("ttl = %v, want 5m", got)
	}
	if err := tokens.Expire(ctx, "abc"); err != nil {
		t.Fatalf("Expire() error: %v", err)
	}
	if tokens.ValidToken(ctx, "abc") {
		t.Fatal("ValidToken() after Expire = true")
	}
}

func TestRedisTokens_BackendErrorIsInvalid(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	tokens := NewRedisTokens(client, time.Minute)

	if err := tokens.Add(ctx, "abc"); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	client.failing = true

	if tokens.ValidToken(ctx, "abc") {
		t.Fatal("ValidToken() with failing backend = true")
	}
	if err := tokens.Add(ctx, "def"); err == nil {
		t.Fatal("Add() with failing backend error = nil")
	}
}

func TestRedisTokens_DefaultPrefix(t *testing.T) {
	tokens := NewRedisTokens(newFakeRedis(), 0)
	if tokens.Prefix() != "eventbroker:token:" {
		t.Fatalf("Prefix() = %q", tokens.Prefix())
	}
	var _ TokenValidator = tokens
}
