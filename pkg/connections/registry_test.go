package connections

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/vango-dev/eventbroker/pkg/protocol"
)

type fakeClient struct {
	key    string
	ready  atomic.Bool
	closed atomic.Bool

	mu   sync.Mutex
	sent []protocol.Frame
}

func newFakeClient(key string) *fakeClient {
	return &fakeClient{key: key}
}

func (c *fakeClient) Key() string  { return c.key }
func (c *fakeClient) Ready() bool  { return c.ready.Load() }
func (c *fakeClient) Open() bool   { return !c.closed.Load() }
func (c *fakeClient) Close() error { c.closed.Store(true); return nil }

func (c *fakeClient) Send(ctx context.Context, frame protocol.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, frame)
	return nil
}

func TestRegistry_RegisterGetRemove(t *testing.T) {
	r := New()
	c := newFakeClient("widget-1")

	if replaced := r.Register(c); replaced {
		t.Fatal("Register() reported replacement on empty registry")
	}
	got, ok := r.Get("widget-1")
	if !ok || got != c {
		t.Fatalf("Get() = %v, %v", got, ok)
	}
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}
	if !r.Remove("widget-1", c) {
		t.Fatal("Remove() = false")
	}
	if _, ok := r.Get("widget-1"); ok {
		t.Fatal("client still registered after Remove")
	}
	if r.Remove("widget-1", c) {
		t.Fatal("second Remove() = true")
	}
}

func TestRegistry_DuplicateKeepsNewest(t *testing.T) {
	r := New()
	older := newFakeClient("widget-1")
	newer := newFakeClient("widget-1")

	r.Register(older)
	if replaced := r.Register(newer); !replaced {
		t.Fatal("Register() did not report replacing an open client")
	}

	// The older connection closing must not evict the newer one.
	if r.Remove("widget-1", older) {
		t.Fatal("Remove(older) removed the newer client")
	}
	got, _ := r.Get("widget-1")
	if got != newer {
		t.Fatal("newer client was evicted")
	}

	// A closed previous entry is replaced silently.
	newer.Close()
	if replaced := r.Register(newFakeClient("widget-1")); replaced {
		t.Fatal("Register() reported replacing a closed client")
	}
}

func TestRegistry_LookupReadyImmediate(t *testing.T) {
	r := New()
	c := newFakeClient("w")
	c.ready.Store(true)
	r.Register(c)

	got, err := r.LookupReady(context.Background(), "w", time.Second)
	if err != nil || got != c {
		t.Fatalf("LookupReady() = %v, %v", got, err)
	}
}

func TestRegistry_LookupReadyWaitsForHandshake(t *testing.T) {
	r := New(WithPollInterval(5 * time.Millisecond))
	c := newFakeClient("w")

	go func() {
		time.Sleep(20 * time.Millisecond)
		r.Register(c)
		time.Sleep(20 * time.Millisecond)
		c.ready.Store(true)
	}()

	got, err := r.LookupReady(context.Background(), "w", 2*time.Second)
	if err != nil {
		t.Fatalf("LookupReady() error: %v", err)
	}
	if got != c {
		t.Fatal("LookupReady() returned a different client")
	}
}

func TestRegistry_LookupReadyTimeouts(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *Registry)
		want  error
	}{
		{
			name:  "missing",
			setup: func(r *Registry) {},
			want:  ErrNotFound,
		},
		{
			name: "not ready",
			setup: func(r *Registry) {
				r.Register(newFakeClient("w"))
			},
			want: ErrNotReady,
		},
		{
			name: "closed",
			setup: func(r *Registry) {
				c := newFakeClient("w")
				c.ready.Store(true)
				c.Close()
				r.Register(c)
			},
			want: ErrClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := clockwork.NewFakeClock()
			r := New(WithClock(clock), WithPollInterval(150*time.Millisecond))
			tt.setup(r)

			errc := make(chan error, 1)
			go func() {
				_, err := r.LookupReady(context.Background(), "w", time.Second)
				errc <- err
			}()

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := clock.BlockUntilContext(ctx, 1); err != nil {
				t.Fatalf("lookup never started polling: %v", err)
			}
			clock.Advance(2 * time.Second)

			select {
			case err := <-errc:
				if !errors.Is(err, tt.want) {
					t.Fatalf("LookupReady() error = %v, want %v", err, tt.want)
				}
			case <-ctx.Done():
				t.Fatal("LookupReady() did not return after the deadline")
			}
		})
	}
}

func TestRegistry_LookupReadyContextCancel(t *testing.T) {
	r := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.LookupReady(ctx, "w", time.Minute); !errors.Is(err, context.Canceled) {
		t.Fatalf("LookupReady() error = %v, want context.Canceled", err)
	}
}

func TestRegistry_KeysAndCloseAll(t *testing.T) {
	r := New()
	a, b := newFakeClient("b"), newFakeClient("a")
	r.Register(a)
	r.Register(b)

	keys := r.Keys()
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Fatalf("Keys() = %v", keys)
	}

	r.CloseAll()
	if r.Len() != 0 {
		t.Fatalf("Len() = %d after CloseAll", r.Len())
	}
	if a.Open() || b.Open() {
		t.Fatal("CloseAll() left clients open")
	}
}
