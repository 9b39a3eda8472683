package broker

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/vango-dev/eventbroker/pkg/credentials"
	"github.com/vango-dev/eventbroker/pkg/workerpool"
)

// Config configures a Broker.
type Config struct {
	// Host is the listen host.
	// Default: "localhost".
	Host string

	// Port is the listen port.
	// Default: 9898.
	Port int

	// Timeouts

	// ReceiveTimeout bounds each wait for an inbound message. Expiry is
	// logged and ignored unless the transport has closed.
	// Default: 5 seconds.
	ReceiveTimeout time.Duration

	// WriteTimeout is the maximum time to wait when sending a frame.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// PushWait is how long SendData waits for the target to be registered
	// and ready.
	// Default: 5 seconds.
	PushWait time.Duration

	// PingInterval is the time between heartbeat pings.
	// Default: 5 seconds.
	PingInterval time.Duration

	// ShutdownTimeout bounds Shutdown when the caller's context has no
	// deadline.
	// Default: 30 seconds.
	ShutdownTimeout time.Duration

	// SlowCall is the handler duration above which calls are logged as slow.
	// Default: 500ms.
	SlowCall time.Duration

	// SlowDecode is the decode duration above which inbound decoding is
	// logged as slow.
	// Default: 50ms.
	SlowDecode time.Duration

	// Limits

	// RateLimit is the sustained inbound message rate per connection.
	// Zero disables limiting.
	RateLimit rate.Limit

	// RateBurst is the inbound burst per connection.
	// Default: 20 when RateLimit is set.
	RateBurst int

	// ReadBufferSize is the WebSocket read buffer size.
	// Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	// Default: 4096.
	WriteBufferSize int

	// AllowedOrigins restricts the Origin header of upgrade requests.
	// Widgets are usually served from another port, so an empty list
	// accepts any origin.
	AllowedOrigins []string

	// Features

	// RequireTokens makes the event path require a valid access token,
	// checked against the credential store unless another validator is set.
	RequireTokens bool

	// EnableMetrics exposes /metrics.
	// Default: true.
	EnableMetrics bool

	// SweepInterval runs the credential sweeper. Zero relies on lazy expiry.
	SweepInterval time.Duration

	// Pool configures the worker pool.
	Pool workerpool.Config

	// Credentials configures the credential store.
	Credentials credentials.StoreConfig
}

// DefaultConfig returns a Config with the defaults used by the server.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            9898,
		ReceiveTimeout:  5 * time.Second,
		WriteTimeout:    10 * time.Second,
		PushWait:        5 * time.Second,
		PingInterval:    5 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		SlowCall:        500 * time.Millisecond,
		SlowDecode:      50 * time.Millisecond,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		EnableMetrics:   true,
		Pool:            workerpool.DefaultConfig(),
		Credentials: credentials.StoreConfig{
			Capacity: credentials.DefaultCapacity,
			MaxAge:   credentials.DefaultMaxAge,
		},
	}
}

// withDefaults fills zero durations and sizes. Booleans are taken as given.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Host == "" {
		c.Host = d.Host
	}
	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.ReceiveTimeout <= 0 {
		c.ReceiveTimeout = d.ReceiveTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.PushWait <= 0 {
		c.PushWait = d.PushWait
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	if c.SlowCall <= 0 {
		c.SlowCall = d.SlowCall
	}
	if c.SlowDecode <= 0 {
		c.SlowDecode = d.SlowDecode
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		c.RateBurst = 20
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.WriteBufferSize <= 0 {
		c.WriteBufferSize = d.WriteBufferSize
	}
	return c
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("broker: port %d out of range", c.Port)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("broker: negative rate limit %v", c.RateLimit)
	}
	if c.Pool.TaskTimeout > 0 && c.ReceiveTimeout > c.Pool.TaskTimeout {
		return fmt.Errorf("broker: receive timeout %s exceeds task timeout %s", c.ReceiveTimeout, c.Pool.TaskTimeout)
	}
	for _, origin := range c.AllowedOrigins {
		if _, err := url.Parse(origin); err != nil {
			return fmt.Errorf("broker: invalid allowed origin %q: %w", origin, err)
		}
	}
	return nil
}

// originChecker builds the upgrader's CheckOrigin from AllowedOrigins.
func (c Config) originChecker() func(r *http.Request) bool {
	if len(c.AllowedOrigins) == 0 {
		return func(*http.Request) bool { return true }
	}

	allowed := make(map[string]bool, len(c.AllowedOrigins))
	for _, o := range c.AllowedOrigins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			allowed[u.Host] = true
		} else {
			allowed[o] = true
		}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// No Origin header (e.g. non-browser clients)
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return allowed[u.Host]
	}
}
