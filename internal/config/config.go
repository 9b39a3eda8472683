package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"github.com/vango-dev/eventbroker/pkg/broker"
)

// EnvPrefix prefixes every variable read by Load.
const EnvPrefix = "EVENTBROKER_"

// Config is the process configuration.
type Config struct {
	Host           string
	Port           int
	ReceiveTimeout time.Duration
	TaskTimeout    time.Duration
	Workers        int
	QueueSize      int
	PushWait       time.Duration
	PingInterval   time.Duration

	TokenCapacity int
	TokenMaxAge   time.Duration
	RequireTokens bool
	RedisURL      string

	RateLimit      float64
	RateBurst      int
	AllowedOrigins []string

	Metrics   bool
	LogLevel  string
	LogFormat string

	TraceExporter string
	TraceEndpoint string
}

// Default returns the configuration used when no variables are set.
func Default() Config {
	return Config{
		Host:           "localhost",
		Port:           9898,
		ReceiveTimeout: 5 * time.Second,
		TaskTimeout:    180 * time.Second,
		Workers:        80,
		QueueSize:      4096,
		PushWait:       5 * time.Second,
		PingInterval:   5 * time.Second,
		TokenCapacity:  1000,
		TokenMaxAge:    600 * time.Second,
		RateBurst:      20,
		Metrics:        true,
		LogLevel:       "info",
		LogFormat:      "text",
		TraceExporter:  "none",
	}
}

// Load reads an optional .env file and the EVENTBROKER_* variables.
func Load() (Config, error) {
	// Optional: load local .env for development. Missing file is fine.
	_ = godotenv.Load()

	d := Default()
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	cfg := Config{
		Host:           getenvDefault("HOST", d.Host),
		RedisURL:       strings.TrimSpace(getenv("REDIS_URL")),
		AllowedOrigins: getenvCSV("ALLOWED_ORIGINS"),
		LogLevel:       strings.ToLower(getenvDefault("LOG_LEVEL", d.LogLevel)),
		LogFormat:      strings.ToLower(getenvDefault("LOG_FORMAT", d.LogFormat)),
		TraceExporter:  strings.ToLower(getenvDefault("TRACE_EXPORTER", d.TraceExporter)),
		TraceEndpoint:  strings.TrimSpace(getenv("TRACE_ENDPOINT")),
	}

	var err error
	cfg.Port, err = getenvInt("PORT", d.Port)
	collect(err)
	if forwarded := strings.TrimSpace(getenv("PORT_FORWARDED")); forwarded != "" {
		cfg.Port, err = strconv.Atoi(forwarded)
		if err != nil {
			collect(fmt.Errorf("%sPORT_FORWARDED: %w", EnvPrefix, err))
		}
	}

	cfg.ReceiveTimeout, err = getenvDuration("RECEIVE_TIMEOUT", d.ReceiveTimeout)
	collect(err)
	cfg.TaskTimeout, err = getenvDuration("TASK_TIMEOUT", d.TaskTimeout)
	collect(err)
	cfg.PushWait, err = getenvDuration("PUSH_WAIT", d.PushWait)
	collect(err)
	cfg.PingInterval, err = getenvDuration("PING_INTERVAL", d.PingInterval)
	collect(err)
	cfg.TokenMaxAge, err = getenvDuration("TOKEN_MAX_AGE", d.TokenMaxAge)
	collect(err)

	cfg.Workers, err = getenvInt("WORKERS", d.Workers)
	collect(err)
	cfg.QueueSize, err = getenvInt("QUEUE_SIZE", d.QueueSize)
	collect(err)
	cfg.TokenCapacity, err = getenvInt("TOKEN_CAPACITY", d.TokenCapacity)
	collect(err)
	cfg.RateBurst, err = getenvInt("RATE_BURST", d.RateBurst)
	collect(err)

	cfg.RequireTokens, err = getenvBool("REQUIRE_TOKENS", d.RequireTokens)
	collect(err)
	cfg.Metrics, err = getenvBool("METRICS", d.Metrics)
	collect(err)

	if v := strings.TrimSpace(getenv("RATE_LIMIT")); v != "" {
		cfg.RateLimit, err = strconv.ParseFloat(v, 64)
		if err != nil {
			collect(fmt.Errorf("%sRATE_LIMIT: %w", EnvPrefix, err))
		}
	}

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and combinations.
func (c Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be between 0 and 65535, got %d", c.Port))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	if c.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("queue size must be positive, got %d", c.QueueSize))
	}
	if c.ReceiveTimeout <= 0 || c.TaskTimeout <= 0 || c.PushWait <= 0 || c.PingInterval <= 0 {
		errs = append(errs, errors.New("timeouts and intervals must be positive"))
	}
	if c.ReceiveTimeout > c.TaskTimeout {
		errs = append(errs, fmt.Errorf("receive timeout %s exceeds task timeout %s", c.ReceiveTimeout, c.TaskTimeout))
	}
	if c.TokenCapacity < 1 {
		errs = append(errs, fmt.Errorf("token capacity must be positive, got %d", c.TokenCapacity))
	}
	if c.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rate limit must not be negative, got %v", c.RateLimit))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log format must be text or json, got %q", c.LogFormat))
	}
	switch c.TraceExporter {
	case "none", "stdout", "otlp-http":
	default:
		errs = append(errs, fmt.Errorf("trace exporter must be none, stdout or otlp-http, got %q", c.TraceExporter))
	}
	return errors.Join(errs...)
}

// Broker converts the configuration into a broker.Config.
func (c Config) Broker() broker.Config {
	bc := broker.DefaultConfig()
	bc.Host = c.Host
	bc.Port = c.Port
	bc.ReceiveTimeout = c.ReceiveTimeout
	bc.PushWait = c.PushWait
	bc.PingInterval = c.PingInterval
	bc.RequireTokens = c.RequireTokens
	bc.EnableMetrics = c.Metrics
	bc.AllowedOrigins = c.AllowedOrigins
	bc.RateLimit = rate.Limit(c.RateLimit)
	bc.RateBurst = c.RateBurst

	bc.Pool.Workers = c.Workers
	bc.Pool.QueueSize = c.QueueSize
	bc.Pool.TaskTimeout = c.TaskTimeout

	bc.Credentials.Capacity = c.TokenCapacity
	bc.Credentials.MaxAge = c.TokenMaxAge
	bc.SweepInterval = c.TokenMaxAge / 2
	return bc
}

// ParseLevel maps a level name onto slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func getenv(key string) string {
	return os.Getenv(EnvPrefix + key)
}

func getenvDefault(key, fallback string) string {
	if v := strings.TrimSpace(getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	return n, nil
}

func getenvBool(key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback, fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	return b, nil
}

// getenvDuration accepts "5s"-style durations or a number of seconds.
func getenvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return fallback, nil
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback, fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	return d, nil
}

func getenvCSV(key string) []string {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return nil
	}

	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	seen := map[string]struct{}{}
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
