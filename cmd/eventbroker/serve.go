package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/vango-dev/eventbroker/internal/config"
	"github.com/vango-dev/eventbroker/internal/telemetry"
	"github.com/vango-dev/eventbroker/pkg/broker"
	"github.com/vango-dev/eventbroker/pkg/credentials"
	"github.com/vango-dev/eventbroker/pkg/protocol"
)

func serveCmd() *cobra.Command {
	var (
		port     int
		host     string
		logLevel string
		noMetric bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the event broker",
		Long: `Run the event broker until interrupted.

Two functions are built in: "echo" returns the message it was sent and
"stats" reports worker pool and credential store counters.

Examples:
  eventbroker serve
  eventbroker serve --port=9000
  EVENTBROKER_REQUIRE_TOKENS=true EVENTBROKER_REDIS_URL=redis://localhost:6379/0 eventbroker serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			if port > 0 {
				cfg.Port = port
			}
			if host != "" {
				cfg.Host = host
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			if noMetric {
				cfg.Metrics = false
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, os.Stderr)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (default from EVENTBROKER_PORT)")
	cmd.Flags().StringVarP(&host, "host", "H", "", "Host to bind to (default from EVENTBROKER_HOST)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	cmd.Flags().BoolVar(&noMetric, "no-metrics", false, "Disable the /metrics endpoint")

	return cmd
}

func runServe(ctx context.Context, cfg config.Config, logOut io.Writer) error {
	logger, err := newLogger(cfg, logOut)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	tp, err := telemetry.Init(ctx, telemetry.Config{
		Exporter:    cfg.TraceExporter,
		Endpoint:    cfg.TraceEndpoint,
		ServiceName: "eventbroker",
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	bc := cfg.Broker()
	if err := bc.Validate(); err != nil {
		return err
	}

	opts := []broker.Option{
		broker.WithLogger(logger),
		broker.WithTracer(tp.Tracer),
	}
	if cfg.RedisURL != "" {
		rdb, err := newRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		if cfg.RequireTokens {
			opts = append(opts, broker.WithTokenValidator(
				credentials.NewRedisTokens(rdb, cfg.TokenMaxAge, credentials.WithRedisLogger(logger)),
			))
		}
	}

	b := broker.New(bc, opts...)
	registerBuiltins(b)

	errCh := make(chan error, 1)
	go func() { errCh <- b.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), bc.ShutdownTimeout)
	defer cancel()
	return b.Shutdown(shutdownCtx)
}

func newLogger(cfg config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func newRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func registerBuiltins(b *broker.Broker) {
	b.RegisterFunction("echo", func(ctx context.Context, req *protocol.Request) (any, error) {
		return req.Message, nil
	})
	b.RegisterFunction("stats", func(ctx context.Context, req *protocol.Request) (any, error) {
		return map[string]any{
			"pool":        b.Pool().Stats(),
			"credentials": b.Credentials().Stats(),
			"clients":     b.Clients().Len(),
			"callbacks":   b.Callbacks().Len(),
		}, nil
	})
}
