package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/vango-dev/eventbroker/internal/config"
	"github.com/vango-dev/eventbroker/pkg/broker"
	"github.com/vango-dev/eventbroker/pkg/protocol"
)

func TestNewLogger(t *testing.T) {
	cfg := config.Default()
	cfg.LogFormat = "json"
	cfg.LogLevel = "warn"

	var buf bytes.Buffer
	logger, err := newLogger(cfg, &buf)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record written at warn level: %s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("expected JSON warn record, got %s", out)
	}

	cfg.LogLevel = "loud"
	if _, err := newLogger(cfg, &buf); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestRegisterBuiltins(t *testing.T) {
	cfg := broker.DefaultConfig()
	cfg.EnableMetrics = false
	b := broker.New(cfg)
	t.Cleanup(func() { b.Shutdown(context.Background()) })

	registerBuiltins(b)

	echo, ok := b.Functions().Resolve("echo")
	if !ok {
		t.Fatal("echo not registered")
	}
	got, err := echo(context.Background(), &protocol.Request{Message: protocol.Message{"a": "b"}})
	if err != nil {
		t.Fatalf("echo: %v", err)
	}
	if m, _ := protocol.AsMessage(got); m.String("a") != "b" {
		t.Errorf("echo returned %#v", got)
	}

	stats, ok := b.Functions().Resolve("stats")
	if !ok {
		t.Fatal("stats not registered")
	}
	got, err = stats(context.Background(), &protocol.Request{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	m := got.(map[string]any)
	if _, ok := m["pool"]; !ok {
		t.Errorf("stats missing pool: %#v", m)
	}
}
