package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Host != "localhost" || cfg.Port != 9898 {
		t.Errorf("address = %s:%d", cfg.Host, cfg.Port)
	}
	if cfg.Workers != 80 || cfg.TaskTimeout != 180*time.Second || cfg.ReceiveTimeout != 5*time.Second {
		t.Errorf("pool settings = %d workers, %s task, %s receive", cfg.Workers, cfg.TaskTimeout, cfg.ReceiveTimeout)
	}
	if cfg.TokenCapacity != 1000 || cfg.TokenMaxAge != 600*time.Second {
		t.Errorf("credentials = %d / %s", cfg.TokenCapacity, cfg.TokenMaxAge)
	}
	if !cfg.Metrics || cfg.RequireTokens {
		t.Errorf("metrics = %v, require tokens = %v", cfg.Metrics, cfg.RequireTokens)
	}
}

func TestLoad_Environment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("EVENTBROKER_HOST", "0.0.0.0")
	t.Setenv("EVENTBROKER_PORT", "9000")
	t.Setenv("EVENTBROKER_RECEIVE_TIMEOUT", "2")
	t.Setenv("EVENTBROKER_TASK_TIMEOUT", "1m")
	t.Setenv("EVENTBROKER_WORKERS", "16")
	t.Setenv("EVENTBROKER_REQUIRE_TOKENS", "true")
	t.Setenv("EVENTBROKER_RATE_LIMIT", "12.5")
	t.Setenv("EVENTBROKER_ALLOWED_ORIGINS", "http://a.example, http://b.example,http://a.example")
	t.Setenv("EVENTBROKER_LOG_FORMAT", "JSON")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Host != "0.0.0.0" || cfg.Port != 9000 {
		t.Errorf("address = %s:%d", cfg.Host, cfg.Port)
	}
	if cfg.ReceiveTimeout != 2*time.Second || cfg.TaskTimeout != time.Minute {
		t.Errorf("timeouts = %s / %s", cfg.ReceiveTimeout, cfg.TaskTimeout)
	}
	if cfg.Workers != 16 || !cfg.RequireTokens || cfg.RateLimit != 12.5 {
		t.Errorf("cfg = %+v", cfg)
	}
	if strings.Join(cfg.AllowedOrigins, ",") != "http://a.example,http://b.example" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q", cfg.LogFormat)
	}
}

func TestLoad_ForwardedPortWins(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("EVENTBROKER_PORT", "9000")
	t.Setenv("EVENTBROKER_PORT_FORWARDED", "443")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != 443 {
		t.Fatalf("Port = %d, want forwarded 443", cfg.Port)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, dir+"/.env", "EVENTBROKER_WORKERS=7\nEVENTBROKER_PORT=9100\n")
	t.Setenv("EVENTBROKER_PORT", "9200")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Workers != 7 {
		t.Errorf("Workers = %d, want 7 from .env", cfg.Workers)
	}
	if cfg.Port != 9200 {
		t.Errorf("Port = %d, environment should win over .env", cfg.Port)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := map[string]string{
		"EVENTBROKER_PORT":            "nine",
		"EVENTBROKER_TASK_TIMEOUT":    "soon",
		"EVENTBROKER_METRICS":         "maybe",
		"EVENTBROKER_WORKERS":         "0",
		"EVENTBROKER_LOG_LEVEL":       "loud",
		"EVENTBROKER_TRACE_EXPORTER":  "carrier-pigeon",
		"EVENTBROKER_RECEIVE_TIMEOUT": "10m",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%q succeeded", key, value)
			}
		})
	}
}

func TestConfig_Broker(t *testing.T) {
	cfg := Default()
	cfg.Workers = 4
	cfg.TaskTimeout = time.Minute
	cfg.RateLimit = 3

	bc := cfg.Broker()
	if bc.Addr() != "localhost:9898" {
		t.Errorf("Addr() = %q", bc.Addr())
	}
	if bc.Pool.Workers != 4 || bc.Pool.TaskTimeout != time.Minute {
		t.Errorf("pool = %+v", bc.Pool)
	}
	if bc.RateLimit != 3 || bc.Credentials.Capacity != 1000 {
		t.Errorf("broker config = %+v", bc)
	}
	if err := bc.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	for _, s := range []string{"debug", "INFO", "warn", "warning", "error", ""} {
		if _, err := ParseLevel(s); err != nil {
			t.Errorf("ParseLevel(%q) error: %v", s, err)
		}
	}
	if _, err := ParseLevel("trace"); err == nil {
		t.Error("ParseLevel(trace) = nil error")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}
