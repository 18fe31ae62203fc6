package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if cfg.HTTP.Port != 8000 {
		t.Errorf("expected default port 8000, got %d", cfg.HTTP.Port)
	}
	if cfg.Cache.Backend != BackendFile {
		t.Errorf("expected default cache backend %q, got %q", BackendFile, cfg.Cache.Backend)
	}
	if cfg.Breaker.Threshold != 5 || cfg.Breaker.RecoveryTimeout != 60*time.Second {
		t.Errorf("unexpected breaker defaults: %+v", cfg.Breaker)
	}
	if cfg.Address() != "0.0.0.0:8000" {
		t.Errorf("Address() = %q", cfg.Address())
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HTTP.Port = 0
	cfg.Cache.Backend = "tape"
	cfg.WebSocket.PongTimeout = cfg.WebSocket.PingInterval
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"HTTP port", "unknown cache backend", "pong timeout", "log format"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("validation error missing %q: %v", want, err)
		}
	}
}

func TestValidate_InvokerAttemptsBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Invoker.MaxAttempts = MaxInvokerAttempts
	if err := cfg.Validate(); err != nil {
		t.Errorf("%d attempts should be valid: %v", MaxInvokerAttempts, err)
	}
	for _, n := range []int{0, MaxInvokerAttempts + 1, 64} {
		cfg.Invoker.MaxAttempts = n
		if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "invoker max attempts") {
			t.Errorf("MaxAttempts=%d should be rejected, got %v", n, err)
		}
	}
}

func TestValidate_BackendPaths(t *testing.T) {
	tests := []struct {
		backend string
		clear   func(*Config)
	}{
		{BackendFile, func(c *Config) { c.Cache.FilePath = "" }},
		{BackendSQLite, func(c *Config) { c.Cache.SQLitePath = "" }},
		{BackendBolt, func(c *Config) { c.Cache.BoltPath = "" }},
		{BackendRedis, func(c *Config) { c.Cache.RedisAddr = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Cache.Backend = tt.backend
			if err := cfg.Validate(); err != nil {
				t.Fatalf("backend %s with defaults should be valid: %v", tt.backend, err)
			}
			tt.clear(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("backend %s without location should be invalid", tt.backend)
			}
		})
	}

	cfg := DefaultConfig()
	cfg.Cache.Backend = BackendMemory
	cfg.Cache.FilePath = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("memory backend needs no path: %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("LABSYNC_HTTP_PORT", "9090")
	t.Setenv("LABSYNC_ROOM_IDLE_GRACE", "2m")
	t.Setenv("LABSYNC_CACHE_BACKEND", "redis")
	t.Setenv("LABSYNC_CACHE_REDIS_ADDR", "cache:6379")
	t.Setenv("LABSYNC_GENERATOR_ENDPOINT", "http://llm.local/generate")
	t.Setenv("LABSYNC_OTEL_ENABLED", "false")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}
	if cfg.HTTP.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.HTTP.Port)
	}
	if cfg.Room.IdleGrace != 2*time.Minute {
		t.Errorf("expected idle grace 2m, got %v", cfg.Room.IdleGrace)
	}
	if cfg.Cache.Backend != BackendRedis || cfg.Cache.RedisAddr != "cache:6379" {
		t.Errorf("unexpected cache config: %+v", cfg.Cache)
	}
	if cfg.Generator.Endpoint != "http://llm.local/generate" {
		t.Errorf("unexpected generator endpoint %q", cfg.Generator.Endpoint)
	}
	if cfg.Telemetry.Enabled {
		t.Error("expected telemetry disabled")
	}
	// untouched values keep their defaults
	if cfg.HTTP.Host != "0.0.0.0" {
		t.Errorf("expected default host, got %q", cfg.HTTP.Host)
	}
	if cfg.Telemetry.ServiceName != "labsync" {
		t.Errorf("expected default service name, got %q", cfg.Telemetry.ServiceName)
	}
}

func TestLoadFromEnv_InvalidValue(t *testing.T) {
	t.Setenv("LABSYNC_HTTP_PORT", "not-a-number")
	if _, err := LoadFromEnv(); err == nil {
		t.Error("expected parse error for invalid port")
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := writeFile(t, "labsync.yaml", `
http:
  port: 8123
room:
  idle_grace: 90s
cache:
  backend: bolt
  bolt_path: /tmp/labsync.bolt
log:
  level: debug
  format: json
`)
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.HTTP.Port != 8123 {
		t.Errorf("expected port 8123, got %d", cfg.HTTP.Port)
	}
	if cfg.Room.IdleGrace != 90*time.Second {
		t.Errorf("expected idle grace 90s, got %v", cfg.Room.IdleGrace)
	}
	if cfg.Cache.Backend != BackendBolt || cfg.Cache.BoltPath != "/tmp/labsync.bolt" {
		t.Errorf("unexpected cache config: %+v", cfg.Cache)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("unexpected log config: %+v", cfg.Log)
	}
	if cfg.HTTP.ReadTimeout != 30*time.Second {
		t.Errorf("unset fields should keep defaults, got read timeout %v", cfg.HTTP.ReadTimeout)
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	path := writeFile(t, "labsync.json", `{
  "http": {"host": "127.0.0.1", "port": 8200},
  "breaker": {"threshold": 3, "recovery_timeout": "10s"}
}`)
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.Address() != "127.0.0.1:8200" {
		t.Errorf("Address() = %q", cfg.Address())
	}
	if cfg.Breaker.Threshold != 3 || cfg.Breaker.RecoveryTimeout != 10*time.Second {
		t.Errorf("unexpected breaker config: %+v", cfg.Breaker)
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := LoadFromFile(writeFile(t, "labsync.toml", "x = 1")); err == nil {
		t.Error("expected error for unsupported extension")
	}
	if _, err := LoadFromFile(writeFile(t, "bad.yaml", "http: [")); err == nil {
		t.Error("expected error for malformed YAML")
	}
	if _, err := LoadFromFile(writeFile(t, "invalid.yaml", "http:\n  port: 70000\n")); err == nil {
		t.Error("expected validation error for out-of-range port")
	}
}

func TestLoadConfigWithPrecedence(t *testing.T) {
	t.Setenv("LABSYNC_HTTP_PORT", "9000")
	t.Setenv("LABSYNC_HTTP_HOST", "10.0.0.1")
	path := writeFile(t, "labsync.yaml", "http:\n  port: 9100\n")

	cfg, err := LoadConfigWithPrecedence(path)
	if err != nil {
		t.Fatalf("LoadConfigWithPrecedence failed: %v", err)
	}
	if cfg.HTTP.Port != 9100 {
		t.Errorf("file should win over env, got port %d", cfg.HTTP.Port)
	}
	if cfg.HTTP.Host != "10.0.0.1" {
		t.Errorf("env should win over defaults, got host %q", cfg.HTTP.Host)
	}

	cfg, err = LoadConfigWithPrecedence("")
	if err != nil {
		t.Fatalf("LoadConfigWithPrecedence without file failed: %v", err)
	}
	if cfg.HTTP.Port != 9000 {
		t.Errorf("expected env port 9000, got %d", cfg.HTTP.Port)
	}
}
