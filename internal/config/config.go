package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"labsync/internal/telemetry"
	"labsync/pkg/types"
)

// EnvPrefix namespaces every environment variable
const EnvPrefix = "LABSYNC_"

// MaxInvokerAttempts bounds retries against the upstream generator
const MaxInvokerAttempts = 10

// Cache backends for the persistent tier
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendRedis  = "redis"
)

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	HTTP      HTTPConfig       `json:"http" yaml:"http" envPrefix:"HTTP_"`
	WebSocket WebSocketConfig  `json:"websocket" yaml:"websocket" envPrefix:"WEBSOCKET_"`
	Room      RoomConfig       `json:"room" yaml:"room" envPrefix:"ROOM_"`
	Cache     CacheConfig      `json:"cache" yaml:"cache" envPrefix:"CACHE_"`
	Breaker   BreakerConfig    `json:"breaker" yaml:"breaker" envPrefix:"BREAKER_"`
	Invoker   InvokerConfig    `json:"invoker" yaml:"invoker" envPrefix:"INVOKER_"`
	Generator GeneratorConfig  `json:"generator" yaml:"generator" envPrefix:"GENERATOR_"`
	Log       LogConfig        `json:"log" yaml:"log" envPrefix:"LOG_"`
	Telemetry telemetry.Config `json:"telemetry" yaml:"telemetry" envPrefix:"OTEL_"`
}

type HTTPConfig struct {
	Host            string        `json:"host" yaml:"host" env:"HOST"`
	Port            int           `json:"port" yaml:"port" env:"PORT"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// FUNCTIONAL DISCOVERY: WebSocket configuration optimized for classroom scenarios
type WebSocketConfig struct {
	SendBuffer      int           `json:"send_buffer" yaml:"send_buffer" env:"SEND_BUFFER"`
	PingInterval    time.Duration `json:"ping_interval" yaml:"ping_interval" env:"PING_INTERVAL"`
	PongTimeout     time.Duration `json:"pong_timeout" yaml:"pong_timeout" env:"PONG_TIMEOUT"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	MaxMessageBytes int64         `json:"max_message_bytes" yaml:"max_message_bytes" env:"MAX_MESSAGE_BYTES"`
}

type RoomConfig struct {
	IdleGrace          time.Duration `json:"idle_grace" yaml:"idle_grace" env:"IDLE_GRACE"`
	SweepInterval      time.Duration `json:"sweep_interval" yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
	RateLimitPerMinute int           `json:"rate_limit_per_minute" yaml:"rate_limit_per_minute" env:"RATE_LIMIT_PER_MINUTE"`
}

type CacheConfig struct {
	Backend       string        `json:"backend" yaml:"backend" env:"BACKEND"`
	FastTTL       time.Duration `json:"fast_ttl" yaml:"fast_ttl" env:"FAST_TTL"`
	PersistentTTL time.Duration `json:"persistent_ttl" yaml:"persistent_ttl" env:"PERSISTENT_TTL"`
	FilePath      string        `json:"file_path" yaml:"file_path" env:"FILE_PATH"`
	SQLitePath    string        `json:"sqlite_path" yaml:"sqlite_path" env:"SQLITE_PATH"`
	BoltPath      string        `json:"bolt_path" yaml:"bolt_path" env:"BOLT_PATH"`
	RedisAddr     string        `json:"redis_addr" yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string        `json:"redis_password" yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int           `json:"redis_db" yaml:"redis_db" env:"REDIS_DB"`
	RedisKey      string        `json:"redis_key" yaml:"redis_key" env:"REDIS_KEY"`
}

type BreakerConfig struct {
	Threshold       int           `json:"threshold" yaml:"threshold" env:"THRESHOLD"`
	RecoveryTimeout time.Duration `json:"recovery_timeout" yaml:"recovery_timeout" env:"RECOVERY_TIMEOUT"`
}

type InvokerConfig struct {
	MaxAttempts int           `json:"max_attempts" yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	BaseDelay   time.Duration `json:"base_delay" yaml:"base_delay" env:"BASE_DELAY"`
}

type GeneratorConfig struct {
	Endpoint    string        `json:"endpoint" yaml:"endpoint" env:"ENDPOINT"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout" env:"TIMEOUT"`
	ContextFile string        `json:"context_file" yaml:"context_file" env:"CONTEXT_FILE"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level" env:"LEVEL"`
	Format string `json:"format" yaml:"format" env:"FORMAT"`
}

// FUNCTIONAL DISCOVERY: Production-ready defaults based on classroom requirements
// Cache TTLs and breaker thresholds match the upstream generator's quota window
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		WebSocket: WebSocketConfig{
			SendBuffer:      256,
			PingInterval:    30 * time.Second,
			PongTimeout:     60 * time.Second,
			WriteTimeout:    5 * time.Second,
			MaxMessageBytes: types.MaxContentBytes + 4096,
		},
		Room: RoomConfig{
			IdleGrace:          5 * time.Minute,
			SweepInterval:      time.Minute,
			RateLimitPerMinute: 300,
		},
		Cache: CacheConfig{
			Backend:       BackendFile,
			FastTTL:       time.Hour,
			PersistentTTL: 24 * time.Hour,
			FilePath:      "./data/spectrum_cache.json",
			SQLitePath:    "./data/labsync.db",
			BoltPath:      "./data/labsync.bolt",
			RedisAddr:     "localhost:6379",
			RedisKey:      "labsync:cache",
		},
		Breaker: BreakerConfig{
			Threshold:       5,
			RecoveryTimeout: 60 * time.Second,
		},
		Invoker: InvokerConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
		},
		Generator: GeneratorConfig{
			Timeout: 60 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: telemetry.Config{
			Enabled:     true,
			ServiceName: "labsync",
			SampleRatio: 1,
		},
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
// Errors are joined so one run reports every problem
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	check(c.HTTP.Host != "", "HTTP host cannot be empty")
	check(c.HTTP.Port > 0 && c.HTTP.Port <= 65535, "HTTP port must be between 1 and 65535")
	check(c.HTTP.ReadTimeout > 0, "HTTP read timeout must be positive")
	check(c.HTTP.WriteTimeout > 0, "HTTP write timeout must be positive")
	check(c.HTTP.ShutdownTimeout > 0, "HTTP shutdown timeout must be positive")

	check(c.WebSocket.SendBuffer > 0, "WebSocket send buffer must be positive")
	check(c.WebSocket.PingInterval > 0, "WebSocket ping interval must be positive")
	check(c.WebSocket.PongTimeout > c.WebSocket.PingInterval, "WebSocket pong timeout must exceed the ping interval")
	check(c.WebSocket.WriteTimeout > 0, "WebSocket write timeout must be positive")
	check(c.WebSocket.MaxMessageBytes > 0, "WebSocket max message size must be positive")

	check(c.Room.IdleGrace > 0, "room idle grace must be positive")
	check(c.Room.SweepInterval > 0, "room sweep interval must be positive")
	check(c.Room.RateLimitPerMinute >= 0, "room rate limit cannot be negative")

	switch c.Cache.Backend {
	case BackendMemory:
	case BackendFile:
		check(c.Cache.FilePath != "", "cache file path cannot be empty")
	case BackendSQLite:
		check(c.Cache.SQLitePath != "", "cache sqlite path cannot be empty")
	case BackendBolt:
		check(c.Cache.BoltPath != "", "cache bolt path cannot be empty")
	case BackendRedis:
		check(c.Cache.RedisAddr != "", "cache redis address cannot be empty")
	default:
		errs = append(errs, fmt.Errorf("unknown cache backend %q", c.Cache.Backend))
	}
	check(c.Cache.FastTTL > 0, "cache fast TTL must be positive")
	check(c.Cache.PersistentTTL > 0, "cache persistent TTL must be positive")

	check(c.Breaker.Threshold > 0, "breaker threshold must be positive")
	check(c.Breaker.RecoveryTimeout > 0, "breaker recovery timeout must be positive")
	check(c.Invoker.MaxAttempts > 0 && c.Invoker.MaxAttempts <= MaxInvokerAttempts, fmt.Sprintf("invoker max attempts must be between 1 and %d", MaxInvokerAttempts))
	check(c.Invoker.BaseDelay > 0, "invoker base delay must be positive")
	check(c.Generator.Timeout > 0, "generator timeout must be positive")

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log format must be text or json, got %q", c.Log.Format))
	}
	check(c.Telemetry.SampleRatio >= 0 && c.Telemetry.SampleRatio <= 1, "telemetry sample ratio must be within [0,1]")

	return errors.Join(errs...)
}

// FUNCTIONAL DISCOVERY: Environment variable configuration enables deployment flexibility
// Only variables that are set override the defaults
func LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadFromFile reads a YAML or JSON file over the defaults. JSON is parsed
// with the YAML decoder, which also reads duration strings like "30s".
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := applyFile(cfg, path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json", ".yaml", ".yml":
	default:
		return fmt.Errorf("unsupported config file extension %q", ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// LoadConfigWithPrecedence layers file over environment over defaults and
// validates the result. An empty path skips the file layer.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Address returns host:port for the HTTP listener
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}
