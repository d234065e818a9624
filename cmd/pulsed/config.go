package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	pulse "github.com/PulseAIShared/pulse-engine"
	"github.com/PulseAIShared/pulse-engine/store"
	"github.com/PulseAIShared/pulse-engine/store/memory"
	"github.com/PulseAIShared/pulse-engine/store/postgres"
	"github.com/PulseAIShared/pulse-engine/store/redis"
	"github.com/PulseAIShared/pulse-engine/store/sqlite"
)

// duration wraps time.Duration with YAML support for values like "30s".
type duration time.Duration

func (d *duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = duration(parsed)
	return nil
}

func (d duration) or(fallback time.Duration) time.Duration {
	if d == 0 {
		return fallback
	}
	return time.Duration(d)
}

// fileConfig is the on-disk shape of pulse.yaml.
type fileConfig struct {
	Store struct {
		// Driver selects the backend: memory, postgres, sqlite, redis.
		Driver string `yaml:"driver"`
		// DSN is the connection string: a postgres URL, a sqlite file
		// path, or a redis URL. Ignored for memory.
		DSN string `yaml:"dsn"`
	} `yaml:"store"`

	Engine struct {
		Concurrency          int      `yaml:"concurrency"`
		PollInterval         duration `yaml:"poll_interval"`
		TickInterval         duration `yaml:"tick_interval"`
		DefaultActionTimeout duration `yaml:"default_action_timeout"`
		MaxErrorDetail       int      `yaml:"max_error_detail"`
		ShutdownTimeout      duration `yaml:"shutdown_timeout"`
		HeartbeatInterval    duration `yaml:"heartbeat_interval"`
		StaleRunThreshold    duration `yaml:"stale_run_threshold"`
	} `yaml:"engine"`

	Log struct {
		// Level is one of debug, info, warn, error. Defaults to info.
		Level string `yaml:"level"`
		// Format is text or json. Defaults to text.
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func loadConfig(path string) (*fileConfig, error) {
	var cfg fileConfig
	if path == "" {
		cfg.Store.Driver = "memory"
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "memory"
	}
	return &cfg, nil
}

// pulseConfig maps the file's engine section onto pulse.Config,
// falling back to defaults for anything unset.
func (c *fileConfig) pulseConfig() pulse.Config {
	def := pulse.DefaultConfig()
	out := pulse.Config{
		Concurrency:          c.Engine.Concurrency,
		PollInterval:         c.Engine.PollInterval.or(def.PollInterval),
		TickInterval:         c.Engine.TickInterval.or(def.TickInterval),
		DefaultActionTimeout: c.Engine.DefaultActionTimeout.or(def.DefaultActionTimeout),
		MaxErrorDetail:       c.Engine.MaxErrorDetail,
		ShutdownTimeout:      c.Engine.ShutdownTimeout.or(def.ShutdownTimeout),
		HeartbeatInterval:    c.Engine.HeartbeatInterval.or(def.HeartbeatInterval),
		StaleRunThreshold:    c.Engine.StaleRunThreshold.or(def.StaleRunThreshold),
	}
	if out.Concurrency == 0 {
		out.Concurrency = def.Concurrency
	}
	if out.MaxErrorDetail == 0 {
		out.MaxErrorDetail = def.MaxErrorDetail
	}
	return out
}

func (c *fileConfig) logger() *slog.Logger {
	level := slog.LevelInfo
	switch c.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if c.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// openStore builds the configured backend. The caller owns Close.
func (c *fileConfig) openStore(ctx context.Context, logger *slog.Logger) (store.Store, error) {
	switch c.Store.Driver {
	case "memory":
		return memory.New(), nil

	case "postgres":
		if c.Store.DSN == "" {
			return nil, fmt.Errorf("postgres store requires a dsn")
		}
		return postgres.New(ctx, c.Store.DSN, postgres.WithLogger(logger))

	case "sqlite":
		if c.Store.DSN == "" {
			return nil, fmt.Errorf("sqlite store requires a dsn (file path)")
		}
		return sqlite.New(c.Store.DSN, sqlite.WithLogger(logger))

	case "redis":
		if c.Store.DSN == "" {
			return nil, fmt.Errorf("redis store requires a dsn (redis url)")
		}
		opts, err := goredis.ParseURL(c.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.New(goredis.NewClient(opts), redis.WithLogger(logger)), nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
}
