package pulse

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Coordinator.
type Option func(*Coordinator) error

// Storer is the minimal store interface held by the Coordinator.
// It covers lifecycle operations only. The full composite interface
// (store.Store) is used in subsystem layers that don't create import
// cycles. Implementations satisfy store.Store which embeds all
// subsystem stores.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// poolRunner is an internal interface for worker pool lifecycle.
type poolRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// tickerRunner is an internal interface for time-driven poller lifecycle
// (snooze waker, scheduled playbooks).
type tickerRunner interface {
	Start(ctx context.Context) error
	Stop()
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Coordinator is the central lifecycle owner for the playbook engine:
// signal intake, admission, run execution, and time-driven pollers.
//
// Create one with New() and functional options. The Coordinator holds
// references to subsystem components via internal interfaces to avoid
// import cycles. Use engine.Build() to wire everything together.
type Coordinator struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions extensionEmitter
	pool       poolRunner
	tickers    []tickerRunner

	// started tracks whether Start has been called.
	started bool
}

// New creates a new Coordinator with the given options.
func New(opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Logger returns the coordinator's logger.
func (c *Coordinator) Logger() *slog.Logger { return c.logger }

// Store returns the coordinator's store.
func (c *Coordinator) Store() Storer { return c.store }

// Config returns a copy of the coordinator's configuration.
func (c *Coordinator) Config() Config { return c.config }

// SetPool sets the worker pool (called by the engine package).
func (c *Coordinator) SetPool(p poolRunner) { c.pool = p }

// AddTicker registers a time-driven poller (called by the engine package).
func (c *Coordinator) AddTicker(t tickerRunner) { c.tickers = append(c.tickers, t) }

// SetExtensions sets the extension emitter (called by the engine package).
func (c *Coordinator) SetExtensions(e extensionEmitter) { c.extensions = e }

// Start begins run processing and time-driven pollers.
func (c *Coordinator) Start(ctx context.Context) error {
	if c.pool == nil {
		return ErrNoStore
	}
	for _, t := range c.tickers {
		if err := t.Start(ctx); err != nil {
			return err
		}
	}
	if err := c.pool.Start(ctx); err != nil {
		return err
	}
	c.started = true
	return nil
}

// Stop gracefully shuts down the coordinator.
func (c *Coordinator) Stop(ctx context.Context) error {
	for _, t := range c.tickers {
		t.Stop()
	}
	if c.pool != nil && c.started {
		if err := c.pool.Stop(ctx); err != nil {
			c.logger.Error("pool stop error", "error", err)
		}
	}
	if c.extensions != nil {
		c.extensions.EmitShutdown(ctx)
	}
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// WithStore sets the persistence backend.
func WithStore(s Storer) Option {
	return func(c *Coordinator) error {
		c.store = s
		return nil
	}
}

// WithLogger sets the structured logger used by all subsystems.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) error {
		c.logger = logger
		return nil
	}
}

// WithConcurrency sets the maximum number of concurrently executing runs.
func WithConcurrency(n int) Option {
	return func(c *Coordinator) error {
		c.config.Concurrency = n
		return nil
	}
}

// WithPollInterval sets how often the worker pool polls for approved runs.
func WithPollInterval(d time.Duration) Option {
	return func(c *Coordinator) error {
		c.config.PollInterval = d
		return nil
	}
}

// WithTickInterval sets the interval for time-driven pollers.
func WithTickInterval(d time.Duration) Option {
	return func(c *Coordinator) error {
		c.config.TickInterval = d
		return nil
	}
}

// WithDefaultActionTimeout sets the fallback per-action execution deadline.
func WithDefaultActionTimeout(d time.Duration) Option {
	return func(c *Coordinator) error {
		c.config.DefaultActionTimeout = d
		return nil
	}
}

// WithShutdownTimeout sets the maximum time to wait for graceful shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *Coordinator) error {
		c.config.ShutdownTimeout = d
		return nil
	}
}

// WithConfig replaces the entire configuration.
func WithConfig(cfg Config) Option {
	return func(c *Coordinator) error {
		c.config = cfg
		return nil
	}
}
