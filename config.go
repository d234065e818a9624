package pulse

import "time"

// Config holds configuration for the Coordinator.
type Config struct {
	// Concurrency is the maximum number of runs executed concurrently
	// by the local worker pool.
	Concurrency int

	// PollInterval is how often the worker pool polls for approved runs.
	PollInterval time.Duration

	// TickInterval is how often time-driven pollers (snooze expiry,
	// scheduled playbooks) evaluate due work. Bounded staleness of one
	// tick is acceptable for both.
	TickInterval time.Duration

	// DefaultActionTimeout bounds a single connector call when the
	// action config does not set its own timeout.
	DefaultActionTimeout time.Duration

	// MaxErrorDetail is the maximum length of the error message recorded
	// on a failed run. Longer connector errors are truncated.
	MaxErrorDetail int

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often executing runs send heartbeats.
	HeartbeatInterval time.Duration

	// StaleRunThreshold is how long before an executing run without a
	// heartbeat is considered orphaned by a crashed worker.
	StaleRunThreshold time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:          8,
		PollInterval:         1 * time.Second,
		TickInterval:         30 * time.Second,
		DefaultActionTimeout: 30 * time.Second,
		MaxErrorDetail:       2000,
		ShutdownTimeout:      30 * time.Second,
		HeartbeatInterval:    10 * time.Second,
		StaleRunThreshold:    60 * time.Second,
	}
}
