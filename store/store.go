// Package store defines the aggregate persistence interface. Each subsystem
// (signal, playbook, run, audit, cluster) defines its own store interface.
// The composite Store composes them all. Backends: Postgres, SQLite, Redis,
// and Memory.
package store

import (
	"context"

	"github.com/PulseAIShared/pulse-engine/audit"
	"github.com/PulseAIShared/pulse-engine/cluster"
	"github.com/PulseAIShared/pulse-engine/playbook"
	"github.com/PulseAIShared/pulse-engine/run"
	"github.com/PulseAIShared/pulse-engine/signal"
)

// Store is the aggregate persistence interface.
// Each subsystem store is a composable interface; a single backend
// (postgres, sqlite, redis, memory) implements all of them.
type Store interface {
	signal.Store
	playbook.Store
	run.Store
	audit.Store
	cluster.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
