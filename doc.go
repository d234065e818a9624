// Package pulse provides the playbook automation engine behind the Pulse
// retention console: a rules engine that matches incoming customer risk
// signals against configured playbooks, admits trackable runs under cooldown
// and concurrency limits, routes runs through an approval workflow, executes
// ordered actions against external systems, and surfaces prioritized work
// queues for operators.
//
// Pulse is designed as a library, not a service. Import it, configure a
// store, register connectors, and feed it signals.
//
// # Quick Start
//
//	c, err := pulse.New(
//	    pulse.WithStore(memory.New()),
//	    pulse.WithConcurrency(8),
//	)
//
// # Architecture
//
// Pulse follows a composable store pattern where each subsystem (playbook,
// signal, run, audit, cluster) defines its own store interface. A single
// backend implements all of them.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package pulse
