// Package cluster coordinates multiple engine instances. Each instance
// registers itself as a worker and sends periodic heartbeats; one instance
// at a time holds leadership via a TTL lease and is responsible for firing
// scheduled playbooks, waking elapsed snoozes, and reclaiming runs from
// dead workers.
package cluster

import (
	"context"
	"time"

	"github.com/PulseAIShared/pulse-engine/id"
)

// WorkerState represents the lifecycle state of a worker.
type WorkerState string

const (
	// WorkerActive means the worker is healthy and claiming runs.
	WorkerActive WorkerState = "active"
	// WorkerDraining means the worker is finishing in-flight runs
	// but not claiming new ones (graceful shutdown).
	WorkerDraining WorkerState = "draining"
	// WorkerDead means the worker stopped heartbeating and its
	// in-flight runs are eligible for reassignment.
	WorkerDead WorkerState = "dead"
)

// Worker represents one engine instance in the cluster.
type Worker struct {
	ID          id.WorkerID       `json:"id"`
	Hostname    string            `json:"hostname"`
	Concurrency int               `json:"concurrency"`
	State       WorkerState       `json:"state"`
	IsLeader    bool              `json:"is_leader"`
	LeaderUntil *time.Time        `json:"leader_until,omitempty"`
	LastSeen    time.Time         `json:"last_seen"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Store defines the persistence contract for worker registration and
// leader election.
type Store interface {
	// RegisterWorker adds a worker to the cluster registry.
	RegisterWorker(ctx context.Context, w *Worker) error

	// DeregisterWorker removes a worker from the cluster registry.
	DeregisterWorker(ctx context.Context, workerID id.WorkerID) error

	// HeartbeatWorker updates the last-seen timestamp for a worker.
	HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error

	// ListWorkers returns all registered workers.
	ListWorkers(ctx context.Context) ([]*Worker, error)

	// ReapDeadWorkers returns workers whose last-seen timestamp is older
	// than the given threshold.
	ReapDeadWorkers(ctx context.Context, threshold time.Duration) ([]*Worker, error)

	// AcquireLeadership attempts to become the cluster leader. Returns
	// true if this worker now holds the lease. The lease expires after
	// ttl if not renewed.
	AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error)

	// RenewLeadership extends the leader's lease. Must be called before
	// the TTL expires.
	RenewLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error)

	// GetLeader returns the current cluster leader, or nil when no lease
	// is held.
	GetLeader(ctx context.Context) (*Worker, error)
}
