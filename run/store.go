package run

import (
	"context"
	"time"

	"github.com/PulseAIShared/pulse-engine/id"
)

// ListOpts controls pagination and filtering for run list queries.
type ListOpts struct {
	// Limit is the maximum number of runs to return. Zero means no limit.
	Limit int
	// Offset is the number of runs to skip.
	Offset int
	// States filters by run state. Empty means all states.
	States []State
	// PlaybookID filters by playbook. Nil means all playbooks.
	PlaybookID id.PlaybookID
	// CustomerID filters by customer. Nil means all customers.
	CustomerID id.CustomerID
	// Escalated filters on the escalation overlay when non-nil.
	Escalated *bool
}

// Store defines the persistence contract for runs.
type Store interface {
	// CreateRun persists a new run.
	CreateRun(ctx context.Context, r *Run) error

	// GetRun retrieves a run by ID.
	GetRun(ctx context.Context, runID id.RunID) (*Run, error)

	// UpdateRun persists changes to an existing run. The update carries
	// the version the caller loaded; if the stored version differs the
	// store returns pulse.ErrStaleRun and persists nothing
	// (first-writer-wins). On success the run's version is incremented.
	UpdateRun(ctx context.Context, r *Run) error

	// ListRuns returns runs matching the given options, newest first.
	ListRuns(ctx context.Context, opts ListOpts) ([]*Run, error)

	// CountActiveRuns returns the number of runs for the playbook whose
	// state consumes a concurrency slot (pending, approved, executing).
	CountActiveRuns(ctx context.Context, playbookID id.PlaybookID) (int64, error)

	// LatestRunFor returns the most recently created run for the
	// (playbook, customer) pair regardless of its state, or nil when the
	// pair has never run. Cooldown anchors on its creation time.
	LatestRunFor(ctx context.Context, playbookID id.PlaybookID, customerID id.CustomerID) (*Run, error)

	// ClaimApprovedRuns atomically claims up to limit approved runs,
	// marks them executing under the worker's ID, and returns them.
	// Oldest approvals are claimed first.
	ClaimApprovedRuns(ctx context.Context, workerID id.WorkerID, limit int) ([]*Run, error)

	// HeartbeatRun updates the heartbeat timestamp for an executing run,
	// indicating the worker is still alive.
	HeartbeatRun(ctx context.Context, runID id.RunID, workerID id.WorkerID) error

	// ReapStaleRuns returns executing runs whose last heartbeat is older
	// than the threshold, indicating the worker may have crashed.
	ReapStaleRuns(ctx context.Context, threshold time.Duration) ([]*Run, error)

	// ListSnoozedDue returns snoozed runs whose snooze deadline has
	// elapsed at the given instant.
	ListSnoozedDue(ctx context.Context, now time.Time) ([]*Run, error)
}
