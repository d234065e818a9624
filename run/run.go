// Package run defines the playbook run — one tracked instance of a playbook
// being evaluated and executed for one customer — and the state machine
// that owns every lifecycle transition.
package run

import (
	"time"

	pulse "github.com/PulseAIShared/pulse-engine"
	"github.com/PulseAIShared/pulse-engine/id"
)

// State is the lifecycle state of a run. Escalation is not a state: an
// escalated run is a Failed run with EscalatedAt set, so the prior-state
// history needed by undismiss is never lost.
type State string

const (
	// StatePending means the run awaits approval (or pickup, for
	// automatic playbooks that have not yet been claimed).
	StatePending State = "pending"
	// StateApproved means the run is cleared for execution and waiting
	// to be claimed by a worker.
	StateApproved State = "approved"
	// StateExecuting means a worker is executing the run's actions.
	StateExecuting State = "executing"
	// StateCompleted means every action succeeded. Terminal.
	StateCompleted State = "completed"
	// StateFailed means an action failed; the run waits for operator
	// triage (retry, escalate, dismiss).
	StateFailed State = "failed"
	// StateSnoozed means the run is parked until SnoozeUntil.
	StateSnoozed State = "snoozed"
	// StateDismissed means an operator closed the run. Terminal unless
	// undismissed.
	StateDismissed State = "dismissed"
)

// ActiveStates are the states that consume a playbook's concurrency
// budget: runs an operator or worker still has in flight. Snoozed and
// Failed runs hold no slot; admission is the only gate.
var ActiveStates = []State{StatePending, StateApproved, StateExecuting}

// IsTerminal reports whether the state is a resting state for the run.
// Dismissed runs can still be reopened through undismiss.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateDismissed
}

// Run is one instance of a playbook being executed for one customer.
// Monetary values are in minor units (cents) of Currency.
type Run struct {
	pulse.Entity

	ID         id.RunID      `json:"id"`
	PlaybookID id.PlaybookID `json:"playbook_id"`
	CustomerID id.CustomerID `json:"customer_id"`
	SignalID   id.SignalID   `json:"signal_id,omitempty"`

	State State `json:"state"`

	// PriorState is the state held immediately before dismissal, so
	// undismiss can restore it exactly. Empty unless State is dismissed.
	PriorState State `json:"prior_state,omitempty"`

	// ExecutedActionIDs records succeeded actions in execution order.
	// It is always a prefix of the playbook's action ordering, except
	// while resuming a single failed action mid-sequence.
	ExecutedActionIDs []id.ActionID `json:"executed_action_ids,omitempty"`

	// FailedActionID is the action that stopped execution. Nil unless
	// the run has failed.
	FailedActionID id.ActionID `json:"failed_action_id,omitempty"`
	ErrorDetails   string      `json:"error_details,omitempty"`

	DismissalReason  string `json:"dismissal_reason,omitempty"`
	EscalationReason string `json:"escalation_reason,omitempty"`

	// EscalatedAt marks the run as escalated. It overlays Failed rather
	// than replacing it; retry and dismiss stay available.
	EscalatedAt *time.Time `json:"escalated_at,omitempty"`

	// SnoozeUntil is when a snoozed run returns to pending. CreatedAt is
	// deliberately untouched by snoozing so age-based priority holds.
	SnoozeUntil *time.Time `json:"snooze_until,omitempty"`

	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DismissedAt *time.Time `json:"dismissed_at,omitempty"`

	// PotentialValue is the revenue at stake, copied from the customer
	// context at admission time.
	PotentialValue int64  `json:"potential_value,omitempty"`
	Currency       string `json:"currency,omitempty"`

	// WorkerID is the worker currently executing the run.
	WorkerID    id.WorkerID `json:"worker_id,omitempty"`
	HeartbeatAt *time.Time  `json:"heartbeat_at,omitempty"`

	// Version guards against concurrent mutation: updates carry the
	// version they loaded and lose with ErrStaleRun when it moved.
	Version int64 `json:"version"`
}

// IsEscalated reports whether the run carries the escalation overlay.
func (r *Run) IsEscalated() bool {
	return r.EscalatedAt != nil
}

// HasExecuted reports whether the given action already succeeded in this run.
func (r *Run) HasExecuted(actionID id.ActionID) bool {
	for _, got := range r.ExecutedActionIDs {
		if got.String() == actionID.String() {
			return true
		}
	}
	return false
}

// SnoozeElapsed reports whether the run is snoozed with an expired
// snooze deadline at the given instant.
func (r *Run) SnoozeElapsed(now time.Time) bool {
	return r.State == StateSnoozed && r.SnoozeUntil != nil && !r.SnoozeUntil.After(now)
}

// Age returns how long the run has existed at the given instant.
// Snoozing does not reset it.
func (r *Run) Age(now time.Time) time.Duration {
	return now.Sub(r.CreatedAt)
}

// Clone returns a deep copy of the run.
func (r *Run) Clone() *Run {
	cp := *r
	if r.ExecutedActionIDs != nil {
		cp.ExecutedActionIDs = make([]id.ActionID, len(r.ExecutedActionIDs))
		copy(cp.ExecutedActionIDs, r.ExecutedActionIDs)
	}
	cp.EscalatedAt = copyTime(r.EscalatedAt)
	cp.SnoozeUntil = copyTime(r.SnoozeUntil)
	cp.ApprovedAt = copyTime(r.ApprovedAt)
	cp.StartedAt = copyTime(r.StartedAt)
	cp.CompletedAt = copyTime(r.CompletedAt)
	cp.DismissedAt = copyTime(r.DismissedAt)
	cp.HeartbeatAt = copyTime(r.HeartbeatAt)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
