package run

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	pulse "github.com/PulseAIShared/pulse-engine"
	"github.com/PulseAIShared/pulse-engine/id"
)

// Emitter receives run lifecycle notifications. The ext registry satisfies
// this interface; it is defined here to avoid an import cycle.
type Emitter interface {
	EmitRunApproved(ctx context.Context, r *Run)
	EmitRunSnoozed(ctx context.Context, r *Run)
	EmitRunDismissed(ctx context.Context, r *Run)
	EmitRunUndismissed(ctx context.Context, r *Run)
	EmitRunEscalated(ctx context.Context, r *Run)
	EmitRunCompleted(ctx context.Context, r *Run)
	EmitRunFailed(ctx context.Context, r *Run)
}

// NopEmitter discards all lifecycle notifications.
type NopEmitter struct{}

func (NopEmitter) EmitRunApproved(context.Context, *Run)    {}
func (NopEmitter) EmitRunSnoozed(context.Context, *Run)     {}
func (NopEmitter) EmitRunDismissed(context.Context, *Run)   {}
func (NopEmitter) EmitRunUndismissed(context.Context, *Run) {}
func (NopEmitter) EmitRunEscalated(context.Context, *Run)   {}
func (NopEmitter) EmitRunCompleted(context.Context, *Run)   {}
func (NopEmitter) EmitRunFailed(context.Context, *Run)      {}

// Machine owns every run lifecycle transition. All mutations flow through
// it: operator operations load current state by ID, executor operations
// update the run they claimed. Every write is an optimistic-concurrency
// update; a loser of a concurrent race gets pulse.ErrStaleRun and must
// re-fetch.
//
// Transition operations are idempotent when re-applied in an already
// matching state: approving an approved run returns it unchanged.
type Machine struct {
	store   Store
	emitter Emitter
	logger  *slog.Logger
}

// NewMachine creates a Machine. emitter may be nil.
func NewMachine(store Store, emitter Emitter, logger *slog.Logger) *Machine {
	if emitter == nil {
		emitter = NopEmitter{}
	}
	return &Machine{store: store, emitter: emitter, logger: logger}
}

// Approve moves a pending run to approved, clearing it for execution.
func (m *Machine) Approve(ctx context.Context, runID id.RunID) (*Run, error) {
	r, err := m.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	switch r.State {
	case StateApproved:
		return r, nil
	case StatePending:
	default:
		return nil, m.invalid(r, StateApproved)
	}

	now := time.Now().UTC()
	r.State = StateApproved
	r.ApprovedAt = &now
	r.Touch()

	if err := m.store.UpdateRun(ctx, r); err != nil {
		return nil, err
	}

	m.emitter.EmitRunApproved(ctx, r)
	m.logTransition(r, "approved")
	return r, nil
}

// Snooze parks a pending run until now + hours. Re-snoozing a snoozed run
// updates the deadline. CreatedAt is untouched so age-based priority holds.
func (m *Machine) Snooze(ctx context.Context, runID id.RunID, hours int) (*Run, error) {
	if hours <= 0 {
		return nil, fmt.Errorf("run: snooze hours must be positive, got %d", hours)
	}

	r, err := m.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	switch r.State {
	case StatePending, StateSnoozed:
	default:
		return nil, m.invalid(r, StateSnoozed)
	}

	until := time.Now().UTC().Add(time.Duration(hours) * time.Hour)
	r.State = StateSnoozed
	r.SnoozeUntil = &until
	r.Touch()

	if err := m.store.UpdateRun(ctx, r); err != nil {
		return nil, err
	}

	m.emitter.EmitRunSnoozed(ctx, r)
	m.logTransition(r, "snoozed")
	return r, nil
}

// Wake returns a snoozed run to pending once its deadline has elapsed.
// Called by the snooze poller and by read paths normalizing lazily.
func (m *Machine) Wake(ctx context.Context, runID id.RunID) (*Run, error) {
	r, err := m.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if r.State != StateSnoozed {
		return r, nil
	}
	if !r.SnoozeElapsed(time.Now().UTC()) {
		return r, nil
	}

	r.State = StatePending
	r.SnoozeUntil = nil
	r.Touch()

	if err := m.store.UpdateRun(ctx, r); err != nil {
		return nil, err
	}

	m.logTransition(r, "woken")
	return r, nil
}

// Dismiss closes a pending, approved, or failed run, recording the reason
// and the prior state so undismiss can restore it exactly.
func (m *Machine) Dismiss(ctx context.Context, runID id.RunID, reason string) (*Run, error) {
	r, err := m.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	switch r.State {
	case StateDismissed:
		return r, nil
	case StatePending, StateApproved, StateFailed:
	default:
		return nil, m.invalid(r, StateDismissed)
	}

	now := time.Now().UTC()
	r.PriorState = r.State
	r.State = StateDismissed
	r.DismissalReason = reason
	r.DismissedAt = &now
	r.Touch()

	if err := m.store.UpdateRun(ctx, r); err != nil {
		return nil, err
	}

	m.emitter.EmitRunDismissed(ctx, r)
	m.logTransition(r, "dismissed")
	return r, nil
}

// Undismiss reopens a dismissed run, restoring exactly the state it held
// before dismissal (pending, approved, or failed) — never defaulting to
// pending. Undismissing a run that is not dismissed is a no-op.
func (m *Machine) Undismiss(ctx context.Context, runID id.RunID, reason string) (*Run, error) {
	r, err := m.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if r.State != StateDismissed {
		return r, nil
	}
	if r.PriorState == "" {
		return nil, fmt.Errorf("run: %s has no prior state to restore", r.ID)
	}

	r.State = r.PriorState
	r.PriorState = ""
	r.DismissalReason = ""
	r.DismissedAt = nil
	r.Touch()
	_ = reason // recorded by the audit layer, not on the run itself

	if err := m.store.UpdateRun(ctx, r); err != nil {
		return nil, err
	}

	m.emitter.EmitRunUndismissed(ctx, r)
	m.logTransition(r, "undismissed")
	return r, nil
}

// Escalate overlays escalation on a failed run. Retry and dismiss stay
// available; only the work queue presentation changes.
func (m *Machine) Escalate(ctx context.Context, runID id.RunID, reason string) (*Run, error) {
	r, err := m.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if r.State != StateFailed {
		return nil, m.invalid(r, StateFailed)
	}
	if r.IsEscalated() {
		return r, nil
	}

	now := time.Now().UTC()
	r.EscalatedAt = &now
	r.EscalationReason = reason
	r.Touch()

	if err := m.store.UpdateRun(ctx, r); err != nil {
		return nil, err
	}

	m.emitter.EmitRunEscalated(ctx, r)
	m.logTransition(r, "escalated")
	return r, nil
}

// BeginRetry moves a failed run back to executing. When fromStart is true
// the executed-action record is cleared and execution restarts at action
// zero; otherwise it resumes at the failed action. External side effects
// of already-executed actions are not undone — connectors are idempotent
// under re-invocation.
func (m *Machine) BeginRetry(ctx context.Context, runID id.RunID, fromStart bool) (*Run, error) {
	r, err := m.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if r.State != StateFailed {
		return nil, m.invalid(r, StateExecuting)
	}

	now := time.Now().UTC()
	r.State = StateExecuting
	r.FailedActionID = id.Nil
	r.ErrorDetails = ""
	r.StartedAt = &now
	if fromStart {
		r.ExecutedActionIDs = nil
	}
	r.Touch()

	if err := m.store.UpdateRun(ctx, r); err != nil {
		return nil, err
	}

	m.logTransition(r, "retrying")
	return r, nil
}

// RecordActionExecuted appends a succeeded action to the run's executed
// sequence. Called by the executor between actions while the run is
// executing.
func (m *Machine) RecordActionExecuted(ctx context.Context, r *Run, actionID id.ActionID) error {
	if r.State != StateExecuting {
		return m.invalid(r, StateExecuting)
	}
	if r.HasExecuted(actionID) {
		return nil
	}

	r.ExecutedActionIDs = append(r.ExecutedActionIDs, actionID)
	r.Touch()
	return m.store.UpdateRun(ctx, r)
}

// Complete finishes an executing run whose actions all succeeded.
func (m *Machine) Complete(ctx context.Context, r *Run) error {
	if r.State == StateCompleted {
		return nil
	}
	if r.State != StateExecuting {
		return m.invalid(r, StateCompleted)
	}

	now := time.Now().UTC()
	r.State = StateCompleted
	r.CompletedAt = &now
	r.WorkerID = id.Nil
	r.Touch()

	if err := m.store.UpdateRun(ctx, r); err != nil {
		return err
	}

	m.emitter.EmitRunCompleted(ctx, r)
	m.logTransition(r, "completed")
	return nil
}

// Fail stops an executing run at the given action, recording the error.
// Actions before it stay marked executed; actions after it stay unexecuted.
func (m *Machine) Fail(ctx context.Context, r *Run, actionID id.ActionID, errDetails string) error {
	if r.State != StateExecuting {
		return m.invalid(r, StateFailed)
	}

	r.State = StateFailed
	r.FailedActionID = actionID
	r.ErrorDetails = errDetails
	r.WorkerID = id.Nil
	r.Touch()

	if err := m.store.UpdateRun(ctx, r); err != nil {
		return err
	}

	m.emitter.EmitRunFailed(ctx, r)
	m.logTransition(r, "failed")
	return nil
}

func (m *Machine) invalid(r *Run, to State) error {
	return fmt.Errorf("%w: %s cannot move from %s to %s",
		pulse.ErrInvalidTransition, r.ID, r.State, to)
}

func (m *Machine) logTransition(r *Run, event string) {
	m.logger.Info("run "+event,
		slog.String("run_id", r.ID.String()),
		slog.String("playbook_id", r.PlaybookID.String()),
		slog.String("state", string(r.State)),
	)
}
