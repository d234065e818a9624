// Package ext defines the extension system for the engine. Extensions are
// notified of lifecycle events (signal received, run approved, action
// failed, etc.) and can react to them for auditing, metrics, or live
// console updates.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/PulseAIShared/pulse-engine/playbook"
	"github.com/PulseAIShared/pulse-engine/run"
	"github.com/PulseAIShared/pulse-engine/signal"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Signal lifecycle hooks
// ──────────────────────────────────────────────────

// SignalReceived is called after a raw signal is normalized and persisted.
type SignalReceived interface {
	OnSignalReceived(ctx context.Context, sig *signal.Signal) error
}

// SignalMatched is called once per playbook the signal qualified for,
// before admission control runs.
type SignalMatched interface {
	OnSignalMatched(ctx context.Context, sig *signal.Signal, p *playbook.Playbook) error
}

// ──────────────────────────────────────────────────
// Admission hooks
// ──────────────────────────────────────────────────

// RunCreated is called after admission control creates a run.
type RunCreated interface {
	OnRunCreated(ctx context.Context, r *run.Run) error
}

// AdmissionRejected is called when cooldown or concurrency limits decline
// a matched signal. reason is the rejection reason string.
type AdmissionRejected interface {
	OnAdmissionRejected(ctx context.Context, p *playbook.Playbook, sig *signal.Signal, reason string) error
}

// ──────────────────────────────────────────────────
// Run lifecycle hooks
// ──────────────────────────────────────────────────

// RunApproved is called when a pending run is approved for execution.
type RunApproved interface {
	OnRunApproved(ctx context.Context, r *run.Run) error
}

// RunSnoozed is called when a run is snoozed.
type RunSnoozed interface {
	OnRunSnoozed(ctx context.Context, r *run.Run) error
}

// RunDismissed is called when a run is dismissed.
type RunDismissed interface {
	OnRunDismissed(ctx context.Context, r *run.Run) error
}

// RunUndismissed is called when a dismissed run is restored.
type RunUndismissed interface {
	OnRunUndismissed(ctx context.Context, r *run.Run) error
}

// RunEscalated is called when a failed run is escalated for human review.
type RunEscalated interface {
	OnRunEscalated(ctx context.Context, r *run.Run) error
}

// RunCompleted is called after every action of a run finished successfully.
type RunCompleted interface {
	OnRunCompleted(ctx context.Context, r *run.Run) error
}

// RunFailed is called when an action failure halts a run.
type RunFailed interface {
	OnRunFailed(ctx context.Context, r *run.Run) error
}

// ──────────────────────────────────────────────────
// Action lifecycle hooks
// ──────────────────────────────────────────────────

// ActionStarted is called before a connector dispatches an action.
type ActionStarted interface {
	OnActionStarted(ctx context.Context, r *run.Run, a *playbook.Action) error
}

// ActionCompleted is called after a connector dispatched an action
// successfully.
type ActionCompleted interface {
	OnActionCompleted(ctx context.Context, r *run.Run, a *playbook.Action, elapsed time.Duration) error
}

// ActionFailed is called when a connector dispatch fails. The run halts
// at this action.
type ActionFailed interface {
	OnActionFailed(ctx context.Context, r *run.Run, a *playbook.Action, err error) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// ScheduleFired is called when a scheduled playbook's cron expression
// fires and the playbook is evaluated.
type ScheduleFired interface {
	OnScheduleFired(ctx context.Context, p *playbook.Playbook, at time.Time) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
