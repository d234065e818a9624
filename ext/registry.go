package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/PulseAIShared/pulse-engine/playbook"
	"github.com/PulseAIShared/pulse-engine/run"
	"github.com/PulseAIShared/pulse-engine/signal"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type signalReceivedEntry struct {
	name string
	hook SignalReceived
}

type signalMatchedEntry struct {
	name string
	hook SignalMatched
}

type runCreatedEntry struct {
	name string
	hook RunCreated
}

type admissionRejectedEntry struct {
	name string
	hook AdmissionRejected
}

type runApprovedEntry struct {
	name string
	hook RunApproved
}

type runSnoozedEntry struct {
	name string
	hook RunSnoozed
}

type runDismissedEntry struct {
	name string
	hook RunDismissed
}

type runUndismissedEntry struct {
	name string
	hook RunUndismissed
}

type runEscalatedEntry struct {
	name string
	hook RunEscalated
}

type runCompletedEntry struct {
	name string
	hook RunCompleted
}

type runFailedEntry struct {
	name string
	hook RunFailed
}

type actionStartedEntry struct {
	name string
	hook ActionStarted
}

type actionCompletedEntry struct {
	name string
	hook ActionCompleted
}

type actionFailedEntry struct {
	name string
	hook ActionFailed
}

type scheduleFiredEntry struct {
	name string
	hook ScheduleFired
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
//
// Registry satisfies the emitter interfaces of the run machine and the
// admitter, so it can be injected wherever lifecycle events originate.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	signalReceived    []signalReceivedEntry
	signalMatched     []signalMatchedEntry
	runCreated        []runCreatedEntry
	admissionRejected []admissionRejectedEntry
	runApproved       []runApprovedEntry
	runSnoozed        []runSnoozedEntry
	runDismissed      []runDismissedEntry
	runUndismissed    []runUndismissedEntry
	runEscalated      []runEscalatedEntry
	runCompleted      []runCompletedEntry
	runFailed         []runFailedEntry
	actionStarted     []actionStartedEntry
	actionCompleted   []actionCompletedEntry
	actionFailed      []actionFailedEntry
	scheduleFired     []scheduleFiredEntry
	shutdown          []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(SignalReceived); ok {
		r.signalReceived = append(r.signalReceived, signalReceivedEntry{name, h})
	}
	if h, ok := e.(SignalMatched); ok {
		r.signalMatched = append(r.signalMatched, signalMatchedEntry{name, h})
	}
	if h, ok := e.(RunCreated); ok {
		r.runCreated = append(r.runCreated, runCreatedEntry{name, h})
	}
	if h, ok := e.(AdmissionRejected); ok {
		r.admissionRejected = append(r.admissionRejected, admissionRejectedEntry{name, h})
	}
	if h, ok := e.(RunApproved); ok {
		r.runApproved = append(r.runApproved, runApprovedEntry{name, h})
	}
	if h, ok := e.(RunSnoozed); ok {
		r.runSnoozed = append(r.runSnoozed, runSnoozedEntry{name, h})
	}
	if h, ok := e.(RunDismissed); ok {
		r.runDismissed = append(r.runDismissed, runDismissedEntry{name, h})
	}
	if h, ok := e.(RunUndismissed); ok {
		r.runUndismissed = append(r.runUndismissed, runUndismissedEntry{name, h})
	}
	if h, ok := e.(RunEscalated); ok {
		r.runEscalated = append(r.runEscalated, runEscalatedEntry{name, h})
	}
	if h, ok := e.(RunCompleted); ok {
		r.runCompleted = append(r.runCompleted, runCompletedEntry{name, h})
	}
	if h, ok := e.(RunFailed); ok {
		r.runFailed = append(r.runFailed, runFailedEntry{name, h})
	}
	if h, ok := e.(ActionStarted); ok {
		r.actionStarted = append(r.actionStarted, actionStartedEntry{name, h})
	}
	if h, ok := e.(ActionCompleted); ok {
		r.actionCompleted = append(r.actionCompleted, actionCompletedEntry{name, h})
	}
	if h, ok := e.(ActionFailed); ok {
		r.actionFailed = append(r.actionFailed, actionFailedEntry{name, h})
	}
	if h, ok := e.(ScheduleFired); ok {
		r.scheduleFired = append(r.scheduleFired, scheduleFiredEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Signal event emitters
// ──────────────────────────────────────────────────

// EmitSignalReceived notifies all extensions that implement SignalReceived.
func (r *Registry) EmitSignalReceived(ctx context.Context, sig *signal.Signal) {
	for _, e := range r.signalReceived {
		if err := e.hook.OnSignalReceived(ctx, sig); err != nil {
			r.logHookError("OnSignalReceived", e.name, err)
		}
	}
}

// EmitSignalMatched notifies all extensions that implement SignalMatched.
func (r *Registry) EmitSignalMatched(ctx context.Context, sig *signal.Signal, p *playbook.Playbook) {
	for _, e := range r.signalMatched {
		if err := e.hook.OnSignalMatched(ctx, sig, p); err != nil {
			r.logHookError("OnSignalMatched", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Admission event emitters
// ──────────────────────────────────────────────────

// EmitRunCreated notifies all extensions that implement RunCreated.
func (r *Registry) EmitRunCreated(ctx context.Context, rn *run.Run) {
	for _, e := range r.runCreated {
		if err := e.hook.OnRunCreated(ctx, rn); err != nil {
			r.logHookError("OnRunCreated", e.name, err)
		}
	}
}

// EmitAdmissionRejected notifies all extensions that implement
// AdmissionRejected.
func (r *Registry) EmitAdmissionRejected(ctx context.Context, p *playbook.Playbook, sig *signal.Signal, reason string) {
	for _, e := range r.admissionRejected {
		if err := e.hook.OnAdmissionRejected(ctx, p, sig, reason); err != nil {
			r.logHookError("OnAdmissionRejected", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Run event emitters
// ──────────────────────────────────────────────────

// EmitRunApproved notifies all extensions that implement RunApproved.
func (r *Registry) EmitRunApproved(ctx context.Context, rn *run.Run) {
	for _, e := range r.runApproved {
		if err := e.hook.OnRunApproved(ctx, rn); err != nil {
			r.logHookError("OnRunApproved", e.name, err)
		}
	}
}

// EmitRunSnoozed notifies all extensions that implement RunSnoozed.
func (r *Registry) EmitRunSnoozed(ctx context.Context, rn *run.Run) {
	for _, e := range r.runSnoozed {
		if err := e.hook.OnRunSnoozed(ctx, rn); err != nil {
			r.logHookError("OnRunSnoozed", e.name, err)
		}
	}
}

// EmitRunDismissed notifies all extensions that implement RunDismissed.
func (r *Registry) EmitRunDismissed(ctx context.Context, rn *run.Run) {
	for _, e := range r.runDismissed {
		if err := e.hook.OnRunDismissed(ctx, rn); err != nil {
			r.logHookError("OnRunDismissed", e.name, err)
		}
	}
}

// EmitRunUndismissed notifies all extensions that implement RunUndismissed.
func (r *Registry) EmitRunUndismissed(ctx context.Context, rn *run.Run) {
	for _, e := range r.runUndismissed {
		if err := e.hook.OnRunUndismissed(ctx, rn); err != nil {
			r.logHookError("OnRunUndismissed", e.name, err)
		}
	}
}

// EmitRunEscalated notifies all extensions that implement RunEscalated.
func (r *Registry) EmitRunEscalated(ctx context.Context, rn *run.Run) {
	for _, e := range r.runEscalated {
		if err := e.hook.OnRunEscalated(ctx, rn); err != nil {
			r.logHookError("OnRunEscalated", e.name, err)
		}
	}
}

// EmitRunCompleted notifies all extensions that implement RunCompleted.
func (r *Registry) EmitRunCompleted(ctx context.Context, rn *run.Run) {
	for _, e := range r.runCompleted {
		if err := e.hook.OnRunCompleted(ctx, rn); err != nil {
			r.logHookError("OnRunCompleted", e.name, err)
		}
	}
}

// EmitRunFailed notifies all extensions that implement RunFailed.
func (r *Registry) EmitRunFailed(ctx context.Context, rn *run.Run) {
	for _, e := range r.runFailed {
		if err := e.hook.OnRunFailed(ctx, rn); err != nil {
			r.logHookError("OnRunFailed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Action event emitters
// ──────────────────────────────────────────────────

// EmitActionStarted notifies all extensions that implement ActionStarted.
func (r *Registry) EmitActionStarted(ctx context.Context, rn *run.Run, a *playbook.Action) {
	for _, e := range r.actionStarted {
		if err := e.hook.OnActionStarted(ctx, rn, a); err != nil {
			r.logHookError("OnActionStarted", e.name, err)
		}
	}
}

// EmitActionCompleted notifies all extensions that implement ActionCompleted.
func (r *Registry) EmitActionCompleted(ctx context.Context, rn *run.Run, a *playbook.Action, elapsed time.Duration) {
	for _, e := range r.actionCompleted {
		if err := e.hook.OnActionCompleted(ctx, rn, a, elapsed); err != nil {
			r.logHookError("OnActionCompleted", e.name, err)
		}
	}
}

// EmitActionFailed notifies all extensions that implement ActionFailed.
func (r *Registry) EmitActionFailed(ctx context.Context, rn *run.Run, a *playbook.Action, actionErr error) {
	for _, e := range r.actionFailed {
		if err := e.hook.OnActionFailed(ctx, rn, a, actionErr); err != nil {
			r.logHookError("OnActionFailed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitScheduleFired notifies all extensions that implement ScheduleFired.
func (r *Registry) EmitScheduleFired(ctx context.Context, p *playbook.Playbook, at time.Time) {
	for _, e := range r.scheduleFired {
		if err := e.hook.OnScheduleFired(ctx, p, at); err != nil {
			r.logHookError("OnScheduleFired", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block the pipeline.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
