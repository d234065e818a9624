package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/PulseAIShared/pulse-engine/ext"
	"github.com/PulseAIShared/pulse-engine/id"
	"github.com/PulseAIShared/pulse-engine/playbook"
	"github.com/PulseAIShared/pulse-engine/run"
	"github.com/PulseAIShared/pulse-engine/signal"
)

// Compile-time interface checks.
var (
	_ ext.Extension         = (*Recorder)(nil)
	_ ext.SignalReceived    = (*Recorder)(nil)
	_ ext.SignalMatched     = (*Recorder)(nil)
	_ ext.RunCreated        = (*Recorder)(nil)
	_ ext.AdmissionRejected = (*Recorder)(nil)
	_ ext.RunApproved       = (*Recorder)(nil)
	_ ext.RunSnoozed        = (*Recorder)(nil)
	_ ext.RunDismissed      = (*Recorder)(nil)
	_ ext.RunUndismissed    = (*Recorder)(nil)
	_ ext.RunEscalated      = (*Recorder)(nil)
	_ ext.RunCompleted      = (*Recorder)(nil)
	_ ext.RunFailed         = (*Recorder)(nil)
	_ ext.ActionStarted     = (*Recorder)(nil)
	_ ext.ActionCompleted   = (*Recorder)(nil)
	_ ext.ActionFailed      = (*Recorder)(nil)
	_ ext.ScheduleFired     = (*Recorder)(nil)
)

// Recorder is an extension that writes every lifecycle event to the
// audit trail. The actor is taken from the context so user-initiated
// transitions carry the console user and engine-initiated ones record
// SystemActor.
type Recorder struct {
	store   Store
	enabled map[string]bool // nil = all enabled
	logger  *slog.Logger
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithActions restricts the recorder to the listed actions. By default
// all actions are recorded. Unknown actions are silently ignored.
func WithActions(actions ...string) Option {
	return func(r *Recorder) {
		r.enabled = make(map[string]bool, len(actions))
		for _, a := range actions {
			r.enabled[a] = true
		}
	}
}

// WithLogger sets a custom logger for the recorder.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// NewRecorder creates a Recorder that appends events to the given store.
func NewRecorder(store Store, opts ...Option) *Recorder {
	r := &Recorder{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name implements ext.Extension.
func (r *Recorder) Name() string { return "audit-recorder" }

// ── Signal hooks ────────────────────────────────────

// OnSignalReceived implements ext.SignalReceived.
func (r *Recorder) OnSignalReceived(ctx context.Context, sig *signal.Signal) error {
	evt := r.event(ctx, ActionSignalReceived, SeverityInfo, OutcomeSuccess, ResourceSignal, nil,
		"signal_type", sig.Type,
	)
	evt.SignalID = sig.ID
	evt.CustomerID = sig.CustomerID
	return r.append(ctx, evt)
}

// OnSignalMatched implements ext.SignalMatched.
func (r *Recorder) OnSignalMatched(ctx context.Context, sig *signal.Signal, p *playbook.Playbook) error {
	evt := r.event(ctx, ActionSignalMatched, SeverityInfo, OutcomeSuccess, ResourceSignal, nil,
		"signal_type", sig.Type,
		"playbook_name", p.Name,
	)
	evt.SignalID = sig.ID
	evt.CustomerID = sig.CustomerID
	evt.PlaybookID = p.ID
	return r.append(ctx, evt)
}

// ── Admission hooks ─────────────────────────────────

// OnRunCreated implements ext.RunCreated.
func (r *Recorder) OnRunCreated(ctx context.Context, rn *run.Run) error {
	evt := r.event(ctx, ActionRunCreated, SeverityInfo, OutcomeSuccess, ResourceRun, nil,
		"state", string(rn.State),
	)
	r.link(evt, rn)
	return r.append(ctx, evt)
}

// OnAdmissionRejected implements ext.AdmissionRejected.
func (r *Recorder) OnAdmissionRejected(ctx context.Context, p *playbook.Playbook, sig *signal.Signal, reason string) error {
	evt := r.event(ctx, ActionAdmissionRejected, SeverityInfo, OutcomeFailure, ResourceRun, nil,
		"playbook_name", p.Name,
	)
	evt.PlaybookID = p.ID
	evt.SignalID = sig.ID
	evt.CustomerID = sig.CustomerID
	evt.Reason = reason
	return r.append(ctx, evt)
}

// ── Run hooks ───────────────────────────────────────

// OnRunApproved implements ext.RunApproved.
func (r *Recorder) OnRunApproved(ctx context.Context, rn *run.Run) error {
	evt := r.event(ctx, ActionRunApproved, SeverityInfo, OutcomeSuccess, ResourceRun, nil)
	r.link(evt, rn)
	return r.append(ctx, evt)
}

// OnRunSnoozed implements ext.RunSnoozed.
func (r *Recorder) OnRunSnoozed(ctx context.Context, rn *run.Run) error {
	evt := r.event(ctx, ActionRunSnoozed, SeverityInfo, OutcomeSuccess, ResourceRun, nil)
	if rn.SnoozeUntil != nil {
		evt.Metadata["snooze_until"] = rn.SnoozeUntil.Format(time.RFC3339)
	}
	r.link(evt, rn)
	return r.append(ctx, evt)
}

// OnRunDismissed implements ext.RunDismissed.
func (r *Recorder) OnRunDismissed(ctx context.Context, rn *run.Run) error {
	evt := r.event(ctx, ActionRunDismissed, SeverityInfo, OutcomeSuccess, ResourceRun, nil)
	evt.Reason = rn.DismissalReason
	r.link(evt, rn)
	return r.append(ctx, evt)
}

// OnRunUndismissed implements ext.RunUndismissed.
func (r *Recorder) OnRunUndismissed(ctx context.Context, rn *run.Run) error {
	evt := r.event(ctx, ActionRunUndismissed, SeverityInfo, OutcomeSuccess, ResourceRun, nil,
		"restored_state", string(rn.State),
	)
	r.link(evt, rn)
	return r.append(ctx, evt)
}

// OnRunEscalated implements ext.RunEscalated.
func (r *Recorder) OnRunEscalated(ctx context.Context, rn *run.Run) error {
	evt := r.event(ctx, ActionRunEscalated, SeverityCritical, OutcomeFailure, ResourceRun, nil)
	evt.Reason = rn.EscalationReason
	r.link(evt, rn)
	return r.append(ctx, evt)
}

// OnRunCompleted implements ext.RunCompleted.
func (r *Recorder) OnRunCompleted(ctx context.Context, rn *run.Run) error {
	evt := r.event(ctx, ActionRunCompleted, SeverityInfo, OutcomeSuccess, ResourceRun, nil,
		"actions_executed", len(rn.ExecutedActionIDs),
	)
	r.link(evt, rn)
	return r.append(ctx, evt)
}

// OnRunFailed implements ext.RunFailed.
func (r *Recorder) OnRunFailed(ctx context.Context, rn *run.Run) error {
	evt := r.event(ctx, ActionRunFailed, SeverityWarning, OutcomeFailure, ResourceRun, nil,
		"failed_action_id", rn.FailedActionID.String(),
	)
	evt.Reason = rn.ErrorDetails
	r.link(evt, rn)
	return r.append(ctx, evt)
}

// ── Action hooks ────────────────────────────────────

// OnActionStarted implements ext.ActionStarted.
func (r *Recorder) OnActionStarted(ctx context.Context, rn *run.Run, a *playbook.Action) error {
	evt := r.event(ctx, ActionActionStarted, SeverityInfo, OutcomeSuccess, ResourceAction, nil,
		"action_id", a.ID.String(),
		"action_type", string(a.Type),
		"order_index", a.OrderIndex,
	)
	r.link(evt, rn)
	return r.append(ctx, evt)
}

// OnActionCompleted implements ext.ActionCompleted.
func (r *Recorder) OnActionCompleted(ctx context.Context, rn *run.Run, a *playbook.Action, elapsed time.Duration) error {
	evt := r.event(ctx, ActionActionCompleted, SeverityInfo, OutcomeSuccess, ResourceAction, nil,
		"action_id", a.ID.String(),
		"action_type", string(a.Type),
		"elapsed_ms", elapsed.Milliseconds(),
	)
	r.link(evt, rn)
	return r.append(ctx, evt)
}

// OnActionFailed implements ext.ActionFailed.
func (r *Recorder) OnActionFailed(ctx context.Context, rn *run.Run, a *playbook.Action, actionErr error) error {
	evt := r.event(ctx, ActionActionFailed, SeverityWarning, OutcomeFailure, ResourceAction, actionErr,
		"action_id", a.ID.String(),
		"action_type", string(a.Type),
	)
	r.link(evt, rn)
	return r.append(ctx, evt)
}

// ── Other hooks ─────────────────────────────────────

// OnScheduleFired implements ext.ScheduleFired.
func (r *Recorder) OnScheduleFired(ctx context.Context, p *playbook.Playbook, at time.Time) error {
	evt := r.event(ctx, ActionScheduleFired, SeverityInfo, OutcomeSuccess, ResourcePlaybook, nil,
		"playbook_name", p.Name,
		"fired_at", at.Format(time.RFC3339),
	)
	evt.PlaybookID = p.ID
	return r.append(ctx, evt)
}

// ── Internal helpers ────────────────────────────────

// event builds an audit event. The kvPairs argument is a list of
// key-value pairs added to Metadata.
func (r *Recorder) event(
	ctx context.Context,
	action, severity, outcome, resource string,
	err error,
	kvPairs ...any,
) *Event {
	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	evt := &Event{
		ID:        id.NewAuditID(),
		Action:    action,
		Resource:  resource,
		Severity:  severity,
		Outcome:   outcome,
		Actor:     ActorFrom(ctx),
		Metadata:  meta,
		CreatedAt: time.Now().UTC(),
	}
	if err != nil {
		evt.Reason = err.Error()
		meta["error"] = err.Error()
	}
	return evt
}

// link copies the run's identifiers onto the event.
func (r *Recorder) link(evt *Event, rn *run.Run) {
	evt.RunID = rn.ID
	evt.PlaybookID = rn.PlaybookID
	evt.CustomerID = rn.CustomerID
	evt.SignalID = rn.SignalID
}

// append persists the event if its action is enabled. Store failures
// are logged, never propagated.
func (r *Recorder) append(ctx context.Context, evt *Event) error {
	if r.enabled != nil && !r.enabled[evt.Action] {
		return nil
	}
	if err := r.store.AppendAudit(ctx, evt); err != nil {
		r.logger.Warn("audit: failed to append event",
			"action", evt.Action,
			"run_id", evt.RunID.String(),
			"error", err,
		)
	}
	return nil
}
