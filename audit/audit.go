// Package audit records an append-only trail of engine activity: every
// run transition, action outcome, and admission decision becomes one
// immutable event with actor attribution. The console renders this trail
// on the customer timeline.
package audit

import (
	"time"

	"github.com/PulseAIShared/pulse-engine/id"
)

// Audit event actions. Each constant corresponds to one lifecycle hook
// and becomes the Action field of the recorded event.
const (
	ActionSignalReceived    = "signal.received"
	ActionSignalMatched     = "signal.matched"
	ActionRunCreated        = "run.created"
	ActionAdmissionRejected = "run.admission_rejected"
	ActionRunApproved       = "run.approved"
	ActionRunSnoozed        = "run.snoozed"
	ActionRunDismissed      = "run.dismissed"
	ActionRunUndismissed    = "run.undismissed"
	ActionRunEscalated      = "run.escalated"
	ActionRunCompleted      = "run.completed"
	ActionRunFailed         = "run.failed"
	ActionActionStarted     = "action.started"
	ActionActionCompleted   = "action.completed"
	ActionActionFailed      = "action.failed"
	ActionScheduleFired     = "schedule.fired"
)

// Resource types used as the Resource field.
const (
	ResourceSignal   = "signal"
	ResourceRun      = "run"
	ResourceAction   = "action"
	ResourcePlaybook = "playbook"
)

// Severity levels. Normal operations are info, halted runs are warning,
// escalations are critical.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// SystemActor attributes events that no console user initiated.
const SystemActor = "system"

// Event is one immutable entry in the audit trail. Events are never
// updated or deleted after being appended.
type Event struct {
	ID id.AuditID `json:"id"`

	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Severity string `json:"severity"`
	Outcome  string `json:"outcome"`

	// Who and what it happened to
	Actor      string        `json:"actor"`
	RunID      id.RunID      `json:"run_id"`
	PlaybookID id.PlaybookID `json:"playbook_id"`
	SignalID   id.SignalID   `json:"signal_id"`
	CustomerID id.CustomerID `json:"customer_id"`

	// Details
	Reason   string         `json:"reason,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
