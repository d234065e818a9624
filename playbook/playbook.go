// Package playbook defines the playbook model — a configured rule mapping a
// signal pattern to an ordered sequence of actions — together with its
// validation rules, persistence contract, and operator-facing service.
package playbook

import (
	"time"

	pulse "github.com/PulseAIShared/pulse-engine"
	"github.com/PulseAIShared/pulse-engine/id"
	"github.com/PulseAIShared/pulse-engine/signal"
)

// Status is the operator-controlled lifecycle state of a playbook.
type Status string

const (
	// StatusDraft means the playbook is being edited and never matches.
	StatusDraft Status = "draft"
	// StatusActive means the playbook participates in matching.
	StatusActive Status = "active"
	// StatusPaused means the playbook is temporarily excluded from matching.
	StatusPaused Status = "paused"
	// StatusArchived means the playbook is retired. Archival is terminal.
	StatusArchived Status = "archived"
)

// TriggerType says what causes a playbook to be evaluated.
type TriggerType string

const (
	// TriggerSignal evaluates the playbook against incoming risk signals.
	TriggerSignal TriggerType = "signal"
	// TriggerManual means runs are only created by an operator.
	TriggerManual TriggerType = "manual"
	// TriggerScheduled fires on a cron schedule.
	TriggerScheduled TriggerType = "scheduled"
)

// ExecutionMode controls whether a run needs human approval before executing.
type ExecutionMode string

const (
	// ExecAutomatic approves admitted runs immediately.
	ExecAutomatic ExecutionMode = "automatic"
	// ExecApproval parks admitted runs in Pending until an operator approves.
	ExecApproval ExecutionMode = "approval"
)

// ConfidenceMode controls whether the signal confidence gate applies.
type ConfidenceMode string

const (
	// ConfidenceAuto enforces MinConfidence against the signal.
	ConfidenceAuto ConfidenceMode = "auto"
	// ConfidenceManual waives the confidence gate; every signal passes it.
	ConfidenceManual ConfidenceMode = "manual"
)

// Playbook is a configured automation rule. Monetary thresholds are in
// minor units (cents).
type Playbook struct {
	pulse.Entity

	ID       id.PlaybookID `json:"id"`
	Name     string        `json:"name" validate:"required,max=200"`
	Category string        `json:"category,omitempty" validate:"max=100"`

	TriggerType TriggerType `json:"trigger_type" validate:"required,oneof=signal manual scheduled"`
	Trigger     Trigger     `json:"trigger"`

	// Schedule is a cron expression, required when TriggerType is scheduled.
	Schedule string `json:"schedule,omitempty"`

	MinConfidence  signal.Confidence `json:"min_confidence"`
	ConfidenceMode ConfidenceMode    `json:"confidence_mode" validate:"required,oneof=auto manual"`
	ExecutionMode  ExecutionMode     `json:"execution_mode" validate:"required,oneof=automatic approval"`

	CooldownHours     int `json:"cooldown_hours" validate:"gte=0"`
	MaxConcurrentRuns int `json:"max_concurrent_runs" validate:"gte=1"`

	// Priority orders matched candidates; a lower value is more urgent.
	Priority int `json:"priority"`

	// TargetSegmentIDs restricts matching to customers in one of these
	// segments. Empty means all customers.
	TargetSegmentIDs []id.SegmentID `json:"target_segment_ids,omitempty"`

	Status Status `json:"status" validate:"required,oneof=draft active paused archived"`

	// Actions are executed in OrderIndex order. Indexes are unique and
	// contiguous from zero.
	Actions []Action `json:"actions"`
}

// Cooldown returns the configured cooldown as a duration.
func (p *Playbook) Cooldown() time.Duration {
	return time.Duration(p.CooldownHours) * time.Hour
}

// IsActive reports whether the playbook participates in matching.
func (p *Playbook) IsActive() bool {
	return p.Status == StatusActive
}

// ActionAt returns the action with the given order index, or nil.
func (p *Playbook) ActionAt(orderIndex int) *Action {
	for i := range p.Actions {
		if p.Actions[i].OrderIndex == orderIndex {
			return &p.Actions[i]
		}
	}
	return nil
}

// ActionByID returns the action with the given ID, or nil.
func (p *Playbook) ActionByID(actionID id.ActionID) *Action {
	for i := range p.Actions {
		if p.Actions[i].ID.String() == actionID.String() {
			return &p.Actions[i]
		}
	}
	return nil
}

// OrderedActions returns the actions sorted by OrderIndex. The receiver's
// slice is not modified.
func (p *Playbook) OrderedActions() []Action {
	out := make([]Action, len(p.Actions))
	copy(out, p.Actions)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].OrderIndex < out[j-1].OrderIndex; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// TargetsSegment reports whether the playbook applies to a customer in the
// given segments. An empty target set applies to all customers.
func (p *Playbook) TargetsSegment(segments []id.SegmentID) bool {
	if len(p.TargetSegmentIDs) == 0 {
		return true
	}
	for _, target := range p.TargetSegmentIDs {
		for _, got := range segments {
			if target.String() == got.String() {
				return true
			}
		}
	}
	return false
}
