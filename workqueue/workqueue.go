// Package workqueue derives the console's prioritized read views from
// run state: open approvals awaiting an operator, and failed actions
// awaiting triage. Items are projections over runs, playbooks, and
// customer context; nothing here is separately persisted.
package workqueue

import (
	"time"

	"github.com/PulseAIShared/pulse-engine/id"
	"github.com/PulseAIShared/pulse-engine/playbook"
	"github.com/PulseAIShared/pulse-engine/run"
)

// Priority is the urgency bucket of an open approval.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// rank orders buckets for sorting; a lower rank is more urgent.
func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

// Thresholds configures the priority bucket function. Values are in
// minor units of the run's currency.
type Thresholds struct {
	HighValue      int64
	HighAgeHours   int
	MediumValue    int64
	MediumAgeHours int
}

// DefaultThresholds returns the bucket thresholds used by the console:
// High at $5,000 potential value or three days waiting, Medium at
// $1,000 or one day.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HighValue:      500000,
		HighAgeHours:   72,
		MediumValue:    100000,
		MediumAgeHours: 24,
	}
}

// Bucket classifies an open approval by revenue at stake and how long
// it has been waiting. The bucket is monotone non-decreasing in both
// inputs: more value or more age never lowers the urgency.
func (t Thresholds) Bucket(potentialValue int64, age time.Duration) Priority {
	hours := int(age / time.Hour)
	if potentialValue >= t.HighValue || hours >= t.HighAgeHours {
		return PriorityHigh
	}
	if potentialValue >= t.MediumValue || hours >= t.MediumAgeHours {
		return PriorityMedium
	}
	return PriorityLow
}

// Operation is a run mutation the console may offer on a queue item.
type Operation string

const (
	OpApprove     Operation = "approve"
	OpSnooze      Operation = "snooze"
	OpDismiss     Operation = "dismiss"
	OpUndismiss   Operation = "undismiss"
	OpEscalate    Operation = "escalate"
	OpRetryAction Operation = "retry_action"
	OpRetryAll    Operation = "retry_all"
)

// ApprovalItem is one entry in the open-approvals queue.
type ApprovalItem struct {
	Run *run.Run `json:"run"`

	PlaybookName     string `json:"playbook_name"`
	PlaybookCategory string `json:"playbook_category,omitempty"`
	CustomerName     string `json:"customer_name"`

	Priority Priority `json:"priority"`

	// Operations are the mutations currently valid for this item.
	Operations []Operation `json:"operations"`
}

// FailedItem is one entry in the failed-actions queue. It covers failed
// runs, escalated runs, and runs dismissed while failed.
type FailedItem struct {
	Run *run.Run `json:"run"`

	PlaybookName string `json:"playbook_name"`
	CustomerName string `json:"customer_name"`

	FailedActionID id.ActionID         `json:"failed_action_id,omitempty"`
	ActionType     playbook.ActionType `json:"action_type,omitempty"`
	ErrorDetails   string              `json:"error_details,omitempty"`

	Escalated        bool   `json:"escalated"`
	EscalationReason string `json:"escalation_reason,omitempty"`
	Dismissed        bool   `json:"dismissed"`
	DismissalReason  string `json:"dismissal_reason,omitempty"`

	// Operations are the mutations currently valid for this item.
	Operations []Operation `json:"operations"`
}

// ListOpts controls pagination and filtering for queue views.
type ListOpts struct {
	// Limit is the maximum number of items to return. Zero means no limit.
	Limit int
	// Offset is the number of items to skip.
	Offset int
	// PlaybookID restricts the view to one playbook. Nil means all.
	PlaybookID id.PlaybookID
	// SegmentID restricts the view to customers in a segment. Nil means all.
	SegmentID id.SegmentID
	// Status filters failed-action items: "failed", "escalated", or
	// "dismissed". Empty means all three.
	Status string
	// Search is a case-insensitive substring match over customer name,
	// playbook name, and error details.
	Search string
}
