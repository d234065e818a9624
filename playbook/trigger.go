package playbook

import (
	"github.com/PulseAIShared/pulse-engine/signal"
)

// Trigger is the structured predicate evaluated against incoming signals.
// Only thresholds that are set participate in matching; a nil threshold
// is not a constraint. All thresholds are inclusive lower bounds.
type Trigger struct {
	// SignalType is the event type this playbook reacts to, e.g.
	// "payment_failure". Required when TriggerType is signal.
	SignalType string `json:"signal_type,omitempty"`

	// MinAmount is the minimum signal amount in minor units.
	MinAmount *int64 `json:"min_amount,omitempty"`

	// MinMRR is the minimum customer MRR in minor units.
	MinMRR *int64 `json:"min_mrr,omitempty"`

	// MinDaysInactive is the minimum days since last activity.
	MinDaysInactive *int `json:"min_days_inactive,omitempty"`

	// MinDaysOverdue is the minimum days an invoice has been overdue.
	MinDaysOverdue *int `json:"min_days_overdue,omitempty"`

	// RequiredSources must all be present on the signal.
	RequiredSources []string `json:"required_sources,omitempty"`
}

// Satisfied reports whether the signal meets every configured threshold
// and carries every required source. The signal type check and the
// confidence gate live with the caller; this method covers only the
// numeric and source constraints.
func (t *Trigger) Satisfied(sig *signal.Signal) bool {
	if t.MinAmount != nil && sig.Amount < *t.MinAmount {
		return false
	}
	if t.MinMRR != nil && sig.MRR < *t.MinMRR {
		return false
	}
	if t.MinDaysInactive != nil && sig.DaysInactive < *t.MinDaysInactive {
		return false
	}
	if t.MinDaysOverdue != nil && sig.DaysOverdue < *t.MinDaysOverdue {
		return false
	}
	for _, required := range t.RequiredSources {
		if !sig.HasSource(required) {
			return false
		}
	}
	return true
}
