// Package signal defines the canonical risk signal model and the intake
// path that normalizes raw provider events into it. Signals are read-only
// once persisted; the matcher and admission layers never mutate them.
package signal

import (
	"time"

	pulse "github.com/PulseAIShared/pulse-engine"
	"github.com/PulseAIShared/pulse-engine/id"
)

// Signal is a normalized customer risk event: a payment failure, an
// inactivity alert, an overdue invoice, and so on. All monetary values
// are in minor units (cents) of Currency.
type Signal struct {
	pulse.Entity

	ID         id.SignalID   `json:"id"`
	Type       string        `json:"type"`
	CustomerID id.CustomerID `json:"customer_id"`

	// Attributes referenced by playbook trigger predicates. A zero value
	// means the attribute was absent from the source event; thresholds
	// simply compare against zero in that case.
	Amount       int64 `json:"amount,omitempty"`
	MRR          int64 `json:"mrr,omitempty"`
	DaysInactive int   `json:"days_inactive,omitempty"`
	DaysOverdue  int   `json:"days_overdue,omitempty"`

	Currency   string     `json:"currency,omitempty"`
	Confidence Confidence `json:"confidence"`
	Sources    []string   `json:"sources,omitempty"`

	ReceivedAt time.Time `json:"received_at"`
}

// HasSource reports whether the signal carries the named source.
func (s *Signal) HasSource(source string) bool {
	for _, got := range s.Sources {
		if got == source {
			return true
		}
	}
	return false
}
