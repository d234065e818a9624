// Package customer defines the customer context the engine receives from
// the surrounding platform. Customer records are owned by the console's
// CRM layer; the engine only reads the fields that matching, admission,
// and template rendering need.
package customer

import (
	"github.com/PulseAIShared/pulse-engine/id"
)

// Context is the engine's read-only view of one customer.
// Monetary values are in minor units (cents).
type Context struct {
	ID    id.CustomerID `json:"id"`
	Name  string        `json:"name"`
	Email string        `json:"email,omitempty"`

	// SegmentIDs are the segments the customer currently belongs to,
	// matched against a playbook's target segments.
	SegmentIDs []id.SegmentID `json:"segment_ids,omitempty"`

	// MRR is the customer's current monthly recurring revenue.
	MRR int64 `json:"mrr,omitempty"`

	// PotentialValue estimates the revenue at stake if the customer
	// churns; it drives work queue prioritization.
	PotentialValue int64  `json:"potential_value,omitempty"`
	Currency       string `json:"currency,omitempty"`

	// OwnerID is the CRM owner of the account, used as the default
	// assignee for CRM task actions.
	OwnerID string `json:"owner_id,omitempty"`
}
