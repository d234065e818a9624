package audit

import (
	"context"
	"time"
)

// ListOpts filters audit trail queries. Zero values mean "no filter".
type ListOpts struct {
	Limit  int
	Offset int

	Action     string
	Actor      string
	RunID      string
	CustomerID string

	// Since bounds the query to events created at or after this time.
	Since time.Time
}

// Store defines the persistence contract for the audit trail.
// The trail is append-only: there is no update or delete.
type Store interface {
	// AppendAudit persists one audit event.
	AppendAudit(ctx context.Context, evt *Event) error

	// ListAudit returns audit events matching the given options,
	// newest first.
	ListAudit(ctx context.Context, opts ListOpts) ([]*Event, error)
}
