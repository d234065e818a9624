package signal

import (
	"context"

	"github.com/PulseAIShared/pulse-engine/id"
)

// ListOpts controls pagination and filtering for signal list queries.
type ListOpts struct {
	// Limit is the maximum number of signals to return. Zero means no limit.
	Limit int
	// Offset is the number of signals to skip.
	Offset int
	// Type filters by signal type. Empty means all types.
	Type string
	// CustomerID filters by customer. Nil means all customers.
	CustomerID id.CustomerID
}

// Store defines the persistence contract for signals.
type Store interface {
	// CreateSignal persists a new normalized signal.
	CreateSignal(ctx context.Context, sig *Signal) error

	// GetSignal retrieves a signal by ID.
	GetSignal(ctx context.Context, signalID id.SignalID) (*Signal, error)

	// ListSignals returns signals matching the given options, newest first.
	ListSignals(ctx context.Context, opts ListOpts) ([]*Signal, error)
}
