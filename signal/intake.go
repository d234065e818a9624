package signal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pulse "github.com/PulseAIShared/pulse-engine"
	"github.com/PulseAIShared/pulse-engine/id"
)

// RawEvent is an incoming risk event as delivered by a provider
// integration, before normalization.
type RawEvent struct {
	Type         string   `json:"type"`
	CustomerID   string   `json:"customer_id"`
	Amount       int64    `json:"amount,omitempty"`
	MRR          int64    `json:"mrr,omitempty"`
	DaysInactive int      `json:"days_inactive,omitempty"`
	DaysOverdue  int      `json:"days_overdue,omitempty"`
	Currency     string   `json:"currency,omitempty"`
	Confidence   string   `json:"confidence,omitempty"`
	Sources      []string `json:"sources,omitempty"`
}

// Intake normalizes raw events into canonical Signals and persists them.
// It is stateless apart from its dependencies and safe for concurrent use.
type Intake struct {
	store  Store
	logger *slog.Logger
}

// NewIntake creates an Intake writing to the given store.
func NewIntake(store Store, logger *slog.Logger) *Intake {
	return &Intake{store: store, logger: logger}
}

// Normalize converts a raw event into a canonical Signal without
// persisting it. The event type is lowercased and trimmed, empty sources
// are dropped, and the confidence label resolves to its ordinal tier.
func Normalize(raw RawEvent) (*Signal, error) {
	eventType := strings.ToLower(strings.TrimSpace(raw.Type))
	if eventType == "" {
		return nil, fmt.Errorf("signal: normalize: missing event type")
	}

	custID, err := id.ParseCustomerID(strings.TrimSpace(raw.CustomerID))
	if err != nil {
		return nil, fmt.Errorf("signal: normalize: %w", err)
	}

	if raw.Amount < 0 || raw.MRR < 0 {
		return nil, fmt.Errorf("signal: normalize: negative monetary amount")
	}

	sources := make([]string, 0, len(raw.Sources))
	for _, src := range raw.Sources {
		src = strings.ToLower(strings.TrimSpace(src))
		if src != "" {
			sources = append(sources, src)
		}
	}

	currency := strings.ToUpper(strings.TrimSpace(raw.Currency))
	if currency == "" && (raw.Amount > 0 || raw.MRR > 0) {
		currency = "USD"
	}

	return &Signal{
		Entity:       pulse.NewEntity(),
		ID:           id.NewSignalID(),
		Type:         eventType,
		CustomerID:   custID,
		Amount:       raw.Amount,
		MRR:          raw.MRR,
		DaysInactive: raw.DaysInactive,
		DaysOverdue:  raw.DaysOverdue,
		Currency:     currency,
		Confidence:   ParseConfidence(raw.Confidence),
		Sources:      sources,
		ReceivedAt:   time.Now().UTC(),
	}, nil
}

// Accept normalizes and persists a raw event, returning the stored Signal.
func (in *Intake) Accept(ctx context.Context, raw RawEvent) (*Signal, error) {
	sig, err := Normalize(raw)
	if err != nil {
		return nil, err
	}

	if err := in.store.CreateSignal(ctx, sig); err != nil {
		return nil, fmt.Errorf("signal: persist: %w", err)
	}

	in.logger.Debug("signal accepted",
		slog.String("signal_id", sig.ID.String()),
		slog.String("signal_type", sig.Type),
		slog.String("customer_id", sig.CustomerID.String()),
	)

	return sig, nil
}
