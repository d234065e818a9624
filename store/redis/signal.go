package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	pulse "github.com/PulseAIShared/pulse-engine"
	"github.com/PulseAIShared/pulse-engine/id"
	"github.com/PulseAIShared/pulse-engine/signal"
)

// CreateSignal stores the signal as a Hash and tracks its ID.
func (s *Store) CreateSignal(ctx context.Context, sig *signal.Signal) error {
	sID := sig.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, signalKey(sID), signalToMap(sig))
	pipe.SAdd(ctx, signalIDsKey, sID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pulse/redis: create signal: %w", err)
	}
	return nil
}

// GetSignal retrieves a signal by ID.
func (s *Store) GetSignal(ctx context.Context, signalID id.SignalID) (*signal.Signal, error) {
	vals, err := s.client.HGetAll(ctx, signalKey(signalID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("pulse/redis: get signal: %w", err)
	}
	if len(vals) == 0 {
		return nil, pulse.ErrSignalNotFound
	}
	return mapToSignal(vals)
}

// ListSignals returns signals matching the given options, newest first.
func (s *Store) ListSignals(ctx context.Context, opts signal.ListOpts) ([]*signal.Signal, error) {
	ids, err := s.client.SMembers(ctx, signalIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("pulse/redis: list signals smembers: %w", err)
	}

	out := make([]*signal.Signal, 0, len(ids))
	for _, sID := range ids {
		vals, getErr := s.client.HGetAll(ctx, signalKey(sID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue // skip missing
		}
		sig, convErr := mapToSignal(vals)
		if convErr != nil {
			continue
		}
		if opts.Type != "" && sig.Type != opts.Type {
			continue
		}
		if !opts.CustomerID.IsNil() && sig.CustomerID != opts.CustomerID {
			continue
		}
		out = append(out, sig)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	return paginate(out, opts.Offset, opts.Limit), nil
}

func signalToMap(sig *signal.Signal) map[string]interface{} {
	return map[string]interface{}{
		"id":            sig.ID.String(),
		"type":          sig.Type,
		"customer_id":   sig.CustomerID.String(),
		"amount":        strconv.FormatInt(sig.Amount, 10),
		"mrr":           strconv.FormatInt(sig.MRR, 10),
		"days_inactive": strconv.Itoa(sig.DaysInactive),
		"days_overdue":  strconv.Itoa(sig.DaysOverdue),
		"currency":      sig.Currency,
		"confidence":    strconv.Itoa(int(sig.Confidence)),
		"sources":       marshalJSON(sig.Sources),
		"received_at":   sig.ReceivedAt.Format(time.RFC3339Nano),
		"created_at":    sig.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":    sig.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func mapToSignal(m map[string]string) (*signal.Signal, error) {
	sID, err := id.ParseSignalID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("pulse/redis: parse signal id: %w", err)
	}

	amount, _ := strconv.ParseInt(m["amount"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data
	mrr, _ := strconv.ParseInt(m["mrr"], 10, 64)       //nolint:errcheck // best-effort parse from trusted Redis data
	daysInactive, _ := strconv.Atoi(m["days_inactive"]) //nolint:errcheck // best-effort parse from trusted Redis data
	daysOverdue, _ := strconv.Atoi(m["days_overdue"])  //nolint:errcheck // best-effort parse from trusted Redis data
	confidence, _ := strconv.Atoi(m["confidence"])     //nolint:errcheck // best-effort parse from trusted Redis data

	receivedAt, _ := time.Parse(time.RFC3339Nano, m["received_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"])   //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"])   //nolint:errcheck // best-effort parse from trusted Redis data

	sig := &signal.Signal{
		Entity: pulse.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:           sID,
		Type:         m["type"],
		Amount:       amount,
		MRR:          mrr,
		DaysInactive: daysInactive,
		DaysOverdue:  daysOverdue,
		Currency:     m["currency"],
		Confidence:   signal.Confidence(confidence),
		Sources:      unmarshalStrings(m["sources"]),
		ReceivedAt:   receivedAt,
	}

	if cid := m["customer_id"]; cid != "" {
		sig.CustomerID, _ = id.ParseCustomerID(cid) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	return sig, nil
}
