package sqlite

import (
	"context"
	"fmt"

	pulse "github.com/PulseAIShared/pulse-engine"
	"github.com/PulseAIShared/pulse-engine/id"
	"github.com/PulseAIShared/pulse-engine/signal"
)

const signalColumns = `
	id, type, customer_id, amount, mrr, days_inactive, days_overdue,
	currency, confidence, sources, received_at, created_at, updated_at`

// CreateSignal persists a new normalized signal.
func (s *Store) CreateSignal(ctx context.Context, sig *signal.Signal) error {
	sources, err := marshalJSON(sig.Sources)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pulse_signals (`+signalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.ID, sig.Type, sig.CustomerID, sig.Amount, sig.MRR,
		sig.DaysInactive, sig.DaysOverdue, sig.Currency,
		int(sig.Confidence), sources, sig.ReceivedAt,
		sig.CreatedAt, sig.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("pulse/sqlite: create signal: %w", err)
	}
	return nil
}

// GetSignal retrieves a signal by ID.
func (s *Store) GetSignal(ctx context.Context, signalID id.SignalID) (*signal.Signal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+signalColumns+` FROM pulse_signals WHERE id = ?`,
		signalID,
	)

	sig, err := scanSignal(row)
	if err != nil {
		if isNoRows(err) {
			return nil, pulse.ErrSignalNotFound
		}
		return nil, fmt.Errorf("pulse/sqlite: get signal: %w", err)
	}
	return sig, nil
}

// ListSignals returns signals matching the given options, newest first.
func (s *Store) ListSignals(ctx context.Context, opts signal.ListOpts) ([]*signal.Signal, error) {
	query := `SELECT ` + signalColumns + ` FROM pulse_signals WHERE 1=1`
	args := []any{}

	if opts.Type != "" {
		query += " AND type = ?"
		args = append(args, opts.Type)
	}
	if !opts.CustomerID.IsNil() {
		query += " AND customer_id = ?"
		args = append(args, opts.CustomerID)
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pulse/sqlite: list signals: %w", err)
	}
	defer rows.Close()

	var out []*signal.Signal
	for rows.Next() {
		sig, scanErr := scanSignal(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("pulse/sqlite: scan signal: %w", scanErr)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

func scanSignal(row rowScanner) (*signal.Signal, error) {
	var (
		sig        signal.Signal
		confidence int
		sources    []byte
	)

	err := row.Scan(
		&sig.ID, &sig.Type, &sig.CustomerID, &sig.Amount, &sig.MRR,
		&sig.DaysInactive, &sig.DaysOverdue, &sig.Currency,
		&confidence, &sources, &sig.ReceivedAt,
		&sig.CreatedAt, &sig.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	sig.Confidence = signal.Confidence(confidence)
	if err := unmarshalJSON(sources, &sig.Sources); err != nil {
		return nil, err
	}
	return &sig, nil
}
