package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

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

	_, err = s.pool.Exec(ctx, `
		INSERT INTO pulse_signals (`+signalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		sig.ID, sig.Type, sig.CustomerID, sig.Amount, sig.MRR,
		sig.DaysInactive, sig.DaysOverdue, sig.Currency,
		int(sig.Confidence), sources, sig.ReceivedAt,
		sig.CreatedAt, sig.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("pulse/postgres: create signal: %w", err)
	}
	return nil
}

// GetSignal retrieves a signal by ID.
func (s *Store) GetSignal(ctx context.Context, signalID id.SignalID) (*signal.Signal, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+signalColumns+` FROM pulse_signals WHERE id = $1`,
		signalID,
	)

	sig, err := scanSignal(row)
	if err != nil {
		if isNoRows(err) {
			return nil, pulse.ErrSignalNotFound
		}
		return nil, fmt.Errorf("pulse/postgres: get signal: %w", err)
	}
	return sig, nil
}

// ListSignals returns signals matching the given options, newest first.
func (s *Store) ListSignals(ctx context.Context, opts signal.ListOpts) ([]*signal.Signal, error) {
	query := `SELECT ` + signalColumns + ` FROM pulse_signals WHERE 1=1`
	args := []any{}
	n := 0

	if opts.Type != "" {
		n++
		query += fmt.Sprintf(" AND type = $%d", n)
		args = append(args, opts.Type)
	}
	if !opts.CustomerID.IsNil() {
		n++
		query += fmt.Sprintf(" AND customer_id = $%d", n)
		args = append(args, opts.CustomerID)
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		n++
		query += fmt.Sprintf(" LIMIT $%d", n)
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		n++
		query += fmt.Sprintf(" OFFSET $%d", n)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pulse/postgres: list signals: %w", err)
	}
	defer rows.Close()

	var out []*signal.Signal
	for rows.Next() {
		sig, scanErr := scanSignal(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("pulse/postgres: scan signal: %w", scanErr)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

func scanSignal(row pgx.Row) (*signal.Signal, error) {
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
