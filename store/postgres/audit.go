package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/PulseAIShared/pulse-engine/audit"
)

const auditColumns = `
	id, action, resource, severity, outcome, actor,
	run_id, playbook_id, signal_id, customer_id, reason, metadata, created_at`

// AppendAudit records an audit event. The log is append-only.
func (s *Store) AppendAudit(ctx context.Context, ev *audit.Event) error {
	metadata, err := marshalJSON(ev.Metadata)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO pulse_audit (`+auditColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		ev.ID, ev.Action, ev.Resource, ev.Severity, ev.Outcome,
		ev.Actor, ev.RunID, ev.PlaybookID, ev.SignalID, ev.CustomerID,
		ev.Reason, metadata, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("pulse/postgres: append audit: %w", err)
	}
	return nil
}

// ListAudit returns audit events matching the given options, newest first.
func (s *Store) ListAudit(ctx context.Context, opts audit.ListOpts) ([]*audit.Event, error) {
	query := `SELECT ` + auditColumns + ` FROM pulse_audit WHERE 1=1`
	args := []any{}
	n := 0

	if opts.Action != "" {
		n++
		query += fmt.Sprintf(" AND action = $%d", n)
		args = append(args, opts.Action)
	}
	if opts.Actor != "" {
		n++
		query += fmt.Sprintf(" AND actor = $%d", n)
		args = append(args, opts.Actor)
	}
	if opts.RunID != "" {
		n++
		query += fmt.Sprintf(" AND run_id = $%d", n)
		args = append(args, opts.RunID)
	}
	if opts.CustomerID != "" {
		n++
		query += fmt.Sprintf(" AND customer_id = $%d", n)
		args = append(args, opts.CustomerID)
	}
	if !opts.Since.IsZero() {
		n++
		query += fmt.Sprintf(" AND created_at >= $%d", n)
		args = append(args, opts.Since)
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
		return nil, fmt.Errorf("pulse/postgres: list audit: %w", err)
	}
	defer rows.Close()

	var out []*audit.Event
	for rows.Next() {
		ev, err := scanAuditEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("pulse/postgres: scan audit event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func scanAuditEvent(row pgx.Row) (*audit.Event, error) {
	var (
		ev       audit.Event
		metadata []byte
	)

	err := row.Scan(
		&ev.ID, &ev.Action, &ev.Resource, &ev.Severity, &ev.Outcome, &ev.Actor,
		&ev.RunID, &ev.PlaybookID, &ev.SignalID, &ev.CustomerID,
		&ev.Reason, &metadata, &ev.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSON(metadata, &ev.Metadata); err != nil {
		return nil, err
	}
	return &ev, nil
}
