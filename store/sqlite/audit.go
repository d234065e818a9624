package sqlite

import (
	"context"
	"fmt"

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

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pulse_audit (`+auditColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Action, ev.Resource, ev.Severity, ev.Outcome,
		ev.Actor, ev.RunID, ev.PlaybookID, ev.SignalID, ev.CustomerID,
		ev.Reason, metadata, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("pulse/sqlite: append audit: %w", err)
	}
	return nil
}

// ListAudit returns audit events matching the given options, newest first.
func (s *Store) ListAudit(ctx context.Context, opts audit.ListOpts) ([]*audit.Event, error) {
	query := `SELECT ` + auditColumns + ` FROM pulse_audit WHERE 1=1`
	args := []any{}

	if opts.Action != "" {
		query += " AND action = ?"
		args = append(args, opts.Action)
	}
	if opts.Actor != "" {
		query += " AND actor = ?"
		args = append(args, opts.Actor)
	}
	if opts.RunID != "" {
		query += " AND run_id = ?"
		args = append(args, opts.RunID)
	}
	if opts.CustomerID != "" {
		query += " AND customer_id = ?"
		args = append(args, opts.CustomerID)
	}
	if !opts.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, opts.Since.UTC())
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
		return nil, fmt.Errorf("pulse/sqlite: list audit: %w", err)
	}
	defer rows.Close()

	var out []*audit.Event
	for rows.Next() {
		ev, scanErr := scanAuditEvent(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("pulse/sqlite: scan audit event: %w", scanErr)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func scanAuditEvent(row rowScanner) (*audit.Event, error) {
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
