package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	pulse "github.com/PulseAIShared/pulse-engine"
	"github.com/PulseAIShared/pulse-engine/id"
	"github.com/PulseAIShared/pulse-engine/run"
)

const runColumns = `
	id, playbook_id, customer_id, signal_id, state, prior_state,
	executed_action_ids, failed_action_id, error_details,
	dismissal_reason, escalation_reason, escalated_at, snooze_until,
	approved_at, started_at, completed_at, dismissed_at,
	potential_value, currency, worker_id, heartbeat_at, version,
	created_at, updated_at`

// CreateRun persists a new run. The partial unique index on open states
// rejects a second open run for the same (playbook, customer) pair.
func (s *Store) CreateRun(ctx context.Context, r *run.Run) error {
	executed, err := marshalJSON(r.ExecutedActionIDs)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pulse_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
		        ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.PlaybookID, r.CustomerID, r.SignalID,
		string(r.State), string(r.PriorState),
		executed, r.FailedActionID, r.ErrorDetails,
		r.DismissalReason, r.EscalationReason, r.EscalatedAt, r.SnoozeUntil,
		r.ApprovedAt, r.StartedAt, r.CompletedAt, r.DismissedAt,
		r.PotentialValue, r.Currency, r.WorkerID, r.HeartbeatAt, r.Version,
		r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err, "pulse_runs.id") {
			return pulse.ErrRunExists
		}
		if isDuplicateKey(err, "") {
			return pulse.ErrOpenRunExists
		}
		return fmt.Errorf("pulse/sqlite: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*run.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM pulse_runs WHERE id = ?`,
		runID,
	)

	r, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, pulse.ErrRunNotFound
		}
		return nil, fmt.Errorf("pulse/sqlite: get run: %w", err)
	}
	return r, nil
}

// UpdateRun persists changes to an existing run using optimistic
// concurrency on the version counter. First writer wins.
func (s *Store) UpdateRun(ctx context.Context, r *run.Run) error {
	executed, err := marshalJSON(r.ExecutedActionIDs)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE pulse_runs SET
			state = ?, prior_state = ?, executed_action_ids = ?,
			failed_action_id = ?, error_details = ?,
			dismissal_reason = ?, escalation_reason = ?,
			escalated_at = ?, snooze_until = ?, approved_at = ?,
			started_at = ?, completed_at = ?, dismissed_at = ?,
			potential_value = ?, currency = ?, worker_id = ?,
			heartbeat_at = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(r.State), string(r.PriorState), executed,
		r.FailedActionID, r.ErrorDetails,
		r.DismissalReason, r.EscalationReason,
		r.EscalatedAt, r.SnoozeUntil, r.ApprovedAt,
		r.StartedAt, r.CompletedAt, r.DismissedAt,
		r.PotentialValue, r.Currency, r.WorkerID,
		r.HeartbeatAt, time.Now().UTC(),
		r.ID, r.Version,
	)
	if err != nil {
		return fmt.Errorf("pulse/sqlite: update run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("pulse/sqlite: update run: %w", err)
	}
	if affected == 0 {
		var exists bool
		if checkErr := s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM pulse_runs WHERE id = ?)`, r.ID,
		).Scan(&exists); checkErr != nil {
			return fmt.Errorf("pulse/sqlite: update run: %w", checkErr)
		}
		if !exists {
			return pulse.ErrRunNotFound
		}
		return pulse.ErrStaleRun
	}

	// Reflect the accepted write back so the caller can keep updating
	// the same struct.
	r.Version++
	return nil
}

// ListRuns returns runs matching the given options, newest first.
func (s *Store) ListRuns(ctx context.Context, opts run.ListOpts) ([]*run.Run, error) {
	query := `SELECT ` + runColumns + ` FROM pulse_runs WHERE 1=1`
	args := []any{}

	if len(opts.States) > 0 {
		placeholders := make([]string, len(opts.States))
		for i, st := range opts.States {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += " AND state IN (" + strings.Join(placeholders, ", ") + ")"
	}
	if !opts.PlaybookID.IsNil() {
		query += " AND playbook_id = ?"
		args = append(args, opts.PlaybookID)
	}
	if !opts.CustomerID.IsNil() {
		query += " AND customer_id = ?"
		args = append(args, opts.CustomerID)
	}
	if opts.Escalated != nil {
		if *opts.Escalated {
			query += " AND escalated_at IS NOT NULL"
		} else {
			query += " AND escalated_at IS NULL"
		}
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
		return nil, fmt.Errorf("pulse/sqlite: list runs: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

// CountActiveRuns returns the number of runs for the playbook whose
// state consumes a concurrency slot.
func (s *Store) CountActiveRuns(ctx context.Context, playbookID id.PlaybookID) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM pulse_runs
		WHERE playbook_id = ? AND state IN ('pending', 'approved', 'executing')`,
		playbookID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("pulse/sqlite: count active runs: %w", err)
	}
	return count, nil
}

// LatestRunFor returns the most recently created run for the
// (playbook, customer) pair, or nil when the pair has never run.
func (s *Store) LatestRunFor(ctx context.Context, playbookID id.PlaybookID, customerID id.CustomerID) (*run.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+runColumns+` FROM pulse_runs
		WHERE playbook_id = ? AND customer_id = ?
		ORDER BY created_at DESC
		LIMIT 1`,
		playbookID, customerID,
	)

	r, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("pulse/sqlite: latest run: %w", err)
	}
	return r, nil
}

// ClaimApprovedRuns atomically claims up to limit approved runs inside
// a transaction, marks them executing under the worker's ID, and
// returns them. Oldest approvals first.
func (s *Store) ClaimApprovedRuns(ctx context.Context, workerID id.WorkerID, limit int) ([]*run.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("pulse/sqlite: claim approved runs: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM pulse_runs
		WHERE state = 'approved'
		ORDER BY approved_at ASC, created_at ASC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("pulse/sqlite: claim approved runs: %w", err)
	}

	var ids []string
	for rows.Next() {
		var runID string
		if scanErr := rows.Scan(&runID); scanErr != nil {
			rows.Close()
			return nil, fmt.Errorf("pulse/sqlite: claim approved runs: %w", scanErr)
		}
		ids = append(ids, runID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("pulse/sqlite: claim approved runs: %w", err)
	}
	rows.Close()

	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	now := time.Now().UTC()
	placeholders := make([]string, len(ids))
	updateArgs := []any{workerID, now, now, now}
	for i, runID := range ids {
		placeholders[i] = "?"
		updateArgs = append(updateArgs, runID)
	}
	inClause := strings.Join(placeholders, ", ")

	_, err = tx.ExecContext(ctx, `
		UPDATE pulse_runs
		SET state = 'executing', worker_id = ?,
		    started_at = ?, heartbeat_at = ?,
		    version = version + 1, updated_at = ?
		WHERE id IN (`+inClause+`)`,
		updateArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("pulse/sqlite: claim approved runs: %w", err)
	}

	selectArgs := make([]any, len(ids))
	for i, runID := range ids {
		selectArgs[i] = runID
	}
	claimed, err := tx.QueryContext(ctx, `
		SELECT `+runColumns+` FROM pulse_runs
		WHERE id IN (`+inClause+`)
		ORDER BY approved_at ASC, created_at ASC`,
		selectArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("pulse/sqlite: claim approved runs: %w", err)
	}

	out, err := collectRuns(claimed)
	if err != nil {
		return nil, err
	}
	return out, tx.Commit()
}

// HeartbeatRun updates the heartbeat timestamp for an executing run.
func (s *Store) HeartbeatRun(ctx context.Context, runID id.RunID, workerID id.WorkerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE pulse_runs SET heartbeat_at = ?, updated_at = ?
		WHERE id = ?`,
		now, now, runID,
	)
	if err != nil {
		return fmt.Errorf("pulse/sqlite: heartbeat run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("pulse/sqlite: heartbeat run: %w", err)
	}
	if affected == 0 {
		return pulse.ErrRunNotFound
	}
	return nil
}

// ReapStaleRuns returns executing runs whose last heartbeat is older
// than the threshold.
func (s *Store) ReapStaleRuns(ctx context.Context, threshold time.Duration) ([]*run.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM pulse_runs
		WHERE state = 'executing' AND heartbeat_at IS NOT NULL AND heartbeat_at < ?`,
		time.Now().UTC().Add(-threshold),
	)
	if err != nil {
		return nil, fmt.Errorf("pulse/sqlite: reap stale runs: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

// ListSnoozedDue returns snoozed runs whose snooze deadline has elapsed.
func (s *Store) ListSnoozedDue(ctx context.Context, now time.Time) ([]*run.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM pulse_runs
		WHERE state = 'snoozed' AND snooze_until <= ?
		ORDER BY created_at ASC`,
		now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("pulse/sqlite: list snoozed due: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

func collectRuns(rows *sql.Rows) ([]*run.Run, error) {
	var out []*run.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("pulse/sqlite: scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRun(row rowScanner) (*run.Run, error) {
	var (
		r          run.Run
		state      string
		priorState string
		executed   []byte
	)

	err := row.Scan(
		&r.ID, &r.PlaybookID, &r.CustomerID, &r.SignalID, &state, &priorState,
		&executed, &r.FailedActionID, &r.ErrorDetails,
		&r.DismissalReason, &r.EscalationReason, &r.EscalatedAt, &r.SnoozeUntil,
		&r.ApprovedAt, &r.StartedAt, &r.CompletedAt, &r.DismissedAt,
		&r.PotentialValue, &r.Currency, &r.WorkerID, &r.HeartbeatAt, &r.Version,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.State = run.State(state)
	r.PriorState = run.State(priorState)
	if err := unmarshalJSON(executed, &r.ExecutedActionIDs); err != nil {
		return nil, err
	}
	return &r, nil
}
