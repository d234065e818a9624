package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

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

	_, err = s.pool.Exec(ctx, `
		INSERT INTO pulse_runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
		        $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)`,
		r.ID, r.PlaybookID, r.CustomerID, r.SignalID,
		string(r.State), string(r.PriorState),
		executed, r.FailedActionID, r.ErrorDetails,
		r.DismissalReason, r.EscalationReason, r.EscalatedAt, r.SnoozeUntil,
		r.ApprovedAt, r.StartedAt, r.CompletedAt, r.DismissedAt,
		r.PotentialValue, r.Currency, r.WorkerID, r.HeartbeatAt, r.Version,
		r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err, "idx_pulse_runs_single_open") {
			return pulse.ErrOpenRunExists
		}
		if isDuplicateKey(err, "") {
			return pulse.ErrRunExists
		}
		return fmt.Errorf("pulse/postgres: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*run.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM pulse_runs WHERE id = $1`,
		runID,
	)

	r, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, pulse.ErrRunNotFound
		}
		return nil, fmt.Errorf("pulse/postgres: get run: %w", err)
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

	tag, err := s.pool.Exec(ctx, `
		UPDATE pulse_runs SET
			state = $3, prior_state = $4, executed_action_ids = $5,
			failed_action_id = $6, error_details = $7,
			dismissal_reason = $8, escalation_reason = $9,
			escalated_at = $10, snooze_until = $11, approved_at = $12,
			started_at = $13, completed_at = $14, dismissed_at = $15,
			potential_value = $16, currency = $17, worker_id = $18,
			heartbeat_at = $19, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2`,
		r.ID, r.Version,
		string(r.State), string(r.PriorState), executed,
		r.FailedActionID, r.ErrorDetails,
		r.DismissalReason, r.EscalationReason,
		r.EscalatedAt, r.SnoozeUntil, r.ApprovedAt,
		r.StartedAt, r.CompletedAt, r.DismissedAt,
		r.PotentialValue, r.Currency, r.WorkerID,
		r.HeartbeatAt,
	)
	if err != nil {
		return fmt.Errorf("pulse/postgres: update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if checkErr := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM pulse_runs WHERE id = $1)`, r.ID,
		).Scan(&exists); checkErr != nil {
			return fmt.Errorf("pulse/postgres: update run: %w", checkErr)
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
	n := 0

	if len(opts.States) > 0 {
		states := make([]string, len(opts.States))
		for i, st := range opts.States {
			states[i] = string(st)
		}
		n++
		query += fmt.Sprintf(" AND state = ANY($%d)", n)
		args = append(args, states)
	}
	if !opts.PlaybookID.IsNil() {
		n++
		query += fmt.Sprintf(" AND playbook_id = $%d", n)
		args = append(args, opts.PlaybookID)
	}
	if !opts.CustomerID.IsNil() {
		n++
		query += fmt.Sprintf(" AND customer_id = $%d", n)
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
		return nil, fmt.Errorf("pulse/postgres: list runs: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

// CountActiveRuns returns the number of runs for the playbook whose
// state consumes a concurrency slot.
func (s *Store) CountActiveRuns(ctx context.Context, playbookID id.PlaybookID) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM pulse_runs
		WHERE playbook_id = $1 AND state IN ('pending', 'approved', 'executing')`,
		playbookID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("pulse/postgres: count active runs: %w", err)
	}
	return count, nil
}

// LatestRunFor returns the most recently created run for the
// (playbook, customer) pair, or nil when the pair has never run.
func (s *Store) LatestRunFor(ctx context.Context, playbookID id.PlaybookID, customerID id.CustomerID) (*run.Run, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+runColumns+` FROM pulse_runs
		WHERE playbook_id = $1 AND customer_id = $2
		ORDER BY created_at DESC
		LIMIT 1`,
		playbookID, customerID,
	)

	r, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("pulse/postgres: latest run: %w", err)
	}
	return r, nil
}

// ClaimApprovedRuns atomically claims up to limit approved runs using
// SELECT FOR UPDATE SKIP LOCKED, marks them executing under the worker's
// ID, and returns them. Oldest approvals first.
func (s *Store) ClaimApprovedRuns(ctx context.Context, workerID id.WorkerID, limit int) ([]*run.Run, error) {
	rows, err := s.pool.Query(ctx, `
		WITH claimed AS (
			UPDATE pulse_runs
			SET state = 'executing', worker_id = $1,
			    started_at = NOW(), heartbeat_at = NOW(),
			    version = version + 1, updated_at = NOW()
			WHERE id IN (
				SELECT id FROM pulse_runs
				WHERE state = 'approved'
				ORDER BY approved_at ASC NULLS LAST, created_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $2
			)
			RETURNING `+runColumns+`
		)
		SELECT * FROM claimed ORDER BY approved_at ASC NULLS LAST, created_at ASC`,
		workerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("pulse/postgres: claim approved runs: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

// HeartbeatRun updates the heartbeat timestamp for an executing run.
func (s *Store) HeartbeatRun(ctx context.Context, runID id.RunID, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE pulse_runs SET heartbeat_at = NOW(), updated_at = NOW()
		WHERE id = $1`,
		runID,
	)
	if err != nil {
		return fmt.Errorf("pulse/postgres: heartbeat run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pulse.ErrRunNotFound
	}
	return nil
}

// ReapStaleRuns returns executing runs whose last heartbeat is older
// than the threshold.
func (s *Store) ReapStaleRuns(ctx context.Context, threshold time.Duration) ([]*run.Run, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+runColumns+` FROM pulse_runs
		WHERE state = 'executing' AND heartbeat_at < $1`,
		time.Now().UTC().Add(-threshold),
	)
	if err != nil {
		return nil, fmt.Errorf("pulse/postgres: reap stale runs: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

// ListSnoozedDue returns snoozed runs whose snooze deadline has elapsed.
func (s *Store) ListSnoozedDue(ctx context.Context, now time.Time) ([]*run.Run, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+runColumns+` FROM pulse_runs
		WHERE state = 'snoozed' AND snooze_until <= $1
		ORDER BY created_at ASC`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("pulse/postgres: list snoozed due: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

func collectRuns(rows pgx.Rows) ([]*run.Run, error) {
	var out []*run.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("pulse/postgres: scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRun(row pgx.Row) (*run.Run, error) {
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
