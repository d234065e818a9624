package sqlite

import (
	"context"
	"fmt"

	pulse "github.com/PulseAIShared/pulse-engine"
	"github.com/PulseAIShared/pulse-engine/id"
	"github.com/PulseAIShared/pulse-engine/playbook"
	"github.com/PulseAIShared/pulse-engine/signal"
)

const playbookColumns = `
	id, name, category, trigger_type, trigger, schedule,
	min_confidence, confidence_mode, execution_mode,
	cooldown_hours, max_concurrent_runs, priority,
	target_segment_ids, status, actions, created_at, updated_at`

// rowScanner lets scan helpers work with both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// CreatePlaybook persists a new playbook.
func (s *Store) CreatePlaybook(ctx context.Context, p *playbook.Playbook) error {
	trigger, err := marshalJSON(p.Trigger)
	if err != nil {
		return err
	}
	segments, err := marshalJSON(p.TargetSegmentIDs)
	if err != nil {
		return err
	}
	actions, err := marshalJSON(p.Actions)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pulse_playbooks (`+playbookColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Category, string(p.TriggerType), trigger, p.Schedule,
		int(p.MinConfidence), string(p.ConfidenceMode), string(p.ExecutionMode),
		p.CooldownHours, p.MaxConcurrentRuns, p.Priority,
		segments, string(p.Status), actions, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err, "") {
			return pulse.ErrPlaybookExists
		}
		return fmt.Errorf("pulse/sqlite: create playbook: %w", err)
	}
	return nil
}

// GetPlaybook retrieves a playbook by ID.
func (s *Store) GetPlaybook(ctx context.Context, playbookID id.PlaybookID) (*playbook.Playbook, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+playbookColumns+` FROM pulse_playbooks WHERE id = ?`,
		playbookID,
	)

	p, err := scanPlaybook(row)
	if err != nil {
		if isNoRows(err) {
			return nil, pulse.ErrPlaybookNotFound
		}
		return nil, fmt.Errorf("pulse/sqlite: get playbook: %w", err)
	}
	return p, nil
}

// UpdatePlaybook persists changes to an existing playbook.
func (s *Store) UpdatePlaybook(ctx context.Context, p *playbook.Playbook) error {
	trigger, err := marshalJSON(p.Trigger)
	if err != nil {
		return err
	}
	segments, err := marshalJSON(p.TargetSegmentIDs)
	if err != nil {
		return err
	}
	actions, err := marshalJSON(p.Actions)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE pulse_playbooks SET
			name = ?, category = ?, trigger_type = ?, trigger = ?,
			schedule = ?, min_confidence = ?, confidence_mode = ?,
			execution_mode = ?, cooldown_hours = ?,
			max_concurrent_runs = ?, priority = ?,
			target_segment_ids = ?, status = ?, actions = ?,
			updated_at = ?
		WHERE id = ?`,
		p.Name, p.Category, string(p.TriggerType), trigger,
		p.Schedule, int(p.MinConfidence), string(p.ConfidenceMode),
		string(p.ExecutionMode), p.CooldownHours,
		p.MaxConcurrentRuns, p.Priority,
		segments, string(p.Status), actions,
		p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("pulse/sqlite: update playbook: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("pulse/sqlite: update playbook: %w", err)
	}
	if affected == 0 {
		return pulse.ErrPlaybookNotFound
	}
	return nil
}

// ListPlaybooks returns playbooks matching the given options.
func (s *Store) ListPlaybooks(ctx context.Context, opts playbook.ListOpts) ([]*playbook.Playbook, error) {
	query := `SELECT ` + playbookColumns + ` FROM pulse_playbooks WHERE 1=1`
	args := []any{}

	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}
	if opts.TriggerType != "" {
		query += " AND trigger_type = ?"
		args = append(args, string(opts.TriggerType))
	}
	if opts.Category != "" {
		query += " AND category = ?"
		args = append(args, opts.Category)
	}

	query += " ORDER BY priority ASC, created_at DESC"

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
		return nil, fmt.Errorf("pulse/sqlite: list playbooks: %w", err)
	}
	defer rows.Close()

	var out []*playbook.Playbook
	for rows.Next() {
		p, scanErr := scanPlaybook(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("pulse/sqlite: scan playbook: %w", scanErr)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPlaybook(row rowScanner) (*playbook.Playbook, error) {
	var (
		p             playbook.Playbook
		triggerType   string
		trigger       []byte
		minConfidence int
		confMode      string
		execMode      string
		segments      []byte
		status        string
		actions       []byte
	)

	err := row.Scan(
		&p.ID, &p.Name, &p.Category, &triggerType, &trigger, &p.Schedule,
		&minConfidence, &confMode, &execMode,
		&p.CooldownHours, &p.MaxConcurrentRuns, &p.Priority,
		&segments, &status, &actions, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.TriggerType = playbook.TriggerType(triggerType)
	p.MinConfidence = signal.Confidence(minConfidence)
	p.ConfidenceMode = playbook.ConfidenceMode(confMode)
	p.ExecutionMode = playbook.ExecutionMode(execMode)
	p.Status = playbook.Status(status)

	if err := unmarshalJSON(trigger, &p.Trigger); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(segments, &p.TargetSegmentIDs); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(actions, &p.Actions); err != nil {
		return nil, err
	}
	return &p, nil
}
