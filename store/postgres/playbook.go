package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

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

	_, err = s.pool.Exec(ctx, `
		INSERT INTO pulse_playbooks (`+playbookColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		p.ID, p.Name, p.Category, string(p.TriggerType), trigger, p.Schedule,
		int(p.MinConfidence), string(p.ConfidenceMode), string(p.ExecutionMode),
		p.CooldownHours, p.MaxConcurrentRuns, p.Priority,
		segments, string(p.Status), actions, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err, "") {
			return pulse.ErrPlaybookExists
		}
		return fmt.Errorf("pulse/postgres: create playbook: %w", err)
	}
	return nil
}

// GetPlaybook retrieves a playbook by ID.
func (s *Store) GetPlaybook(ctx context.Context, playbookID id.PlaybookID) (*playbook.Playbook, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+playbookColumns+` FROM pulse_playbooks WHERE id = $1`,
		playbookID,
	)

	p, err := scanPlaybook(row)
	if err != nil {
		if isNoRows(err) {
			return nil, pulse.ErrPlaybookNotFound
		}
		return nil, fmt.Errorf("pulse/postgres: get playbook: %w", err)
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

	tag, err := s.pool.Exec(ctx, `
		UPDATE pulse_playbooks SET
			name = $2, category = $3, trigger_type = $4, trigger = $5,
			schedule = $6, min_confidence = $7, confidence_mode = $8,
			execution_mode = $9, cooldown_hours = $10,
			max_concurrent_runs = $11, priority = $12,
			target_segment_ids = $13, status = $14, actions = $15,
			updated_at = NOW()
		WHERE id = $1`,
		p.ID, p.Name, p.Category, string(p.TriggerType), trigger,
		p.Schedule, int(p.MinConfidence), string(p.ConfidenceMode),
		string(p.ExecutionMode), p.CooldownHours,
		p.MaxConcurrentRuns, p.Priority,
		segments, string(p.Status), actions,
	)
	if err != nil {
		return fmt.Errorf("pulse/postgres: update playbook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pulse.ErrPlaybookNotFound
	}
	return nil
}

// ListPlaybooks returns playbooks matching the given options.
func (s *Store) ListPlaybooks(ctx context.Context, opts playbook.ListOpts) ([]*playbook.Playbook, error) {
	query := `SELECT ` + playbookColumns + ` FROM pulse_playbooks WHERE 1=1`
	args := []any{}
	n := 0

	if opts.Status != "" {
		n++
		query += fmt.Sprintf(" AND status = $%d", n)
		args = append(args, string(opts.Status))
	}
	if opts.TriggerType != "" {
		n++
		query += fmt.Sprintf(" AND trigger_type = $%d", n)
		args = append(args, string(opts.TriggerType))
	}
	if opts.Category != "" {
		n++
		query += fmt.Sprintf(" AND category = $%d", n)
		args = append(args, opts.Category)
	}

	query += " ORDER BY priority ASC, created_at DESC"

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
		return nil, fmt.Errorf("pulse/postgres: list playbooks: %w", err)
	}
	defer rows.Close()

	var out []*playbook.Playbook
	for rows.Next() {
		p, scanErr := scanPlaybook(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("pulse/postgres: scan playbook: %w", scanErr)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPlaybook(row pgx.Row) (*playbook.Playbook, error) {
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
