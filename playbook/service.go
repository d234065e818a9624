package playbook

import (
	"context"
	"fmt"
	"log/slog"

	pulse "github.com/PulseAIShared/pulse-engine"
	"github.com/PulseAIShared/pulse-engine/id"
)

// ScheduleParser validates a cron expression. The sched package provides
// the implementation; it is injected here to keep this package free of the
// scheduler dependency.
type ScheduleParser func(expr string) error

// Service exposes the operator-facing playbook operations: create, update,
// activate, pause, archive, get, list. All validation is synchronous here;
// execution never discovers a malformed config.
type Service struct {
	store         Store
	parseSchedule ScheduleParser
	logger        *slog.Logger
}

// NewService creates a playbook Service. parseSchedule may be nil when
// scheduled playbooks are not enabled.
func NewService(store Store, parseSchedule ScheduleParser, logger *slog.Logger) *Service {
	return &Service{store: store, parseSchedule: parseSchedule, logger: logger}
}

// Create validates and persists a new playbook in Draft status. Action IDs
// are assigned here for any action that arrives without one.
func (s *Service) Create(ctx context.Context, p *Playbook) (*Playbook, error) {
	p.Entity = pulse.NewEntity()
	p.ID = id.NewPlaybookID()
	if p.Status == "" {
		p.Status = StatusDraft
	}
	if p.MaxConcurrentRuns == 0 {
		p.MaxConcurrentRuns = 1
	}
	for i := range p.Actions {
		if p.Actions[i].ID.IsNil() {
			p.Actions[i].ID = id.NewActionID()
		}
	}

	if err := s.validateSave(p); err != nil {
		return nil, err
	}
	// A playbook may be created directly in Active status; that takes the
	// stricter activation validation.
	if p.Status == StatusActive {
		if err := p.ValidateForActivation(); err != nil {
			return nil, err
		}
	}

	if err := s.store.CreatePlaybook(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Info("playbook created",
		slog.String("playbook_id", p.ID.String()),
		slog.String("name", p.Name),
		slog.String("status", string(p.Status)),
	)
	return p, nil
}

// Update validates and persists changes to an existing playbook. Archived
// playbooks cannot be edited.
func (s *Service) Update(ctx context.Context, p *Playbook) (*Playbook, error) {
	current, err := s.store.GetPlaybook(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if current.Status == StatusArchived {
		return nil, pulse.ErrPlaybookArchived
	}

	for i := range p.Actions {
		if p.Actions[i].ID.IsNil() {
			p.Actions[i].ID = id.NewActionID()
		}
	}

	if err := s.validateSave(p); err != nil {
		return nil, err
	}
	if p.Status == StatusActive {
		if err := p.ValidateForActivation(); err != nil {
			return nil, err
		}
	}

	p.CreatedAt = current.CreatedAt
	p.Touch()
	if err := s.store.UpdatePlaybook(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Activate moves a playbook to Active after checking every action's
// required config fields.
func (s *Service) Activate(ctx context.Context, playbookID id.PlaybookID) (*Playbook, error) {
	p, err := s.store.GetPlaybook(ctx, playbookID)
	if err != nil {
		return nil, err
	}
	if p.Status == StatusArchived {
		return nil, pulse.ErrPlaybookArchived
	}
	if p.Status == StatusActive {
		return p, nil
	}

	if err := p.ValidateForActivation(); err != nil {
		return nil, err
	}

	p.Status = StatusActive
	p.Touch()
	if err := s.store.UpdatePlaybook(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Info("playbook activated", slog.String("playbook_id", p.ID.String()))
	return p, nil
}

// Pause temporarily removes an Active playbook from matching.
func (s *Service) Pause(ctx context.Context, playbookID id.PlaybookID) (*Playbook, error) {
	p, err := s.store.GetPlaybook(ctx, playbookID)
	if err != nil {
		return nil, err
	}
	if p.Status == StatusArchived {
		return nil, pulse.ErrPlaybookArchived
	}
	if p.Status == StatusPaused {
		return p, nil
	}

	p.Status = StatusPaused
	p.Touch()
	if err := s.store.UpdatePlaybook(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Info("playbook paused", slog.String("playbook_id", p.ID.String()))
	return p, nil
}

// Archive retires a playbook. Archival is terminal; existing runs are
// unaffected but no new runs will be admitted.
func (s *Service) Archive(ctx context.Context, playbookID id.PlaybookID) (*Playbook, error) {
	p, err := s.store.GetPlaybook(ctx, playbookID)
	if err != nil {
		return nil, err
	}
	if p.Status == StatusArchived {
		return p, nil
	}

	p.Status = StatusArchived
	p.Touch()
	if err := s.store.UpdatePlaybook(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Info("playbook archived", slog.String("playbook_id", p.ID.String()))
	return p, nil
}

// Get retrieves a playbook by ID.
func (s *Service) Get(ctx context.Context, playbookID id.PlaybookID) (*Playbook, error) {
	return s.store.GetPlaybook(ctx, playbookID)
}

// List returns playbooks matching the given options.
func (s *Service) List(ctx context.Context, opts ListOpts) ([]*Playbook, error) {
	return s.store.ListPlaybooks(ctx, opts)
}

// validateSave runs the structural checks applied on every save, including
// cron schedule syntax for scheduled playbooks.
func (s *Service) validateSave(p *Playbook) error {
	if err := p.ValidateStructure(); err != nil {
		return err
	}
	if p.TriggerType == TriggerScheduled && s.parseSchedule != nil {
		if err := s.parseSchedule(p.Schedule); err != nil {
			return fmt.Errorf("playbook: invalid schedule %q: %w", p.Schedule, err)
		}
	}
	return nil
}
