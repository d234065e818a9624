package playbook

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the shared struct validator. validator.Validate is safe for
// concurrent use and caches struct metadata, so one instance serves the
// whole package.
var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateStructure checks the playbook's shape: struct tags, trigger
// completeness for its trigger type, and action ordering. It is enforced
// on every save. Per-action required config fields are checked separately
// at activation time by ValidateForActivation.
func (p *Playbook) ValidateStructure() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("playbook: invalid: %w", err)
	}

	switch p.TriggerType {
	case TriggerSignal:
		if p.Trigger.SignalType == "" {
			return fmt.Errorf("playbook: signal trigger requires a signal type")
		}
	case TriggerScheduled:
		if p.Schedule == "" {
			return fmt.Errorf("playbook: scheduled trigger requires a cron schedule")
		}
	case TriggerManual:
		// No trigger predicate needed.
	}

	return p.validateActions()
}

// validateActions enforces unique, contiguous order indexes starting at
// zero, and that every action carries a config matching its type tag.
func (p *Playbook) validateActions() error {
	seen := make(map[int]bool, len(p.Actions))
	for i := range p.Actions {
		a := &p.Actions[i]

		if a.Config == nil {
			return fmt.Errorf("playbook: action %d (%s) has no config", a.OrderIndex, a.Type)
		}
		if a.Config.Type() != a.Type {
			return fmt.Errorf("playbook: action %d config type %s does not match tag %s",
				a.OrderIndex, a.Config.Type(), a.Type)
		}

		if a.OrderIndex < 0 || a.OrderIndex >= len(p.Actions) {
			return fmt.Errorf("playbook: action order index %d out of range [0,%d)",
				a.OrderIndex, len(p.Actions))
		}
		if seen[a.OrderIndex] {
			return fmt.Errorf("playbook: duplicate action order index %d", a.OrderIndex)
		}
		seen[a.OrderIndex] = true
	}
	return nil
}

// ValidateForActivation checks everything ValidateStructure does plus the
// per-type required config fields. A playbook cannot become Active unless
// this passes; execution never re-validates.
func (p *Playbook) ValidateForActivation() error {
	if err := p.ValidateStructure(); err != nil {
		return err
	}
	for i := range p.Actions {
		a := &p.Actions[i]
		if err := a.Config.Validate(); err != nil {
			return fmt.Errorf("playbook: action %d: %w", a.OrderIndex, err)
		}
	}
	return nil
}
