package playbook

import (
	"context"

	"github.com/PulseAIShared/pulse-engine/id"
)

// ListOpts controls pagination and filtering for playbook list queries.
type ListOpts struct {
	// Limit is the maximum number of playbooks to return. Zero means no limit.
	Limit int
	// Offset is the number of playbooks to skip.
	Offset int
	// Status filters by lifecycle status. Empty means all statuses.
	Status Status
	// TriggerType filters by trigger type. Empty means all trigger types.
	TriggerType TriggerType
	// Category filters by category. Empty means all categories.
	Category string
}

// Store defines the persistence contract for playbooks.
type Store interface {
	// CreatePlaybook persists a new playbook.
	CreatePlaybook(ctx context.Context, p *Playbook) error

	// GetPlaybook retrieves a playbook by ID.
	GetPlaybook(ctx context.Context, playbookID id.PlaybookID) (*Playbook, error)

	// UpdatePlaybook persists changes to an existing playbook.
	UpdatePlaybook(ctx context.Context, p *Playbook) error

	// ListPlaybooks returns playbooks matching the given options.
	ListPlaybooks(ctx context.Context, opts ListOpts) ([]*Playbook, error)
}
