package pulse

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("pulse: no store configured")
	ErrStoreClosed     = errors.New("pulse: store closed")
	ErrMigrationFailed = errors.New("pulse: migration failed")

	// Not found errors.
	ErrPlaybookNotFound = errors.New("pulse: playbook not found")
	ErrRunNotFound      = errors.New("pulse: run not found")
	ErrSignalNotFound   = errors.New("pulse: signal not found")
	ErrCustomerNotFound = errors.New("pulse: customer not found")
	ErrActionNotFound   = errors.New("pulse: action not found")
	ErrWorkerNotFound   = errors.New("pulse: worker not found")

	// Conflict errors.
	ErrPlaybookExists = errors.New("pulse: playbook already exists")
	ErrRunExists      = errors.New("pulse: run already exists")
	ErrOpenRunExists  = errors.New("pulse: open run already exists for playbook and customer")

	// ErrStaleRun is returned when an update loses a first-writer-wins
	// race against a concurrent mutation of the same run. Callers must
	// re-fetch the run and re-apply their operation against current state.
	ErrStaleRun = errors.New("pulse: run was modified concurrently")

	// ErrNoConnector is returned when a run's action names a type no
	// registered connector handles.
	ErrNoConnector = errors.New("pulse: no connector registered for action type")

	// State errors.
	ErrInvalidTransition = errors.New("pulse: invalid run state transition")
	ErrPlaybookInactive  = errors.New("pulse: playbook is not active")
	ErrPlaybookArchived  = errors.New("pulse: playbook is archived")

	// Cluster errors.
	ErrLeadershipLost = errors.New("pulse: leadership lost")
	ErrNotLeader      = errors.New("pulse: not the leader")
)
