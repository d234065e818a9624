// Package connector dispatches playbook actions to the outside world:
// payment retries, chat alerts, CRM tasks, emails, and raw webhooks.
// Each connector handles one action type; the Registry routes an action
// to its connector at execution time.
package connector

import (
	"context"

	pulse "github.com/PulseAIShared/pulse-engine"
	"github.com/PulseAIShared/pulse-engine/customer"
	"github.com/PulseAIShared/pulse-engine/playbook"
	"github.com/PulseAIShared/pulse-engine/run"
	"github.com/PulseAIShared/pulse-engine/signal"
)

// Request carries everything a connector needs to dispatch one action.
// Config fields arrive as authored; connectors render template
// variables themselves via BuildVars and Render. Signal is nil for
// scheduled and manual firings.
type Request struct {
	Run      *run.Run
	Action   *playbook.Action
	Customer *customer.Context
	Signal   *signal.Signal
}

// Connector dispatches one action type to an external system. Dispatch
// must be safe to call again for the same request: retries re-dispatch
// actions that may have partially applied.
type Connector interface {
	// Type returns the action type this connector handles.
	Type() playbook.ActionType

	// Dispatch performs the action's external effect. A nil return marks
	// the action executed; any error halts the run at this action.
	Dispatch(ctx context.Context, req *Request) error
}

// Registry routes actions to connectors by type.
type Registry struct {
	connectors map[playbook.ActionType]Connector
}

// NewRegistry creates an empty connector registry.
func NewRegistry() *Registry {
	return &Registry{connectors: make(map[playbook.ActionType]Connector)}
}

// Register adds a connector. A later registration for the same type
// replaces the earlier one.
func (r *Registry) Register(c Connector) {
	r.connectors[c.Type()] = c
}

// Get returns the connector for the given action type, or false when
// none is registered.
func (r *Registry) Get(actionType playbook.ActionType) (Connector, bool) {
	c, ok := r.connectors[actionType]
	return c, ok
}

// Dispatch routes the request to the connector registered for its
// action type.
func (r *Registry) Dispatch(ctx context.Context, req *Request) error {
	c, ok := r.connectors[req.Action.Type]
	if !ok {
		return pulse.ErrNoConnector
	}
	return c.Dispatch(ctx, req)
}
