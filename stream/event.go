// Package stream provides a real-time event broker for engine lifecycle
// events. It bridges the ext.Extension system to connected console
// clients via topic-based pub/sub, so the work queue can update live
// without polling.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Signal events.
	EventSignalReceived EventType = "signal.received"
	EventSignalMatched  EventType = "signal.matched"

	// Run lifecycle events.
	EventRunCreated     EventType = "run.created"
	EventRunApproved    EventType = "run.approved"
	EventRunSnoozed     EventType = "run.snoozed"
	EventRunDismissed   EventType = "run.dismissed"
	EventRunUndismissed EventType = "run.undismissed"
	EventRunEscalated   EventType = "run.escalated"
	EventRunCompleted   EventType = "run.completed"
	EventRunFailed      EventType = "run.failed"

	// Action events.
	EventActionStarted   EventType = "action.started"
	EventActionCompleted EventType = "action.completed"
	EventActionFailed    EventType = "action.failed"

	// Scheduler events.
	EventScheduleFired EventType = "schedule.fired"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// Topic is the entity channel this event was published on.
	Topic string `json:"topic"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data"`
}

// SignalEventData is the payload for signal intake events.
type SignalEventData struct {
	SignalID   string `json:"signal_id"`
	SignalType string `json:"signal_type"`
	CustomerID string `json:"customer_id"`
	PlaybookID string `json:"playbook_id,omitempty"`
	Amount     int64  `json:"amount,omitempty"`
	Currency   string `json:"currency,omitempty"`
}

// RunEventData is the payload for run lifecycle events.
type RunEventData struct {
	RunID          string `json:"run_id"`
	PlaybookID     string `json:"playbook_id"`
	CustomerID     string `json:"customer_id"`
	State          string `json:"state"`
	PotentialValue int64  `json:"potential_value,omitempty"`
	Reason         string `json:"reason,omitempty"`
	Error          string `json:"error,omitempty"`
	SnoozeUntil    string `json:"snooze_until,omitempty"`
}

// ActionEventData is the payload for per-action execution events.
type ActionEventData struct {
	RunID      string `json:"run_id"`
	ActionID   string `json:"action_id"`
	ActionType string `json:"action_type"`
	OrderIndex int    `json:"order_index"`
	ElapsedMs  int64  `json:"elapsed_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ScheduleEventData is the payload for scheduled trigger firings.
type ScheduleEventData struct {
	PlaybookID string `json:"playbook_id"`
	FiredAt    string `json:"fired_at"`
}
