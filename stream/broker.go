package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PulseAIShared/pulse-engine/ext"
	"github.com/PulseAIShared/pulse-engine/playbook"
	"github.com/PulseAIShared/pulse-engine/run"
	"github.com/PulseAIShared/pulse-engine/signal"
)

// Compile-time interface checks.
var (
	_ ext.Extension       = (*Broker)(nil)
	_ ext.SignalReceived  = (*Broker)(nil)
	_ ext.SignalMatched   = (*Broker)(nil)
	_ ext.RunCreated      = (*Broker)(nil)
	_ ext.RunApproved     = (*Broker)(nil)
	_ ext.RunSnoozed      = (*Broker)(nil)
	_ ext.RunDismissed    = (*Broker)(nil)
	_ ext.RunUndismissed  = (*Broker)(nil)
	_ ext.RunEscalated    = (*Broker)(nil)
	_ ext.RunCompleted    = (*Broker)(nil)
	_ ext.RunFailed       = (*Broker)(nil)
	_ ext.ActionStarted   = (*Broker)(nil)
	_ ext.ActionCompleted = (*Broker)(nil)
	_ ext.ActionFailed    = (*Broker)(nil)
	_ ext.ScheduleFired   = (*Broker)(nil)
	_ ext.Shutdown        = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// DefaultCredits is the default initial credits for new subscribers.
const DefaultCredits int64 = 1000

// Broker is the real-time stream broker. It implements the extension
// lifecycle hooks and fans events out to console subscribers via
// topic-based pub/sub. Delivery is best-effort: a slow subscriber
// drops events rather than slowing the engine.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger

	// Subscriber management.
	subscribers sync.Map // subscriberID → *Subscriber

	// Metrics.
	totalPublished atomic.Int64
	totalDropped   atomic.Int64

	// Config.
	bufferSize     int
	defaultCredits int64
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// WithDefaultCredits sets the initial credits for new subscribers.
func WithDefaultCredits(credits int64) BrokerOption {
	return func(b *Broker) { b.defaultCredits = credits }
}

// NewBroker creates a new stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:         NewTopicRegistry(),
		logger:         logger,
		bufferSize:     DefaultBufferSize,
		defaultCredits: DefaultCredits,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Topics returns the topic registry for external transports.
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe creates a new subscriber on the given topics.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize, b.defaultCredits)
	b.subscribers.Store(subscriberID, sub)
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// SubscribeTo adds an existing subscriber to additional topics.
func (b *Broker) SubscribeTo(subscriberID string, topics ...string) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return
	}
	sub := val.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
}

// Unsubscribe removes a subscriber from specific topics.
func (b *Broker) Unsubscribe(subscriberID string, topics ...string) {
	for _, topic := range topics {
		b.topics.Unsubscribe(topic, subscriberID)
	}
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)
	if val, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		val.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
}

// GetSubscriber returns a subscriber by ID.
func (b *Broker) GetSubscriber(subscriberID string) (*Subscriber, bool) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return nil, false
	}
	return val.(*Subscriber), true //nolint:errcheck // sync.Map always stores *Subscriber
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	count := 0
	b.subscribers.Range(func(_, _ any) bool {
		count++
		return true
	})
	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
		TotalDropped:    b.totalDropped.Load(),
	}
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
	TotalDropped    int64 `json:"total_dropped"`
}

// publish creates an event and broadcasts it to all matching topics.
func (b *Broker) publish(evt *Event) {
	delivered, dropped := b.topics.Broadcast(resolveTopics(evt), evt)
	b.totalPublished.Add(int64(delivered))
	b.totalDropped.Add(int64(dropped))
}

// publishRun broadcasts a run lifecycle event to the run's own topic
// plus its playbook and customer topics.
func (b *Broker) publishRun(typ EventType, r *run.Run, data RunEventData) {
	evt := &Event{
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Topic:     RunTopic(r.ID.String()),
		Data:      mustMarshal(data),
	}
	topics := append(resolveTopics(evt),
		PlaybookTopic(r.PlaybookID.String()),
		CustomerTopic(r.CustomerID.String()),
	)
	delivered, dropped := b.topics.Broadcast(topics, evt)
	b.totalPublished.Add(int64(delivered))
	b.totalDropped.Add(int64(dropped))
}

func runData(r *run.Run) RunEventData {
	return RunEventData{
		RunID:          r.ID.String(),
		PlaybookID:     r.PlaybookID.String(),
		CustomerID:     r.CustomerID.String(),
		State:          string(r.State),
		PotentialValue: r.PotentialValue,
	}
}

// mustMarshal marshals data to JSON, panicking on error (programming error).
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("stream: marshal event data: " + err.Error())
	}
	return data
}

// ── Signal hooks ────────────────────────────────────

func (b *Broker) OnSignalReceived(_ context.Context, sig *signal.Signal) error {
	b.publish(&Event{
		Type:      EventSignalReceived,
		Timestamp: time.Now().UTC(),
		Topic:     CustomerTopic(sig.CustomerID.String()),
		Data: mustMarshal(SignalEventData{
			SignalID:   sig.ID.String(),
			SignalType: sig.Type,
			CustomerID: sig.CustomerID.String(),
			Amount:     sig.Amount,
			Currency:   sig.Currency,
		}),
	})
	return nil
}

func (b *Broker) OnSignalMatched(_ context.Context, sig *signal.Signal, p *playbook.Playbook) error {
	b.publish(&Event{
		Type:      EventSignalMatched,
		Timestamp: time.Now().UTC(),
		Topic:     PlaybookTopic(p.ID.String()),
		Data: mustMarshal(SignalEventData{
			SignalID:   sig.ID.String(),
			SignalType: sig.Type,
			CustomerID: sig.CustomerID.String(),
			PlaybookID: p.ID.String(),
		}),
	})
	return nil
}

// ── Run lifecycle hooks ─────────────────────────────

func (b *Broker) OnRunCreated(_ context.Context, r *run.Run) error {
	b.publishRun(EventRunCreated, r, runData(r))
	return nil
}

func (b *Broker) OnRunApproved(_ context.Context, r *run.Run) error {
	b.publishRun(EventRunApproved, r, runData(r))
	return nil
}

func (b *Broker) OnRunSnoozed(_ context.Context, r *run.Run) error {
	data := runData(r)
	if r.SnoozeUntil != nil {
		data.SnoozeUntil = r.SnoozeUntil.Format(time.RFC3339)
	}
	b.publishRun(EventRunSnoozed, r, data)
	return nil
}

func (b *Broker) OnRunDismissed(_ context.Context, r *run.Run) error {
	data := runData(r)
	data.Reason = r.DismissalReason
	b.publishRun(EventRunDismissed, r, data)
	return nil
}

func (b *Broker) OnRunUndismissed(_ context.Context, r *run.Run) error {
	b.publishRun(EventRunUndismissed, r, runData(r))
	return nil
}

func (b *Broker) OnRunEscalated(_ context.Context, r *run.Run) error {
	data := runData(r)
	data.Reason = r.EscalationReason
	b.publishRun(EventRunEscalated, r, data)
	return nil
}

func (b *Broker) OnRunCompleted(_ context.Context, r *run.Run) error {
	b.publishRun(EventRunCompleted, r, runData(r))
	return nil
}

func (b *Broker) OnRunFailed(_ context.Context, r *run.Run) error {
	data := runData(r)
	data.Error = r.ErrorDetails
	b.publishRun(EventRunFailed, r, data)
	return nil
}

// ── Action hooks ────────────────────────────────────

func (b *Broker) OnActionStarted(_ context.Context, r *run.Run, a *playbook.Action) error {
	b.publish(&Event{
		Type:      EventActionStarted,
		Timestamp: time.Now().UTC(),
		Topic:     RunTopic(r.ID.String()),
		Data: mustMarshal(ActionEventData{
			RunID:      r.ID.String(),
			ActionID:   a.ID.String(),
			ActionType: string(a.Type),
			OrderIndex: a.OrderIndex,
		}),
	})
	return nil
}

func (b *Broker) OnActionCompleted(_ context.Context, r *run.Run, a *playbook.Action, elapsed time.Duration) error {
	b.publish(&Event{
		Type:      EventActionCompleted,
		Timestamp: time.Now().UTC(),
		Topic:     RunTopic(r.ID.String()),
		Data: mustMarshal(ActionEventData{
			RunID:      r.ID.String(),
			ActionID:   a.ID.String(),
			ActionType: string(a.Type),
			OrderIndex: a.OrderIndex,
			ElapsedMs:  elapsed.Milliseconds(),
		}),
	})
	return nil
}

func (b *Broker) OnActionFailed(_ context.Context, r *run.Run, a *playbook.Action, actionErr error) error {
	b.publish(&Event{
		Type:      EventActionFailed,
		Timestamp: time.Now().UTC(),
		Topic:     RunTopic(r.ID.String()),
		Data: mustMarshal(ActionEventData{
			RunID:      r.ID.String(),
			ActionID:   a.ID.String(),
			ActionType: string(a.Type),
			OrderIndex: a.OrderIndex,
			Error:      actionErr.Error(),
		}),
	})
	return nil
}

// ── Scheduler hooks ─────────────────────────────────

func (b *Broker) OnScheduleFired(_ context.Context, p *playbook.Playbook, at time.Time) error {
	b.publish(&Event{
		Type:      EventScheduleFired,
		Timestamp: time.Now().UTC(),
		Data: mustMarshal(ScheduleEventData{
			PlaybookID: p.ID.String(),
			FiredAt:    at.Format(time.RFC3339),
		}),
	})
	return nil
}

// ── Shutdown ────────────────────────────────────────

func (b *Broker) OnShutdown(_ context.Context) error {
	b.subscribers.Range(func(key, value any) bool {
		sub := value.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
		sub.Close()
		b.subscribers.Delete(key)
		return true
	})
	b.logger.Info("stream broker shut down")
	return nil
}
