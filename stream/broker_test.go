package stream_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	pulse "github.com/PulseAIShared/pulse-engine"
	"github.com/PulseAIShared/pulse-engine/id"
	"github.com/PulseAIShared/pulse-engine/playbook"
	"github.com/PulseAIShared/pulse-engine/run"
	"github.com/PulseAIShared/pulse-engine/signal"
	"github.com/PulseAIShared/pulse-engine/stream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRun() *run.Run {
	return &run.Run{
		Entity:         pulse.NewEntity(),
		ID:             id.NewRunID(),
		PlaybookID:     id.NewPlaybookID(),
		CustomerID:     id.NewCustomerID(),
		State:          run.StateExecuting,
		PotentialValue: 120000,
	}
}

// recv pulls one event off the subscriber or fails the test.
func recv(t *testing.T, sub *stream.Subscriber) *stream.Event {
	t.Helper()
	select {
	case evt := <-sub.C():
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func assertNoEvent(t *testing.T, sub *stream.Subscriber) {
	t.Helper()
	select {
	case evt := <-sub.C():
		t.Fatalf("unexpected event %s on %s", evt.Type, evt.Topic)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroker_FirehoseReceivesEverything(t *testing.T) {
	b := stream.NewBroker(testLogger())
	sub := b.Subscribe("console-1", stream.TopicFirehose)

	r := testRun()
	if err := b.OnRunCreated(context.Background(), r); err != nil {
		t.Fatalf("OnRunCreated: %v", err)
	}
	if err := b.OnScheduleFired(context.Background(), &playbook.Playbook{ID: id.NewPlaybookID()}, time.Now().UTC()); err != nil {
		t.Fatalf("OnScheduleFired: %v", err)
	}

	if evt := recv(t, sub); evt.Type != stream.EventRunCreated {
		t.Errorf("first event = %s, want run.created", evt.Type)
	}
	if evt := recv(t, sub); evt.Type != stream.EventScheduleFired {
		t.Errorf("second event = %s, want schedule.fired", evt.Type)
	}
}

func TestBroker_RunTopicRouting(t *testing.T) {
	b := stream.NewBroker(testLogger())
	r := testRun()
	other := testRun()

	mine := b.Subscribe("mine", stream.RunTopic(r.ID.String()))
	theirs := b.Subscribe("theirs", stream.RunTopic(other.ID.String()))

	if err := b.OnRunFailed(context.Background(), r); err != nil {
		t.Fatalf("OnRunFailed: %v", err)
	}

	evt := recv(t, mine)
	if evt.Type != stream.EventRunFailed {
		t.Errorf("event type = %s", evt.Type)
	}
	var data stream.RunEventData
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if data.RunID != r.ID.String() {
		t.Errorf("payload run_id = %s, want %s", data.RunID, r.ID)
	}

	assertNoEvent(t, theirs)
}

func TestBroker_PlaybookAndCustomerTopics(t *testing.T) {
	b := stream.NewBroker(testLogger())
	r := testRun()

	byPlaybook := b.Subscribe("by-playbook", stream.PlaybookTopic(r.PlaybookID.String()))
	byCustomer := b.Subscribe("by-customer", stream.CustomerTopic(r.CustomerID.String()))

	if err := b.OnRunCompleted(context.Background(), r); err != nil {
		t.Fatalf("OnRunCompleted: %v", err)
	}

	if evt := recv(t, byPlaybook); evt.Type != stream.EventRunCompleted {
		t.Errorf("playbook subscriber got %s", evt.Type)
	}
	if evt := recv(t, byCustomer); evt.Type != stream.EventRunCompleted {
		t.Errorf("customer subscriber got %s", evt.Type)
	}
}

func TestBroker_DeduplicatesAcrossTopics(t *testing.T) {
	b := stream.NewBroker(testLogger())
	r := testRun()

	// Subscribed to two topics the same event resolves to.
	sub := b.Subscribe("both", stream.TopicRuns, stream.RunTopic(r.ID.String()))

	if err := b.OnRunApproved(context.Background(), r); err != nil {
		t.Fatalf("OnRunApproved: %v", err)
	}

	recv(t, sub)
	assertNoEvent(t, sub)
}

func TestBroker_SignalEvents(t *testing.T) {
	b := stream.NewBroker(testLogger())
	sub := b.Subscribe("signals", stream.TopicSignals)

	sig := &signal.Signal{
		ID:         id.NewSignalID(),
		Type:       "payment_failure",
		CustomerID: id.NewCustomerID(),
		Amount:     9900,
		Currency:   "usd",
	}
	if err := b.OnSignalReceived(context.Background(), sig); err != nil {
		t.Fatalf("OnSignalReceived: %v", err)
	}

	evt := recv(t, sub)
	var data stream.SignalEventData
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if data.SignalType != "payment_failure" || data.Amount != 9900 {
		t.Errorf("payload = %+v", data)
	}
}

func TestBroker_ActionEventsCarryError(t *testing.T) {
	b := stream.NewBroker(testLogger())
	r := testRun()
	sub := b.Subscribe("watcher", stream.RunTopic(r.ID.String()))

	a := &playbook.Action{
		ID:         id.NewActionID(),
		Type:       playbook.ActionStripeRetry,
		OrderIndex: 2,
	}
	if err := b.OnActionFailed(context.Background(), r, a, errors.New("card declined")); err != nil {
		t.Fatalf("OnActionFailed: %v", err)
	}

	evt := recv(t, sub)
	var data stream.ActionEventData
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if data.Error != "card declined" || data.OrderIndex != 2 {
		t.Errorf("payload = %+v", data)
	}
}

func TestBroker_FullBufferDropsAndCounts(t *testing.T) {
	b := stream.NewBroker(testLogger(), stream.WithBufferSize(1))
	b.Subscribe("slow", stream.TopicRuns)
	r := testRun()

	// Second publish overflows the 1-slot buffer.
	if err := b.OnRunCreated(context.Background(), r); err != nil {
		t.Fatalf("OnRunCreated: %v", err)
	}
	if err := b.OnRunCompleted(context.Background(), r); err != nil {
		t.Fatalf("OnRunCompleted: %v", err)
	}

	stats := b.Stats()
	if stats.TotalPublished != 1 {
		t.Errorf("TotalPublished = %d, want 1", stats.TotalPublished)
	}
	if stats.TotalDropped != 1 {
		t.Errorf("TotalDropped = %d, want 1", stats.TotalDropped)
	}
}

func TestBroker_CreditsExhaustion(t *testing.T) {
	b := stream.NewBroker(testLogger(), stream.WithDefaultCredits(1))
	sub := b.Subscribe("metered", stream.TopicRuns)
	r := testRun()

	if err := b.OnRunCreated(context.Background(), r); err != nil {
		t.Fatalf("OnRunCreated: %v", err)
	}
	if err := b.OnRunCompleted(context.Background(), r); err != nil {
		t.Fatalf("OnRunCompleted: %v", err)
	}

	recv(t, sub)
	assertNoEvent(t, sub)

	// Replenishing credits resumes delivery.
	sub.AddCredits(10)
	if err := b.OnRunFailed(context.Background(), r); err != nil {
		t.Fatalf("OnRunFailed: %v", err)
	}
	if evt := recv(t, sub); evt.Type != stream.EventRunFailed {
		t.Errorf("event = %s, want run.failed", evt.Type)
	}
}

func TestBroker_Filter(t *testing.T) {
	b := stream.NewBroker(testLogger())
	sub := stream.NewSubscriber("picky", stream.DefaultBufferSize, stream.DefaultCredits)
	sub.SetFilter(func(evt *stream.Event) bool {
		return evt.Type == stream.EventRunFailed
	})
	b.Topics().Subscribe(stream.TopicRuns, sub)

	r := testRun()
	if err := b.OnRunCreated(context.Background(), r); err != nil {
		t.Fatalf("OnRunCreated: %v", err)
	}
	if err := b.OnRunFailed(context.Background(), r); err != nil {
		t.Fatalf("OnRunFailed: %v", err)
	}

	if evt := recv(t, sub); evt.Type != stream.EventRunFailed {
		t.Errorf("event = %s, want run.failed", evt.Type)
	}
	assertNoEvent(t, sub)
}

func TestBroker_RemoveSubscriberClosesChannel(t *testing.T) {
	b := stream.NewBroker(testLogger())
	sub := b.Subscribe("gone", stream.TopicFirehose)

	b.RemoveSubscriber("gone")

	if _, open := <-sub.C(); open {
		t.Error("channel should be closed")
	}
	if _, ok := b.GetSubscriber("gone"); ok {
		t.Error("subscriber should be removed")
	}
	if b.Stats().SubscriberCount != 0 {
		t.Errorf("SubscriberCount = %d, want 0", b.Stats().SubscriberCount)
	}
}

func TestBroker_ShutdownClosesAll(t *testing.T) {
	b := stream.NewBroker(testLogger())
	s1 := b.Subscribe("one", stream.TopicFirehose)
	s2 := b.Subscribe("two", stream.TopicRuns)

	if err := b.OnShutdown(context.Background()); err != nil {
		t.Fatalf("OnShutdown: %v", err)
	}

	if _, open := <-s1.C(); open {
		t.Error("subscriber one should be closed")
	}
	if _, open := <-s2.C(); open {
		t.Error("subscriber two should be closed")
	}
}

// ── Topics ──────────────────────────────────────────

func TestValidateTopic(t *testing.T) {
	valid := []string{
		stream.TopicSignals,
		stream.TopicRuns,
		stream.TopicFirehose,
		stream.RunTopic("run_abc"),
		stream.PlaybookTopic("pb_abc"),
		stream.CustomerTopic("cust_abc"),
	}
	for _, topic := range valid {
		if err := stream.ValidateTopic(topic); err != nil {
			t.Errorf("ValidateTopic(%q) = %v", topic, err)
		}
	}

	invalid := []string{"", "bogus", "job:abc", "run:"}
	for _, topic := range invalid {
		if err := stream.ValidateTopic(topic); err == nil {
			t.Errorf("ValidateTopic(%q) accepted", topic)
		}
	}
}

func TestParseTopicEntity(t *testing.T) {
	entityType, entityID := stream.ParseTopicEntity("run:run_abc123")
	if entityType != "run" || entityID != "run_abc123" {
		t.Errorf("got (%q, %q)", entityType, entityID)
	}
	if entityType, _ := stream.ParseTopicEntity("firehose"); entityType != "" {
		t.Errorf("global topic parsed as %q", entityType)
	}
}
