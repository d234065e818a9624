package workqueue_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	pulse "github.com/PulseAIShared/pulse-engine"
	"github.com/PulseAIShared/pulse-engine/customer"
	"github.com/PulseAIShared/pulse-engine/id"
	"github.com/PulseAIShared/pulse-engine/playbook"
	"github.com/PulseAIShared/pulse-engine/run"
	"github.com/PulseAIShared/pulse-engine/store/memory"
	"github.com/PulseAIShared/pulse-engine/workqueue"
)

type world struct {
	store     *memory.Store
	customers *customer.Static
	projector *workqueue.Projector
	playbook  *playbook.Playbook
}

func setupWorld(t *testing.T) *world {
	t.Helper()

	st := memory.New()
	customers := customer.NewStatic()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	pb := &playbook.Playbook{
		Entity:            pulse.NewEntity(),
		ID:                id.NewPlaybookID(),
		Name:              "Recover failed payment",
		Category:          "billing",
		Status:            playbook.StatusActive,
		TriggerType:       playbook.TriggerSignal,
		Trigger:           playbook.Trigger{SignalType: "payment_failure"},
		ExecutionMode:     playbook.ExecApproval,
		MaxConcurrentRuns: 5,
		Actions: []playbook.Action{
			{
				ID:         id.NewActionID(),
				Type:       playbook.ActionSlackAlert,
				OrderIndex: 0,
				Config: &playbook.SlackAlertConfig{
					WebhookURL: "https://hooks.example.com/T0/B0",
					Channel:    "#churn",
					Message:    "heads up",
				},
			},
		},
	}
	if err := st.CreatePlaybook(context.Background(), pb); err != nil {
		t.Fatalf("CreatePlaybook: %v", err)
	}

	return &world{
		store:     st,
		customers: customers,
		projector: workqueue.NewProjector(st, st, customers, workqueue.DefaultThresholds(), logger),
		playbook:  pb,
	}
}

// addRun seeds a run and its customer. age shifts CreatedAt into the past.
func (w *world) addRun(t *testing.T, name string, state run.State, value int64, age time.Duration) *run.Run {
	t.Helper()

	custID := id.NewCustomerID()
	w.customers.Put(&customer.Context{
		ID:             custID,
		Name:           name,
		PotentialValue: value,
		Currency:       "USD",
	})

	r := &run.Run{
		Entity:         pulse.NewEntity(),
		ID:             id.NewRunID(),
		PlaybookID:     w.playbook.ID,
		CustomerID:     custID,
		State:          state,
		PotentialValue: value,
		Currency:       "USD",
	}
	r.CreatedAt = time.Now().UTC().Add(-age)
	r.UpdatedAt = r.CreatedAt
	if err := w.store.CreateRun(context.Background(), r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	return r
}

func TestOpenApprovals_PriorityOrdering(t *testing.T) {
	w := setupWorld(t)

	low := w.addRun(t, "Smallco", run.StatePending, 10000, time.Hour)
	high := w.addRun(t, "Bigco", run.StatePending, 900000, time.Hour)
	medium := w.addRun(t, "Midco", run.StatePending, 150000, time.Hour)

	items, err := w.projector.OpenApprovals(context.Background(), workqueue.ListOpts{})
	if err != nil {
		t.Fatalf("OpenApprovals: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("got %d items, want 3", len(items))
	}

	wantOrder := []string{high.ID.String(), medium.ID.String(), low.ID.String()}
	for n, want := range wantOrder {
		if items[n].Run.ID.String() != want {
			t.Errorf("items[%d] = %s, want %s", n, items[n].Run.ID, want)
		}
	}

	if items[0].Priority != workqueue.PriorityHigh {
		t.Errorf("top priority = %s, want high", items[0].Priority)
	}
	if items[0].PlaybookName != "Recover failed payment" {
		t.Errorf("playbook name = %q", items[0].PlaybookName)
	}
	if items[0].CustomerName != "Bigco" {
		t.Errorf("customer name = %q", items[0].CustomerName)
	}
}

func TestOpenApprovals_AgePromotes(t *testing.T) {
	w := setupWorld(t)

	// Same value; the one waiting three days outranks the fresh one.
	fresh := w.addRun(t, "Fresh", run.StatePending, 10000, time.Hour)
	old := w.addRun(t, "Stale", run.StatePending, 10000, 80*time.Hour)

	items, err := w.projector.OpenApprovals(context.Background(), workqueue.ListOpts{})
	if err != nil {
		t.Fatalf("OpenApprovals: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].Run.ID.String() != old.ID.String() {
		t.Errorf("first item = %s, want the older run %s", items[0].Run.ID, old.ID)
	}
	if items[0].Priority != workqueue.PriorityHigh {
		t.Errorf("old run priority = %s, want high", items[0].Priority)
	}
	if items[1].Run.ID.String() != fresh.ID.String() || items[1].Priority != workqueue.PriorityLow {
		t.Errorf("fresh run = %s priority %s, want low", items[1].Run.ID, items[1].Priority)
	}
}

func TestOpenApprovals_SnoozedHandling(t *testing.T) {
	w := setupWorld(t)

	parked := w.addRun(t, "Parked", run.StateSnoozed, 10000, time.Hour)
	future := time.Now().UTC().Add(time.Hour)
	parked.SnoozeUntil = &future
	if err := w.store.UpdateRun(context.Background(), parked); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	due := w.addRun(t, "Due", run.StateSnoozed, 10000, 3*time.Hour)
	past := time.Now().UTC().Add(-time.Minute)
	due.SnoozeUntil = &past
	if err := w.store.UpdateRun(context.Background(), due); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	items, err := w.projector.OpenApprovals(context.Background(), workqueue.ListOpts{})
	if err != nil {
		t.Fatalf("OpenApprovals: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1 (only the elapsed snooze)", len(items))
	}
	if items[0].Run.ID.String() != due.ID.String() {
		t.Errorf("item = %s, want %s", items[0].Run.ID, due.ID)
	}
}

func TestOpenApprovals_SearchAndPagination(t *testing.T) {
	w := setupWorld(t)

	w.addRun(t, "Acme Corp", run.StatePending, 10000, time.Hour)
	w.addRun(t, "Globex", run.StatePending, 10000, time.Hour)
	w.addRun(t, "Acme Industries", run.StatePending, 10000, time.Hour)

	items, err := w.projector.OpenApprovals(context.Background(), workqueue.ListOpts{Search: "acme"})
	if err != nil {
		t.Fatalf("OpenApprovals: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("search matched %d items, want 2", len(items))
	}

	items, err = w.projector.OpenApprovals(context.Background(), workqueue.ListOpts{Search: "acme", Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("OpenApprovals: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("paginated to %d items, want 1", len(items))
	}
}

func TestOpenApprovals_SegmentFilter(t *testing.T) {
	w := setupWorld(t)

	segment := id.NewSegmentID()

	inSeg := w.addRun(t, "Enterprise Co", run.StatePending, 10000, time.Hour)
	w.customers.Put(&customer.Context{
		ID:         inSeg.CustomerID,
		Name:       "Enterprise Co",
		SegmentIDs: []id.SegmentID{segment},
	})
	w.addRun(t, "SMB Co", run.StatePending, 10000, time.Hour)

	items, err := w.projector.OpenApprovals(context.Background(), workqueue.ListOpts{SegmentID: segment})
	if err != nil {
		t.Fatalf("OpenApprovals: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	if items[0].Run.ID.String() != inSeg.ID.String() {
		t.Errorf("item = %s, want %s", items[0].Run.ID, inSeg.ID)
	}
}

func TestFailedActions_OperationsPerStatus(t *testing.T) {
	w := setupWorld(t)
	actionID := w.playbook.Actions[0].ID
	now := time.Now().UTC()

	failed := w.addRun(t, "Failed Co", run.StateFailed, 10000, time.Hour)
	failed.FailedActionID = actionID
	failed.ErrorDetails = "webhook returned 500"
	if err := w.store.UpdateRun(context.Background(), failed); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	escalated := w.addRun(t, "Escalated Co", run.StateFailed, 10000, time.Hour)
	escalated.FailedActionID = actionID
	escalated.EscalatedAt = &now
	escalated.EscalationReason = "second failure this week"
	if err := w.store.UpdateRun(context.Background(), escalated); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	dismissed := w.addRun(t, "Dismissed Co", run.StateDismissed, 10000, time.Hour)
	dismissed.PriorState = run.StateFailed
	dismissed.FailedActionID = actionID
	dismissed.DismissalReason = "customer churned anyway"
	dismissed.DismissedAt = &now
	if err := w.store.UpdateRun(context.Background(), dismissed); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	// A run dismissed while pending never shows up in triage.
	closedPending := w.addRun(t, "Closed Co", run.StateDismissed, 10000, time.Hour)
	closedPending.PriorState = run.StatePending
	if err := w.store.UpdateRun(context.Background(), closedPending); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	items, err := w.projector.FailedActions(context.Background(), workqueue.ListOpts{})
	if err != nil {
		t.Fatalf("FailedActions: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("got %d items, want 3", len(items))
	}

	byRun := make(map[string]*workqueue.FailedItem, len(items))
	for _, item := range items {
		byRun[item.Run.ID.String()] = item
	}

	wantOps := map[string][]workqueue.Operation{
		failed.ID.String():    {workqueue.OpRetryAction, workqueue.OpRetryAll, workqueue.OpEscalate, workqueue.OpDismiss},
		escalated.ID.String(): {workqueue.OpRetryAction, workqueue.OpRetryAll, workqueue.OpDismiss},
		dismissed.ID.String(): {workqueue.OpUndismiss},
	}
	for runID, want := range wantOps {
		item, ok := byRun[runID]
		if !ok {
			t.Errorf("missing item for run %s", runID)
			continue
		}
		if len(item.Operations) != len(want) {
			t.Errorf("run %s operations = %v, want %v", runID, item.Operations, want)
			continue
		}
		for n := range want {
			if item.Operations[n] != want[n] {
				t.Errorf("run %s operations = %v, want %v", runID, item.Operations, want)
				break
			}
		}
	}

	got := byRun[failed.ID.String()]
	if got.ActionType != playbook.ActionSlackAlert {
		t.Errorf("action type = %s, want slack_alert", got.ActionType)
	}
	if got.ErrorDetails != "webhook returned 500" {
		t.Errorf("error details = %q", got.ErrorDetails)
	}
}

func TestFailedActions_StatusFilter(t *testing.T) {
	w := setupWorld(t)
	now := time.Now().UTC()

	w.addRun(t, "Plain Failed", run.StateFailed, 0, time.Hour)

	escalated := w.addRun(t, "Escalated", run.StateFailed, 0, time.Hour)
	escalated.EscalatedAt = &now
	if err := w.store.UpdateRun(context.Background(), escalated); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	for _, tt := range []struct {
		status string
		want   int
	}{
		{"", 2},
		{"failed", 1},
		{"escalated", 1},
		{"dismissed", 0},
	} {
		items, err := w.projector.FailedActions(context.Background(), workqueue.ListOpts{Status: tt.status})
		if err != nil {
			t.Fatalf("FailedActions(%q): %v", tt.status, err)
		}
		if len(items) != tt.want {
			t.Errorf("status %q matched %d items, want %d", tt.status, len(items), tt.want)
		}
	}
}

func TestFailedActions_SearchByError(t *testing.T) {
	w := setupWorld(t)

	r := w.addRun(t, "Acme", run.StateFailed, 0, time.Hour)
	r.ErrorDetails = "stripe retry: card declined"
	if err := w.store.UpdateRun(context.Background(), r); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}
	w.addRun(t, "Globex", run.StateFailed, 0, time.Hour)

	items, err := w.projector.FailedActions(context.Background(), workqueue.ListOpts{Search: "card declined"})
	if err != nil {
		t.Fatalf("FailedActions: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	if items[0].Run.ID.String() != r.ID.String() {
		t.Errorf("item = %s, want %s", items[0].Run.ID, r.ID)
	}
}
