package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	pulse "github.com/PulseAIShared/pulse-engine"
	"github.com/PulseAIShared/pulse-engine/audit"
	"github.com/PulseAIShared/pulse-engine/cluster"
	"github.com/PulseAIShared/pulse-engine/id"
	"github.com/PulseAIShared/pulse-engine/playbook"
	"github.com/PulseAIShared/pulse-engine/run"
	"github.com/PulseAIShared/pulse-engine/signal"
)

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestLifecycle(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"Migrate", func() error { return s.Migrate(ctx) }},
		{"Ping", func() error { return s.Ping(ctx) }},
		{"Close", func() error { return s.Close() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err != nil {
				t.Fatalf("%s returned error: %v", tt.name, err)
			}
		})
	}
}

// ──────────────────────────────────────────────────
// Signal Store tests
// ──────────────────────────────────────────────────

func newSignal(sigType string, custID id.CustomerID) *signal.Signal {
	return &signal.Signal{
		Entity:     pulse.NewEntity(),
		ID:         id.NewSignalID(),
		Type:       sigType,
		CustomerID: custID,
		Currency:   "USD",
		ReceivedAt: time.Now().UTC(),
	}
}

func TestSignalCreateAndGet(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	sig := newSignal("payment_failure", id.NewCustomerID())
	if err := s.CreateSignal(ctx, sig); err != nil {
		t.Fatalf("CreateSignal: %v", err)
	}

	got, err := s.GetSignal(ctx, sig.ID)
	if err != nil {
		t.Fatalf("GetSignal: %v", err)
	}
	if got.Type != "payment_failure" {
		t.Errorf("type = %q", got.Type)
	}

	if _, err := s.GetSignal(ctx, id.NewSignalID()); !errors.Is(err, pulse.ErrSignalNotFound) {
		t.Errorf("missing signal error = %v", err)
	}
}

func TestSignalListFilters(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	custID := id.NewCustomerID()
	for _, sigType := range []string{"payment_failure", "usage_drop", "payment_failure"} {
		if err := s.CreateSignal(ctx, newSignal(sigType, custID)); err != nil {
			t.Fatalf("CreateSignal: %v", err)
		}
	}
	if err := s.CreateSignal(ctx, newSignal("payment_failure", id.NewCustomerID())); err != nil {
		t.Fatalf("CreateSignal: %v", err)
	}

	byType, err := s.ListSignals(ctx, signal.ListOpts{Type: "payment_failure"})
	if err != nil {
		t.Fatalf("ListSignals: %v", err)
	}
	if len(byType) != 3 {
		t.Errorf("by type: got %d, want 3", len(byType))
	}

	byCustomer, err := s.ListSignals(ctx, signal.ListOpts{CustomerID: custID})
	if err != nil {
		t.Fatalf("ListSignals: %v", err)
	}
	if len(byCustomer) != 3 {
		t.Errorf("by customer: got %d, want 3", len(byCustomer))
	}

	limited, err := s.ListSignals(ctx, signal.ListOpts{Limit: 2})
	if err != nil {
		t.Fatalf("ListSignals: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limited: got %d, want 2", len(limited))
	}
}

// ──────────────────────────────────────────────────
// Playbook Store tests
// ──────────────────────────────────────────────────

func newPlaybook(name string, status playbook.Status) *playbook.Playbook {
	return &playbook.Playbook{
		Entity:            pulse.NewEntity(),
		ID:                id.NewPlaybookID(),
		Name:              name,
		Status:            status,
		TriggerType:       playbook.TriggerSignal,
		Trigger:           playbook.Trigger{SignalType: "payment_failure"},
		ExecutionMode:     playbook.ExecApproval,
		MaxConcurrentRuns: 1,
	}
}

func TestPlaybookCRUD(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	p := newPlaybook("Recover failed payment", playbook.StatusDraft)
	if err := s.CreatePlaybook(ctx, p); err != nil {
		t.Fatalf("CreatePlaybook: %v", err)
	}
	if err := s.CreatePlaybook(ctx, p); !errors.Is(err, pulse.ErrPlaybookExists) {
		t.Fatalf("duplicate create error = %v", err)
	}

	got, err := s.GetPlaybook(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPlaybook: %v", err)
	}
	if got.Name != p.Name {
		t.Errorf("name = %q", got.Name)
	}

	got.Status = playbook.StatusActive
	if err := s.UpdatePlaybook(ctx, got); err != nil {
		t.Fatalf("UpdatePlaybook: %v", err)
	}
	again, err := s.GetPlaybook(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPlaybook: %v", err)
	}
	if again.Status != playbook.StatusActive {
		t.Errorf("status = %q", again.Status)
	}

	if _, err := s.GetPlaybook(ctx, id.NewPlaybookID()); !errors.Is(err, pulse.ErrPlaybookNotFound) {
		t.Errorf("missing playbook error = %v", err)
	}
}

func TestPlaybookCopiesAreIsolated(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	p := newPlaybook("Win back inactive accounts", playbook.StatusActive)
	if err := s.CreatePlaybook(ctx, p); err != nil {
		t.Fatalf("CreatePlaybook: %v", err)
	}

	// Mutating the caller's struct after the write must not leak into
	// the store.
	p.Name = "mutated"
	p.Trigger.SignalType = "mutated"

	got, err := s.GetPlaybook(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPlaybook: %v", err)
	}
	if got.Name != "Win back inactive accounts" {
		t.Errorf("name leaked mutation: %q", got.Name)
	}
	if got.Trigger.SignalType != "payment_failure" {
		t.Errorf("trigger leaked mutation: %q", got.Trigger.SignalType)
	}
}

func TestPlaybookListByStatus(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	for _, status := range []playbook.Status{playbook.StatusDraft, playbook.StatusActive, playbook.StatusActive} {
		if err := s.CreatePlaybook(ctx, newPlaybook("p", status)); err != nil {
			t.Fatalf("CreatePlaybook: %v", err)
		}
	}

	active, err := s.ListPlaybooks(ctx, playbook.ListOpts{Status: playbook.StatusActive})
	if err != nil {
		t.Fatalf("ListPlaybooks: %v", err)
	}
	if len(active) != 2 {
		t.Errorf("active: got %d, want 2", len(active))
	}
}

// ──────────────────────────────────────────────────
// Run Store tests
// ──────────────────────────────────────────────────

func newRun(playbookID id.PlaybookID, custID id.CustomerID, state run.State) *run.Run {
	return &run.Run{
		Entity:     pulse.NewEntity(),
		ID:         id.NewRunID(),
		PlaybookID: playbookID,
		CustomerID: custID,
		SignalID:   id.NewSignalID(),
		State:      state,
	}
}

func TestRunCreateAndGet(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	r := newRun(id.NewPlaybookID(), id.NewCustomerID(), run.StatePending)
	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := s.CreateRun(ctx, r); !errors.Is(err, pulse.ErrRunExists) {
		t.Fatalf("duplicate create error = %v", err)
	}

	got, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.State != run.StatePending {
		t.Errorf("state = %q", got.State)
	}
}

func TestRunUpdateVersionConflict(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	r := newRun(id.NewPlaybookID(), id.NewCustomerID(), run.StatePending)
	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	// Two readers load the same version.
	first, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	second, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}

	first.State = run.StateApproved
	if err := s.UpdateRun(ctx, first); err != nil {
		t.Fatalf("first UpdateRun: %v", err)
	}

	// The slower writer must lose.
	second.State = run.StateDismissed
	if err := s.UpdateRun(ctx, second); !errors.Is(err, pulse.ErrStaleRun) {
		t.Fatalf("stale update error = %v", err)
	}

	got, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.State != run.StateApproved {
		t.Errorf("state = %q, want approved (first writer wins)", got.State)
	}

	// The winner can keep writing with its refreshed version.
	first.State = run.StateSnoozed
	if err := s.UpdateRun(ctx, first); err != nil {
		t.Fatalf("follow-up UpdateRun: %v", err)
	}
}

func TestRunCountActive(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	pbID := id.NewPlaybookID()
	states := []run.State{
		run.StatePending, run.StateApproved, run.StateExecuting,
		run.StateCompleted, run.StateFailed, run.StateSnoozed, run.StateDismissed,
	}
	for _, st := range states {
		if err := s.CreateRun(ctx, newRun(pbID, id.NewCustomerID(), st)); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}
	// A run on another playbook never counts.
	if err := s.CreateRun(ctx, newRun(id.NewPlaybookID(), id.NewCustomerID(), run.StatePending)); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	count, err := s.CountActiveRuns(ctx, pbID)
	if err != nil {
		t.Fatalf("CountActiveRuns: %v", err)
	}
	if count != 3 {
		t.Errorf("active count = %d, want 3 (pending, approved, executing)", count)
	}
}

func TestRunLatestFor(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	pbID := id.NewPlaybookID()
	custID := id.NewCustomerID()

	none, err := s.LatestRunFor(ctx, pbID, custID)
	if err != nil {
		t.Fatalf("LatestRunFor: %v", err)
	}
	if none != nil {
		t.Fatalf("expected nil for pair that never ran, got %+v", none)
	}

	older := newRun(pbID, custID, run.StateCompleted)
	older.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	newer := newRun(pbID, custID, run.StateDismissed)
	newer.CreatedAt = time.Now().UTC().Add(-time.Hour)
	for _, r := range []*run.Run{older, newer} {
		if err := s.CreateRun(ctx, r); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}

	latest, err := s.LatestRunFor(ctx, pbID, custID)
	if err != nil {
		t.Fatalf("LatestRunFor: %v", err)
	}
	if latest.ID != newer.ID {
		t.Errorf("latest = %s, want %s", latest.ID, newer.ID)
	}
}

func TestRunClaimApproved(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	now := time.Now().UTC()
	var approved []*run.Run
	for i := 0; i < 3; i++ {
		r := newRun(id.NewPlaybookID(), id.NewCustomerID(), run.StateApproved)
		at := now.Add(time.Duration(-i) * time.Minute) // r[2] approved earliest
		r.ApprovedAt = &at
		approved = append(approved, r)
		if err := s.CreateRun(ctx, r); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}
	if err := s.CreateRun(ctx, newRun(id.NewPlaybookID(), id.NewCustomerID(), run.StatePending)); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	workerID := id.NewWorkerID()
	claimed, err := s.ClaimApprovedRuns(ctx, workerID, 2)
	if err != nil {
		t.Fatalf("ClaimApprovedRuns: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("claimed %d, want 2", len(claimed))
	}
	if claimed[0].ID != approved[2].ID {
		t.Errorf("oldest approval not claimed first")
	}
	for _, r := range claimed {
		if r.State != run.StateExecuting {
			t.Errorf("claimed state = %q", r.State)
		}
		if r.WorkerID != workerID {
			t.Errorf("claimed worker = %s", r.WorkerID)
		}
		if r.StartedAt == nil || r.HeartbeatAt == nil {
			t.Error("claimed run missing StartedAt or HeartbeatAt")
		}
	}

	// Second claim picks up the remaining approval only.
	rest, err := s.ClaimApprovedRuns(ctx, workerID, 10)
	if err != nil {
		t.Fatalf("ClaimApprovedRuns: %v", err)
	}
	if len(rest) != 1 {
		t.Errorf("second claim = %d, want 1", len(rest))
	}
}

func TestRunReapStale(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	stale := newRun(id.NewPlaybookID(), id.NewCustomerID(), run.StateExecuting)
	old := time.Now().UTC().Add(-10 * time.Minute)
	stale.HeartbeatAt = &old

	fresh := newRun(id.NewPlaybookID(), id.NewCustomerID(), run.StateExecuting)
	now := time.Now().UTC()
	fresh.HeartbeatAt = &now

	for _, r := range []*run.Run{stale, fresh} {
		if err := s.CreateRun(ctx, r); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}

	reaped, err := s.ReapStaleRuns(ctx, time.Minute)
	if err != nil {
		t.Fatalf("ReapStaleRuns: %v", err)
	}
	if len(reaped) != 1 || reaped[0].ID != stale.ID {
		t.Fatalf("reaped = %v", reaped)
	}
}

func TestRunListSnoozedDue(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	now := time.Now().UTC()

	due := newRun(id.NewPlaybookID(), id.NewCustomerID(), run.StateSnoozed)
	past := now.Add(-time.Minute)
	due.SnoozeUntil = &past

	notYet := newRun(id.NewPlaybookID(), id.NewCustomerID(), run.StateSnoozed)
	future := now.Add(time.Hour)
	notYet.SnoozeUntil = &future

	for _, r := range []*run.Run{due, notYet} {
		if err := s.CreateRun(ctx, r); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}

	got, err := s.ListSnoozedDue(ctx, now)
	if err != nil {
		t.Fatalf("ListSnoozedDue: %v", err)
	}
	if len(got) != 1 || got[0].ID != due.ID {
		t.Fatalf("due = %v", got)
	}
}

func TestRunListEscalatedFilter(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	plain := newRun(id.NewPlaybookID(), id.NewCustomerID(), run.StateFailed)
	escalated := newRun(id.NewPlaybookID(), id.NewCustomerID(), run.StateFailed)
	at := time.Now().UTC()
	escalated.EscalatedAt = &at

	for _, r := range []*run.Run{plain, escalated} {
		if err := s.CreateRun(ctx, r); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}

	yes := true
	got, err := s.ListRuns(ctx, run.ListOpts{Escalated: &yes})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(got) != 1 || got[0].ID != escalated.ID {
		t.Fatalf("escalated filter = %v", got)
	}
}

// ──────────────────────────────────────────────────
// Audit Store tests
// ──────────────────────────────────────────────────

func TestAuditAppendAndList(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	runID := id.NewRunID()
	actions := []string{audit.ActionRunCreated, audit.ActionRunApproved, audit.ActionRunCompleted}
	for i, action := range actions {
		evt := &audit.Event{
			ID:        id.NewAuditID(),
			Action:    action,
			Resource:  audit.ResourceRun,
			Severity:  audit.SeverityInfo,
			Outcome:   audit.OutcomeSuccess,
			Actor:     audit.SystemActor,
			RunID:     runID,
			CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
		}
		if err := s.AppendAudit(ctx, evt); err != nil {
			t.Fatalf("AppendAudit: %v", err)
		}
	}

	all, err := s.ListAudit(ctx, audit.ListOpts{RunID: runID.String()})
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d events, want 3", len(all))
	}
	// Newest first.
	if all[0].Action != audit.ActionRunCompleted {
		t.Errorf("first = %q, want newest", all[0].Action)
	}

	byAction, err := s.ListAudit(ctx, audit.ListOpts{Action: audit.ActionRunApproved})
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(byAction) != 1 {
		t.Errorf("by action: got %d, want 1", len(byAction))
	}
}

// ──────────────────────────────────────────────────
// Cluster Store tests
// ──────────────────────────────────────────────────

func TestClusterLeadership(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	w1 := &cluster.Worker{ID: id.NewWorkerID(), Hostname: "a", State: cluster.WorkerActive, LastSeen: time.Now().UTC(), CreatedAt: time.Now().UTC()}
	w2 := &cluster.Worker{ID: id.NewWorkerID(), Hostname: "b", State: cluster.WorkerActive, LastSeen: time.Now().UTC(), CreatedAt: time.Now().UTC()}
	for _, w := range []*cluster.Worker{w1, w2} {
		if err := s.RegisterWorker(ctx, w); err != nil {
			t.Fatalf("RegisterWorker: %v", err)
		}
	}

	ok, err := s.AcquireLeadership(ctx, w1.ID, time.Minute)
	if err != nil || !ok {
		t.Fatalf("w1 acquire: ok=%v err=%v", ok, err)
	}

	// w2 cannot take an unexpired lease.
	ok, err = s.AcquireLeadership(ctx, w2.ID, time.Minute)
	if err != nil || ok {
		t.Fatalf("w2 acquire: ok=%v err=%v", ok, err)
	}

	// Holder can renew; non-holder cannot.
	ok, err = s.RenewLeadership(ctx, w1.ID, time.Minute)
	if err != nil || !ok {
		t.Fatalf("w1 renew: ok=%v err=%v", ok, err)
	}
	ok, err = s.RenewLeadership(ctx, w2.ID, time.Minute)
	if err != nil || ok {
		t.Fatalf("w2 renew: ok=%v err=%v", ok, err)
	}

	leader, err := s.GetLeader(ctx)
	if err != nil {
		t.Fatalf("GetLeader: %v", err)
	}
	if leader == nil || leader.ID != w1.ID {
		t.Fatalf("leader = %+v, want w1", leader)
	}
}

func TestClusterWorkerRegistry(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	w := &cluster.Worker{ID: id.NewWorkerID(), Hostname: "a", State: cluster.WorkerActive, LastSeen: time.Now().UTC().Add(-time.Hour), CreatedAt: time.Now().UTC()}
	if err := s.RegisterWorker(ctx, w); err != nil {
		t.Fatalf("RegisterWorker: %v", err)
	}

	dead, err := s.ReapDeadWorkers(ctx, time.Minute)
	if err != nil {
		t.Fatalf("ReapDeadWorkers: %v", err)
	}
	if len(dead) != 1 {
		t.Fatalf("dead = %d, want 1", len(dead))
	}

	if err := s.HeartbeatWorker(ctx, w.ID); err != nil {
		t.Fatalf("HeartbeatWorker: %v", err)
	}
	dead, err = s.ReapDeadWorkers(ctx, time.Minute)
	if err != nil {
		t.Fatalf("ReapDeadWorkers: %v", err)
	}
	if len(dead) != 0 {
		t.Fatalf("dead after heartbeat = %d, want 0", len(dead))
	}

	if err := s.DeregisterWorker(ctx, w.ID); err != nil {
		t.Fatalf("DeregisterWorker: %v", err)
	}
	if err := s.DeregisterWorker(ctx, w.ID); !errors.Is(err, pulse.ErrWorkerNotFound) {
		t.Fatalf("double deregister error = %v", err)
	}
}
