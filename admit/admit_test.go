package admit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	pulse "github.com/PulseAIShared/pulse-engine"
	"github.com/PulseAIShared/pulse-engine/admit"
	"github.com/PulseAIShared/pulse-engine/customer"
	"github.com/PulseAIShared/pulse-engine/id"
	"github.com/PulseAIShared/pulse-engine/playbook"
	"github.com/PulseAIShared/pulse-engine/run"
	"github.com/PulseAIShared/pulse-engine/signal"
	"github.com/PulseAIShared/pulse-engine/store/memory"
)

func activePlaybook(t *testing.T) *playbook.Playbook {
	t.Helper()
	return &playbook.Playbook{
		Entity:            pulse.NewEntity(),
		ID:                id.NewPlaybookID(),
		Name:              "Recover failed payment",
		Status:            playbook.StatusActive,
		TriggerType:       playbook.TriggerSignal,
		Trigger:           playbook.Trigger{SignalType: "payment_failure"},
		ExecutionMode:     playbook.ExecApproval,
		CooldownHours:     24,
		MaxConcurrentRuns: 1,
	}
}

func testSignal() *signal.Signal {
	return &signal.Signal{
		Entity:     pulse.NewEntity(),
		ID:         id.NewSignalID(),
		Type:       "payment_failure",
		CustomerID: id.NewCustomerID(),
		ReceivedAt: time.Now().UTC(),
	}
}

func testCustomer(custID id.CustomerID) *customer.Context {
	return &customer.Context{
		ID:             custID,
		Name:           "Acme Corp",
		PotentialValue: 120000,
		Currency:       "USD",
	}
}

func TestAdmitCreatesPendingRun(t *testing.T) {
	st := memory.New()
	a := admit.NewAdmitter(st, nil, testLogger())

	p := activePlaybook(t)
	sig := testSignal()
	cust := testCustomer(sig.CustomerID)

	r, rej, err := a.Admit(context.Background(), p, sig, cust)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if rej != nil {
		t.Fatalf("unexpected rejection: %+v", rej)
	}
	if r.State != run.StatePending {
		t.Fatalf("state = %s, want pending", r.State)
	}
	if r.PlaybookID != p.ID || r.CustomerID != cust.ID || r.SignalID != sig.ID {
		t.Fatal("run not linked to playbook, customer, and signal")
	}
	if r.PotentialValue != 120000 || r.Currency != "USD" {
		t.Fatalf("value snapshot = %d %s", r.PotentialValue, r.Currency)
	}

	got, err := st.GetRun(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.State != run.StatePending {
		t.Fatalf("persisted state = %s", got.State)
	}
}

func TestAdmitAutomaticModeSkipsApproval(t *testing.T) {
	st := memory.New()
	a := admit.NewAdmitter(st, nil, testLogger())

	p := activePlaybook(t)
	p.ExecutionMode = playbook.ExecAutomatic
	sig := testSignal()

	r, rej, err := a.Admit(context.Background(), p, sig, testCustomer(sig.CustomerID))
	if err != nil || rej != nil {
		t.Fatalf("Admit: %v %+v", err, rej)
	}
	if r.State != run.StateApproved {
		t.Fatalf("state = %s, want approved", r.State)
	}
	if r.ApprovedAt == nil {
		t.Fatal("ApprovedAt not set")
	}
}

func TestAdmitCooldownRejectsSamePair(t *testing.T) {
	st := memory.New()
	a := admit.NewAdmitter(st, nil, testLogger())

	p := activePlaybook(t)
	sig := testSignal()
	cust := testCustomer(sig.CustomerID)

	first, rej, err := a.Admit(context.Background(), p, sig, cust)
	if err != nil || rej != nil {
		t.Fatalf("first Admit: %v %+v", err, rej)
	}

	// Settle the first run so concurrency is not the limiting constraint.
	completeRun(t, st, first)

	_, rej, err = a.Admit(context.Background(), p, testSignalFor(cust.ID), cust)
	if err != nil {
		t.Fatalf("second Admit: %v", err)
	}
	if rej == nil || rej.Reason != admit.ReasonCooldownActive {
		t.Fatalf("rejection = %+v, want cooldown_active", rej)
	}
	if rej.RetryAfter == nil {
		t.Fatal("cooldown rejection missing RetryAfter")
	}
	want := first.CreatedAt.Add(24 * time.Hour)
	if !rej.RetryAfter.Equal(want) {
		t.Fatalf("RetryAfter = %v, want %v", rej.RetryAfter, want)
	}
}

func TestAdmitCooldownIsPerCustomer(t *testing.T) {
	st := memory.New()
	a := admit.NewAdmitter(st, nil, testLogger())

	p := activePlaybook(t)
	p.MaxConcurrentRuns = 10

	sig1 := testSignal()
	if _, rej, err := a.Admit(context.Background(), p, sig1, testCustomer(sig1.CustomerID)); err != nil || rej != nil {
		t.Fatalf("first Admit: %v %+v", err, rej)
	}

	sig2 := testSignal()
	_, rej, err := a.Admit(context.Background(), p, sig2, testCustomer(sig2.CustomerID))
	if err != nil {
		t.Fatalf("second Admit: %v", err)
	}
	if rej != nil {
		t.Fatalf("other customer rejected: %+v", rej)
	}
}

func TestAdmitConcurrencyLimit(t *testing.T) {
	st := memory.New()
	a := admit.NewAdmitter(st, nil, testLogger())

	p := activePlaybook(t)
	p.CooldownHours = 0

	sig1 := testSignal()
	if _, rej, err := a.Admit(context.Background(), p, sig1, testCustomer(sig1.CustomerID)); err != nil || rej != nil {
		t.Fatalf("first Admit: %v %+v", err, rej)
	}

	// A second customer hits the playbook-wide limit of one in-flight run.
	sig2 := testSignal()
	_, rej, err := a.Admit(context.Background(), p, sig2, testCustomer(sig2.CustomerID))
	if err != nil {
		t.Fatalf("second Admit: %v", err)
	}
	if rej == nil || rej.Reason != admit.ReasonConcurrencyLimit {
		t.Fatalf("rejection = %+v, want concurrency_limit", rej)
	}
}

func TestAdmitConcurrencyIgnoresSettledRuns(t *testing.T) {
	st := memory.New()
	a := admit.NewAdmitter(st, nil, testLogger())

	p := activePlaybook(t)
	p.CooldownHours = 0

	sig1 := testSignal()
	first, rej, err := a.Admit(context.Background(), p, sig1, testCustomer(sig1.CustomerID))
	if err != nil || rej != nil {
		t.Fatalf("first Admit: %v %+v", err, rej)
	}
	completeRun(t, st, first)

	sig2 := testSignal()
	_, rej, err = a.Admit(context.Background(), p, sig2, testCustomer(sig2.CustomerID))
	if err != nil {
		t.Fatalf("second Admit: %v", err)
	}
	if rej != nil {
		t.Fatalf("settled run still counted: %+v", rej)
	}
}

func TestAdmitInactivePlaybookRejected(t *testing.T) {
	st := memory.New()
	a := admit.NewAdmitter(st, nil, testLogger())

	p := activePlaybook(t)
	p.Status = playbook.StatusPaused
	sig := testSignal()

	_, rej, err := a.Admit(context.Background(), p, sig, testCustomer(sig.CustomerID))
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if rej == nil || rej.Reason != admit.ReasonPlaybookInactive {
		t.Fatalf("rejection = %+v, want playbook_inactive", rej)
	}
}

// openRunStore simulates a shared backend where another node admitted
// the pair first: the store's single-open-run constraint fires on create.
type openRunStore struct {
	*memory.Store
}

func (s *openRunStore) CreateRun(context.Context, *run.Run) error {
	return pulse.ErrOpenRunExists
}

func TestAdmitOpenRunRaceRejects(t *testing.T) {
	st := &openRunStore{Store: memory.New()}
	a := admit.NewAdmitter(st, nil, testLogger())

	p := activePlaybook(t)
	p.CooldownHours = 0
	sig := testSignal()

	r, rej, err := a.Admit(context.Background(), p, sig, testCustomer(sig.CustomerID))
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if r != nil {
		t.Fatalf("run admitted past the open-run constraint: %+v", r)
	}
	if rej == nil || rej.Reason != admit.ReasonConcurrencyLimit {
		t.Fatalf("rejection = %+v, want concurrency_limit", rej)
	}
}

func TestAdmitConcurrentSamePairAdmitsOnce(t *testing.T) {
	st := memory.New()
	a := admit.NewAdmitter(st, nil, testLogger())

	p := activePlaybook(t)
	custID := id.NewCustomerID()
	cust := testCustomer(custID)

	const attempts = 16
	var wg sync.WaitGroup
	admitted := make(chan *run.Run, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, _, err := a.Admit(context.Background(), p, testSignalFor(custID), cust)
			if err != nil {
				t.Errorf("Admit: %v", err)
				return
			}
			if r != nil {
				admitted <- r
			}
		}()
	}
	wg.Wait()
	close(admitted)

	var count int
	for range admitted {
		count++
	}
	if count != 1 {
		t.Fatalf("admitted %d runs for one pair, want 1", count)
	}
}

func testSignalFor(custID id.CustomerID) *signal.Signal {
	sig := testSignal()
	sig.CustomerID = custID
	return sig
}

func completeRun(t *testing.T, st *memory.Store, r *run.Run) {
	t.Helper()
	ctx := context.Background()
	r.State = run.StateCompleted
	if err := st.UpdateRun(ctx, r); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}
}
