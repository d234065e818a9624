package playbook_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	pulse "github.com/PulseAIShared/pulse-engine"
	"github.com/PulseAIShared/pulse-engine/playbook"
	"github.com/PulseAIShared/pulse-engine/store/memory"
)

func newService(t *testing.T) (*playbook.Service, *memory.Store) {
	t.Helper()
	s := memory.New()
	svc := playbook.NewService(s, nil, slog.Default())
	return svc, s
}

func TestServiceCreate_AssignsIdentity(t *testing.T) {
	svc, _ := newService(t)

	p := validPlaybook()
	p.ID = pulse.ID{}
	p.Actions[0].ID = pulse.ID{}

	created, err := svc.Create(context.Background(), p)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID.IsNil() {
		t.Error("expected playbook ID to be assigned")
	}
	if created.Actions[0].ID.IsNil() {
		t.Error("expected action ID to be assigned")
	}
	if created.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be stamped")
	}
}

func TestServiceCreate_RejectsInvalidStructure(t *testing.T) {
	svc, _ := newService(t)

	p := validPlaybook()
	p.Actions[1].OrderIndex = 3

	if _, err := svc.Create(context.Background(), p); err == nil {
		t.Error("expected structural validation to reject create")
	}
}

func TestServiceActivate_GatesOnRequiredFields(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	p := validPlaybook()
	p.Actions[1].Config = &playbook.SlackAlertConfig{Channel: "#a"} // webhook_url missing

	created, err := svc.Create(ctx, p)
	if err != nil {
		t.Fatalf("create draft with incomplete config should succeed: %v", err)
	}

	if _, err := svc.Activate(ctx, created.ID); err == nil {
		t.Fatal("expected activation to fail on incomplete slack config")
	}

	got, err := svc.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != playbook.StatusDraft {
		t.Errorf("status = %s, want draft after failed activation", got.Status)
	}
}

func TestServiceLifecycle(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, validPlaybook())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	active, err := svc.Activate(ctx, created.ID)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if active.Status != playbook.StatusActive {
		t.Errorf("status = %s, want active", active.Status)
	}

	// Activating an already-active playbook is a no-op.
	if _, err := svc.Activate(ctx, created.ID); err != nil {
		t.Errorf("re-activate should be a no-op, got %v", err)
	}

	paused, err := svc.Pause(ctx, created.ID)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if paused.Status != playbook.StatusPaused {
		t.Errorf("status = %s, want paused", paused.Status)
	}

	archived, err := svc.Archive(ctx, created.ID)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if archived.Status != playbook.StatusArchived {
		t.Errorf("status = %s, want archived", archived.Status)
	}

	// Archived playbooks cannot be activated or edited.
	if _, err := svc.Activate(ctx, created.ID); !errors.Is(err, pulse.ErrPlaybookArchived) {
		t.Errorf("activate archived: err = %v, want ErrPlaybookArchived", err)
	}
	archived.Name = "renamed"
	if _, err := svc.Update(ctx, archived); !errors.Is(err, pulse.ErrPlaybookArchived) {
		t.Errorf("update archived: err = %v, want ErrPlaybookArchived", err)
	}
}

func TestServiceList_FiltersByStatus(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	a, _ := svc.Create(ctx, validPlaybook())
	if _, err := svc.Activate(ctx, a.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if _, err := svc.Create(ctx, validPlaybook()); err != nil {
		t.Fatalf("create: %v", err)
	}

	active, err := svc.List(ctx, playbook.ListOpts{Status: playbook.StatusActive})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 1 {
		t.Errorf("active count = %d, want 1", len(active))
	}

	all, err := svc.List(ctx, playbook.ListOpts{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("total count = %d, want 2", len(all))
	}
}
