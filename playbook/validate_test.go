package playbook_test

import (
	"strings"
	"testing"

	"github.com/PulseAIShared/pulse-engine/id"
	"github.com/PulseAIShared/pulse-engine/playbook"
)

// validPlaybook returns a structurally valid signal-triggered playbook.
func validPlaybook() *playbook.Playbook {
	minAmount := int64(5000)
	return &playbook.Playbook{
		ID:                id.NewPlaybookID(),
		Name:              "Recover failed payment",
		Category:          "billing",
		TriggerType:       playbook.TriggerSignal,
		Trigger:           playbook.Trigger{SignalType: "payment_failure", MinAmount: &minAmount},
		ConfidenceMode:    playbook.ConfidenceAuto,
		ExecutionMode:     playbook.ExecApproval,
		CooldownHours:     72,
		MaxConcurrentRuns: 1,
		Status:            playbook.StatusDraft,
		Actions: []playbook.Action{
			{ID: id.NewActionID(), Type: playbook.ActionStripeRetry, OrderIndex: 0, Config: &playbook.StripeRetryConfig{}},
			{ID: id.NewActionID(), Type: playbook.ActionSlackAlert, OrderIndex: 1, Config: &playbook.SlackAlertConfig{
				Channel:    "#churn-alerts",
				WebhookURL: "https://hooks.slack.example/T000/B000",
			}},
		},
	}
}

func TestValidateStructure_Valid(t *testing.T) {
	if err := validPlaybook().ValidateStructure(); err != nil {
		t.Fatalf("expected valid playbook, got %v", err)
	}
}

func TestValidateStructure_OrderIndexes(t *testing.T) {
	t.Run("duplicate", func(t *testing.T) {
		p := validPlaybook()
		p.Actions[1].OrderIndex = 0
		if err := p.ValidateStructure(); err == nil {
			t.Error("expected error for duplicate order index")
		}
	})

	t.Run("gap", func(t *testing.T) {
		p := validPlaybook()
		p.Actions[1].OrderIndex = 5
		if err := p.ValidateStructure(); err == nil {
			t.Error("expected error for non-contiguous order index")
		}
	})

	t.Run("negative", func(t *testing.T) {
		p := validPlaybook()
		p.Actions[0].OrderIndex = -1
		if err := p.ValidateStructure(); err == nil {
			t.Error("expected error for negative order index")
		}
	})
}

func TestValidateStructure_TriggerCompleteness(t *testing.T) {
	t.Run("signal trigger without signal type", func(t *testing.T) {
		p := validPlaybook()
		p.Trigger.SignalType = ""
		if err := p.ValidateStructure(); err == nil {
			t.Error("expected error for missing signal type")
		}
	})

	t.Run("scheduled trigger without schedule", func(t *testing.T) {
		p := validPlaybook()
		p.TriggerType = playbook.TriggerScheduled
		p.Trigger = playbook.Trigger{}
		p.Schedule = ""
		if err := p.ValidateStructure(); err == nil {
			t.Error("expected error for missing schedule")
		}
	})
}

func TestValidateStructure_ConfigTagMismatch(t *testing.T) {
	p := validPlaybook()
	p.Actions[0].Config = &playbook.EmailConfig{Subject: "s", Body: "b"}
	err := p.ValidateStructure()
	if err == nil {
		t.Fatal("expected error for config/tag mismatch")
	}
	if !strings.Contains(err.Error(), "does not match") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateForActivation_RequiredFields(t *testing.T) {
	p := validPlaybook()
	p.Actions[1].Config = &playbook.SlackAlertConfig{WebhookURL: "https://hooks.slack.example/x"}

	// Structure is still fine: required fields only gate activation.
	if err := p.ValidateStructure(); err != nil {
		t.Fatalf("structure should pass: %v", err)
	}
	if err := p.ValidateForActivation(); err == nil {
		t.Error("expected activation to fail on missing slack channel")
	}
}

func TestOrderedActions_SortsByIndex(t *testing.T) {
	p := validPlaybook()
	p.Actions[0], p.Actions[1] = p.Actions[1], p.Actions[0]

	ordered := p.OrderedActions()
	if ordered[0].OrderIndex != 0 || ordered[1].OrderIndex != 1 {
		t.Errorf("actions not ordered: %v, %v", ordered[0].OrderIndex, ordered[1].OrderIndex)
	}
	// The receiver's slice is untouched.
	if p.Actions[0].OrderIndex != 1 {
		t.Error("OrderedActions mutated the playbook")
	}
}

func TestTargetsSegment(t *testing.T) {
	segA, segB, segC := id.NewSegmentID(), id.NewSegmentID(), id.NewSegmentID()

	p := validPlaybook()
	if !p.TargetsSegment([]id.SegmentID{segA}) {
		t.Error("empty target set should match any customer")
	}

	p.TargetSegmentIDs = []id.SegmentID{segA, segB}
	if !p.TargetsSegment([]id.SegmentID{segC, segB}) {
		t.Error("expected overlap with segB to match")
	}
	if p.TargetsSegment([]id.SegmentID{segC}) {
		t.Error("expected no match without overlap")
	}
	if p.TargetsSegment(nil) {
		t.Error("customer with no segments should not match a targeted playbook")
	}
}
