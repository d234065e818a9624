package match_test

import (
	"testing"

	"github.com/PulseAIShared/pulse-engine/customer"
	"github.com/PulseAIShared/pulse-engine/id"
	"github.com/PulseAIShared/pulse-engine/match"
	"github.com/PulseAIShared/pulse-engine/playbook"
	"github.com/PulseAIShared/pulse-engine/signal"
)

func activePlaybook(name string, priority int) *playbook.Playbook {
	return &playbook.Playbook{
		ID:                id.NewPlaybookID(),
		Name:              name,
		TriggerType:       playbook.TriggerSignal,
		Trigger:           playbook.Trigger{SignalType: "payment_failure"},
		ConfidenceMode:    playbook.ConfidenceAuto,
		ExecutionMode:     playbook.ExecApproval,
		MaxConcurrentRuns: 1,
		Priority:          priority,
		Status:            playbook.StatusActive,
	}
}

func paymentSignal(amount int64) *signal.Signal {
	return &signal.Signal{
		ID:         id.NewSignalID(),
		Type:       "payment_failure",
		CustomerID: id.NewCustomerID(),
		Amount:     amount,
		Confidence: signal.ConfidenceHigh,
	}
}

func TestMatch_QualifyingConditions(t *testing.T) {
	minAmount := int64(5000)
	cust := &customer.Context{ID: id.NewCustomerID()}

	tests := []struct {
		name   string
		mutate func(*playbook.Playbook, *signal.Signal)
		want   bool
	}{
		{"baseline qualifies", func(p *playbook.Playbook, s *signal.Signal) {}, true},
		{"paused playbook", func(p *playbook.Playbook, s *signal.Signal) {
			p.Status = playbook.StatusPaused
		}, false},
		{"draft playbook", func(p *playbook.Playbook, s *signal.Signal) {
			p.Status = playbook.StatusDraft
		}, false},
		{"manual trigger type", func(p *playbook.Playbook, s *signal.Signal) {
			p.TriggerType = playbook.TriggerManual
		}, false},
		{"signal type mismatch", func(p *playbook.Playbook, s *signal.Signal) {
			s.Type = "inactivity"
		}, false},
		{"amount below threshold", func(p *playbook.Playbook, s *signal.Signal) {
			p.Trigger.MinAmount = &minAmount
			s.Amount = 4999
		}, false},
		{"amount at threshold", func(p *playbook.Playbook, s *signal.Signal) {
			p.Trigger.MinAmount = &minAmount
			s.Amount = 5000
		}, true},
		{"missing required source", func(p *playbook.Playbook, s *signal.Signal) {
			p.Trigger.RequiredSources = []string{"stripe"}
		}, false},
		{"required source present", func(p *playbook.Playbook, s *signal.Signal) {
			p.Trigger.RequiredSources = []string{"stripe"}
			s.Sources = []string{"stripe"}
		}, true},
		{"confidence below minimum", func(p *playbook.Playbook, s *signal.Signal) {
			p.MinConfidence = signal.ConfidenceVeryHigh
		}, false},
		{"manual confidence mode waives gate", func(p *playbook.Playbook, s *signal.Signal) {
			p.MinConfidence = signal.ConfidenceVeryHigh
			p.ConfidenceMode = playbook.ConfidenceManual
			s.Confidence = signal.ConfidenceLow
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := activePlaybook("p", 0)
			s := paymentSignal(10000)
			tt.mutate(p, s)

			got := match.Match(s, cust, []*playbook.Playbook{p})
			if qualified := len(got) == 1; qualified != tt.want {
				t.Errorf("qualified = %v, want %v", qualified, tt.want)
			}
		})
	}
}

func TestMatch_SegmentTargeting(t *testing.T) {
	segA, segB := id.NewSegmentID(), id.NewSegmentID()
	p := activePlaybook("segmented", 0)
	p.TargetSegmentIDs = []id.SegmentID{segA}
	sig := paymentSignal(1000)

	inSegment := &customer.Context{ID: sig.CustomerID, SegmentIDs: []id.SegmentID{segA, segB}}
	if got := match.Match(sig, inSegment, []*playbook.Playbook{p}); len(got) != 1 {
		t.Error("expected customer in target segment to match")
	}

	outOfSegment := &customer.Context{ID: sig.CustomerID, SegmentIDs: []id.SegmentID{segB}}
	if got := match.Match(sig, outOfSegment, []*playbook.Playbook{p}); len(got) != 0 {
		t.Error("expected customer outside target segment not to match")
	}
}

func TestMatch_OrderByPriorityThenID(t *testing.T) {
	urgent := activePlaybook("urgent", 1)
	relaxed := activePlaybook("relaxed", 10)
	tieA := activePlaybook("tie-a", 5)
	tieB := activePlaybook("tie-b", 5)

	sig := paymentSignal(1000)
	cust := &customer.Context{ID: sig.CustomerID}

	got := match.Match(sig, cust, []*playbook.Playbook{relaxed, tieB, urgent, tieA})
	if len(got) != 4 {
		t.Fatalf("matched %d, want 4", len(got))
	}
	if got[0] != urgent {
		t.Errorf("first = %s, want urgent", got[0].Name)
	}
	if got[3] != relaxed {
		t.Errorf("last = %s, want relaxed", got[3].Name)
	}
	// Priority tie resolves by playbook ID for determinism.
	if got[1].ID.String() > got[2].ID.String() {
		t.Error("tied priorities not ordered by playbook ID")
	}
}
