package playbook_test

import (
	"testing"

	"github.com/PulseAIShared/pulse-engine/playbook"
	"github.com/PulseAIShared/pulse-engine/signal"
)

func TestTriggerSatisfied_Thresholds(t *testing.T) {
	minAmount := int64(5000)
	minMRR := int64(100000)
	minInactive := 14
	minOverdue := 7

	tests := []struct {
		name    string
		trigger playbook.Trigger
		sig     signal.Signal
		want    bool
	}{
		{
			"no constraints always satisfied",
			playbook.Trigger{SignalType: "payment_failure"},
			signal.Signal{Type: "payment_failure"},
			true,
		},
		{
			"amount at threshold",
			playbook.Trigger{MinAmount: &minAmount},
			signal.Signal{Amount: 5000},
			true,
		},
		{
			"amount below threshold",
			playbook.Trigger{MinAmount: &minAmount},
			signal.Signal{Amount: 4999},
			false,
		},
		{
			"mrr below threshold",
			playbook.Trigger{MinMRR: &minMRR},
			signal.Signal{MRR: 99999},
			false,
		},
		{
			"days inactive at threshold",
			playbook.Trigger{MinDaysInactive: &minInactive},
			signal.Signal{DaysInactive: 14},
			true,
		},
		{
			"days overdue below threshold",
			playbook.Trigger{MinDaysOverdue: &minOverdue},
			signal.Signal{DaysOverdue: 6},
			false,
		},
		{
			"absent attribute compares as zero",
			playbook.Trigger{MinAmount: &minAmount},
			signal.Signal{},
			false,
		},
		{
			"all thresholds satisfied together",
			playbook.Trigger{MinAmount: &minAmount, MinDaysOverdue: &minOverdue},
			signal.Signal{Amount: 10000, DaysOverdue: 10},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.trigger.Satisfied(&tt.sig); got != tt.want {
				t.Errorf("Satisfied() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTriggerSatisfied_RequiredSources(t *testing.T) {
	trigger := playbook.Trigger{RequiredSources: []string{"stripe", "billing"}}

	full := signal.Signal{Sources: []string{"billing", "stripe", "crm"}}
	if !trigger.Satisfied(&full) {
		t.Error("expected superset of required sources to satisfy")
	}

	partial := signal.Signal{Sources: []string{"stripe"}}
	if trigger.Satisfied(&partial) {
		t.Error("expected missing required source to fail")
	}
}
