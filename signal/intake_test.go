package signal_test

import (
	"testing"

	"github.com/PulseAIShared/pulse-engine/id"
	"github.com/PulseAIShared/pulse-engine/signal"
)

func TestNormalize_CanonicalizesFields(t *testing.T) {
	cust := id.NewCustomerID()

	sig, err := signal.Normalize(signal.RawEvent{
		Type:       "  Payment_Failure ",
		CustomerID: cust.String(),
		Amount:     12000,
		Confidence: "high",
		Sources:    []string{" Stripe ", "", "billing"},
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	if sig.Type != "payment_failure" {
		t.Errorf("Type = %q, want %q", sig.Type, "payment_failure")
	}
	if sig.CustomerID.String() != cust.String() {
		t.Errorf("CustomerID = %q, want %q", sig.CustomerID, cust)
	}
	if sig.Confidence != signal.ConfidenceHigh {
		t.Errorf("Confidence = %v, want %v", sig.Confidence, signal.ConfidenceHigh)
	}
	if len(sig.Sources) != 2 || sig.Sources[0] != "stripe" || sig.Sources[1] != "billing" {
		t.Errorf("Sources = %v, want [stripe billing]", sig.Sources)
	}
	if sig.Currency != "USD" {
		t.Errorf("Currency = %q, want default USD when amount present", sig.Currency)
	}
	if sig.ID.IsNil() {
		t.Error("expected a generated signal ID")
	}
	if sig.ReceivedAt.IsZero() {
		t.Error("expected ReceivedAt to be stamped")
	}
}

func TestNormalize_Rejections(t *testing.T) {
	cust := id.NewCustomerID().String()

	tests := []struct {
		name string
		raw  signal.RawEvent
	}{
		{"missing type", signal.RawEvent{CustomerID: cust}},
		{"missing customer", signal.RawEvent{Type: "payment_failure"}},
		{"bad customer id", signal.RawEvent{Type: "payment_failure", CustomerID: "run_01h455vb4pex5vsknk084sn02q"}},
		{"negative amount", signal.RawEvent{Type: "payment_failure", CustomerID: cust, Amount: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := signal.Normalize(tt.raw); err == nil {
				t.Error("expected normalization error")
			}
		})
	}
}

func TestParseConfidence(t *testing.T) {
	tests := []struct {
		in   string
		want signal.Confidence
	}{
		{"low", signal.ConfidenceLow},
		{"medium", signal.ConfidenceMedium},
		{"high", signal.ConfidenceHigh},
		{"very_high", signal.ConfidenceVeryHigh},
		{"bogus", signal.ConfidenceLow},
		{"", signal.ConfidenceLow},
	}
	for _, tt := range tests {
		if got := signal.ParseConfidence(tt.in); got != tt.want {
			t.Errorf("ParseConfidence(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestConfidence_AtLeast(t *testing.T) {
	if !signal.ConfidenceHigh.AtLeast(signal.ConfidenceMedium) {
		t.Error("high should satisfy a medium minimum")
	}
	if signal.ConfidenceLow.AtLeast(signal.ConfidenceHigh) {
		t.Error("low should not satisfy a high minimum")
	}
	if !signal.ConfidenceMedium.AtLeast(signal.ConfidenceMedium) {
		t.Error("a tier should satisfy itself")
	}
}

func TestHasSource(t *testing.T) {
	sig := &signal.Signal{Sources: []string{"stripe", "billing"}}
	if !sig.HasSource("stripe") {
		t.Error("expected stripe source to be present")
	}
	if sig.HasSource("crm") {
		t.Error("did not expect crm source")
	}
}
