package playbook_test

import (
	"encoding/json"
	"testing"

	"github.com/PulseAIShared/pulse-engine/id"
	"github.com/PulseAIShared/pulse-engine/playbook"
)

func TestActionJSONRoundTrip_TaggedConfig(t *testing.T) {
	original := playbook.Action{
		ID:         id.NewActionID(),
		Type:       playbook.ActionSlackAlert,
		OrderIndex: 1,
		Config: &playbook.SlackAlertConfig{
			Channel:    "#churn-alerts",
			WebhookURL: "https://hooks.slack.example/T000/B000",
			Message:    "{{customer.name}} risk: {{signal.type}}",
		},
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded playbook.Action
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	cfg, ok := decoded.Config.(*playbook.SlackAlertConfig)
	if !ok {
		t.Fatalf("decoded config type = %T, want *SlackAlertConfig", decoded.Config)
	}
	if cfg.Channel != "#churn-alerts" || cfg.WebhookURL != "https://hooks.slack.example/T000/B000" {
		t.Errorf("config fields lost in round-trip: %+v", cfg)
	}
	if cfg.Message != "{{customer.name}} risk: {{signal.type}}" {
		t.Errorf("template lost in round-trip: %q", cfg.Message)
	}
	if decoded.OrderIndex != 1 || decoded.Type != playbook.ActionSlackAlert {
		t.Errorf("envelope fields lost: %+v", decoded)
	}
}

func TestActionUnmarshal_UnknownType(t *testing.T) {
	var a playbook.Action
	err := json.Unmarshal([]byte(`{"type":"carrier_pigeon","order_index":0,"config":{}}`), &a)
	if err == nil {
		t.Fatal("expected error for unknown action type")
	}
}

func TestConfigValidation_RequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		config  playbook.Config
		wantErr bool
	}{
		{"stripe retry needs nothing", &playbook.StripeRetryConfig{}, false},
		{"slack missing channel", &playbook.SlackAlertConfig{WebhookURL: "https://x"}, true},
		{"slack missing webhook", &playbook.SlackAlertConfig{Channel: "#a"}, true},
		{"slack complete", &playbook.SlackAlertConfig{Channel: "#a", WebhookURL: "https://x"}, false},
		{"crm missing subject", &playbook.CrmTaskConfig{Body: "b"}, true},
		{"crm complete", &playbook.CrmTaskConfig{Subject: "s", Body: "b"}, false},
		{"email missing body", &playbook.EmailConfig{Subject: "s"}, true},
		{"email complete", &playbook.EmailConfig{Subject: "s", Body: "b"}, false},
		{"webhook missing url", &playbook.WebhookConfig{Method: "POST"}, true},
		{"webhook bad method", &playbook.WebhookConfig{URL: "https://x", Method: "TRACE"}, true},
		{"webhook default method", &playbook.WebhookConfig{URL: "https://x"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
