package playbook

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/PulseAIShared/pulse-engine/id"
)

// ActionType tags the connector an action dispatches to.
type ActionType string

const (
	// ActionStripeRetry retries the customer's most recent failed payment.
	ActionStripeRetry ActionType = "stripe_retry"
	// ActionSlackAlert posts a rendered message to a chat webhook.
	ActionSlackAlert ActionType = "slack_alert"
	// ActionCrmTask creates a follow-up task in the CRM.
	ActionCrmTask ActionType = "crm_task"
	// ActionEmail sends a transactional email via a sender profile.
	ActionEmail ActionType = "email"
	// ActionWebhook performs an arbitrary HTTP call; the escape hatch for
	// unmodeled integrations.
	ActionWebhook ActionType = "webhook"
)

// Config is the type-specific configuration payload of an action.
// One concrete shape exists per ActionType; the envelope round-trips
// losslessly through JSON persistence.
type Config interface {
	// Type returns the ActionType this config belongs to.
	Type() ActionType
	// Validate checks the required fields for activation. Structural
	// errors here block Activate, never execution.
	Validate() error
}

// newConfig returns the zero config value for the given action type.
func newConfig(t ActionType) (Config, error) {
	switch t {
	case ActionStripeRetry:
		return &StripeRetryConfig{}, nil
	case ActionSlackAlert:
		return &SlackAlertConfig{}, nil
	case ActionCrmTask:
		return &CrmTaskConfig{}, nil
	case ActionEmail:
		return &EmailConfig{}, nil
	case ActionWebhook:
		return &WebhookConfig{}, nil
	default:
		return nil, fmt.Errorf("playbook: unknown action type %q", t)
	}
}

// Action is one step in a playbook's ordered sequence.
type Action struct {
	ID id.ActionID `json:"id"`

	Type ActionType `json:"type"`

	// OrderIndex positions the action within its playbook. Indexes are
	// unique and contiguous from zero.
	OrderIndex int `json:"order_index"`

	// Timeout bounds the connector call for this action. Zero falls back
	// to the engine's default action timeout.
	Timeout time.Duration `json:"timeout,omitempty"`

	// Config is the type-specific payload matching Type.
	Config Config `json:"config"`
}

// actionEnvelope is the persisted JSON shape of an Action.
type actionEnvelope struct {
	ID         id.ActionID     `json:"id"`
	Type       ActionType      `json:"type"`
	OrderIndex int             `json:"order_index"`
	Timeout    time.Duration   `json:"timeout,omitempty"`
	Config     json.RawMessage `json:"config"`
}

// MarshalJSON implements json.Marshaler for the tagged config envelope.
func (a Action) MarshalJSON() ([]byte, error) {
	cfg, err := json.Marshal(a.Config)
	if err != nil {
		return nil, fmt.Errorf("playbook: marshal %s config: %w", a.Type, err)
	}
	return json.Marshal(actionEnvelope{
		ID:         a.ID,
		Type:       a.Type,
		OrderIndex: a.OrderIndex,
		Timeout:    a.Timeout,
		Config:     cfg,
	})
}

// UnmarshalJSON implements json.Unmarshaler, decoding the config payload
// into the concrete shape selected by the type tag.
func (a *Action) UnmarshalJSON(data []byte) error {
	var env actionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	cfg, err := newConfig(env.Type)
	if err != nil {
		return err
	}
	if len(env.Config) > 0 {
		if err := json.Unmarshal(env.Config, cfg); err != nil {
			return fmt.Errorf("playbook: unmarshal %s config: %w", env.Type, err)
		}
	}

	a.ID = env.ID
	a.Type = env.Type
	a.OrderIndex = env.OrderIndex
	a.Timeout = env.Timeout
	a.Config = cfg
	return nil
}

// ──────────────────────────────────────────────────
// Per-type config shapes
// ──────────────────────────────────────────────────

// StripeRetryConfig has no required fields: the connector locates the
// customer's most recent failed payment itself.
type StripeRetryConfig struct{}

func (*StripeRetryConfig) Type() ActionType { return ActionStripeRetry }
func (*StripeRetryConfig) Validate() error  { return nil }

// SlackAlertConfig posts Message to a chat webhook. Message supports
// {{customer.*}} and {{signal.*}} template variables.
type SlackAlertConfig struct {
	Channel    string `json:"channel"`
	WebhookURL string `json:"webhook_url"`
	Message    string `json:"message,omitempty"`
}

func (*SlackAlertConfig) Type() ActionType { return ActionSlackAlert }

func (c *SlackAlertConfig) Validate() error {
	if c.Channel == "" {
		return fmt.Errorf("playbook: slack_alert: channel is required")
	}
	if c.WebhookURL == "" {
		return fmt.Errorf("playbook: slack_alert: webhook_url is required")
	}
	return nil
}

// CrmTaskConfig creates a task in the CRM. Subject and Body support
// template variables.
type CrmTaskConfig struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`

	// DueDays offsets the task due date from creation. Zero means no due date.
	DueDays int `json:"due_days,omitempty"`

	// AssignToOwnerID assigns the task to a specific CRM owner. Empty
	// assigns to the customer's account owner.
	AssignToOwnerID string `json:"assign_to_owner_id,omitempty"`
}

func (*CrmTaskConfig) Type() ActionType { return ActionCrmTask }

func (c *CrmTaskConfig) Validate() error {
	if c.Subject == "" {
		return fmt.Errorf("playbook: crm_task: subject is required")
	}
	if c.Body == "" {
		return fmt.Errorf("playbook: crm_task: body is required")
	}
	return nil
}

// EmailConfig sends a transactional email. Subject and Body support
// template variables.
type EmailConfig struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`

	// SenderProfileID selects the sender identity. Empty uses the
	// workspace default profile.
	SenderProfileID string `json:"sender_profile_id,omitempty"`
}

func (*EmailConfig) Type() ActionType { return ActionEmail }

func (c *EmailConfig) Validate() error {
	if c.Subject == "" {
		return fmt.Errorf("playbook: email: subject is required")
	}
	if c.Body == "" {
		return fmt.Errorf("playbook: email: body is required")
	}
	return nil
}

// WebhookConfig performs an HTTP call against an external endpoint.
// URL and Body support template variables.
type WebhookConfig struct {
	URL    string `json:"url"`
	Method string `json:"method"`

	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

func (*WebhookConfig) Type() ActionType { return ActionWebhook }

func (c *WebhookConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("playbook: webhook: url is required")
	}
	switch c.Method {
	case "", "GET", "POST", "PUT", "PATCH", "DELETE":
		return nil
	default:
		return fmt.Errorf("playbook: webhook: unsupported method %q", c.Method)
	}
}
