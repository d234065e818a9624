package connector

import (
	"context"
	"fmt"
	"strings"

	"github.com/PulseAIShared/pulse-engine/playbook"
)

// Email sends a transactional email through the delivery service using
// a configured sender profile.
type Email struct {
	client         doer
	baseURL        string
	apiKey         string
	defaultProfile string
}

// NewEmail creates the transactional email connector. defaultProfile is
// used when the action config names no sender profile.
func NewEmail(client doer, baseURL, apiKey, defaultProfile string) *Email {
	return &Email{
		client:         client,
		baseURL:        strings.TrimRight(baseURL, "/"),
		apiKey:         apiKey,
		defaultProfile: defaultProfile,
	}
}

// Type implements Connector.
func (c *Email) Type() playbook.ActionType { return playbook.ActionEmail }

// Dispatch implements Connector.
func (c *Email) Dispatch(ctx context.Context, req *Request) error {
	cfg, ok := req.Action.Config.(*playbook.EmailConfig)
	if !ok {
		return fmt.Errorf("email: config type %T", req.Action.Config)
	}

	profile := cfg.SenderProfileID
	if profile == "" {
		profile = c.defaultProfile
	}

	vars := BuildVars(req.Customer, req.Signal)
	body := map[string]any{
		"to":                req.Customer.Email,
		"subject":           Render(cfg.Subject, vars),
		"body":              Render(cfg.Body, vars),
		"sender_profile_id": profile,
		"idempotency_key":   req.Run.ID.String() + ":" + req.Action.ID.String(),
	}
	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}
	if err := postJSON(ctx, c.client, c.baseURL+"/send", body, headers); err != nil {
		return fmt.Errorf("email: %w", err)
	}
	return nil
}
