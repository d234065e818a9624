package connector

import (
	"context"
	"fmt"

	"github.com/PulseAIShared/pulse-engine/playbook"
)

// SlackAlert posts a rendered message to a chat webhook. The webhook URL
// and channel come from the action's config so each playbook can target
// a different room.
type SlackAlert struct {
	client doer
}

// NewSlackAlert creates the chat alert connector.
func NewSlackAlert(client doer) *SlackAlert {
	return &SlackAlert{client: client}
}

// Type implements Connector.
func (c *SlackAlert) Type() playbook.ActionType { return playbook.ActionSlackAlert }

// Dispatch implements Connector.
func (c *SlackAlert) Dispatch(ctx context.Context, req *Request) error {
	cfg, ok := req.Action.Config.(*playbook.SlackAlertConfig)
	if !ok {
		return fmt.Errorf("slack alert: config type %T", req.Action.Config)
	}

	vars := BuildVars(req.Customer, req.Signal)
	body := map[string]any{
		"channel": cfg.Channel,
		"text":    Render(cfg.Message, vars),
	}
	if err := postJSON(ctx, c.client, cfg.WebhookURL, body, nil); err != nil {
		return fmt.Errorf("slack alert: %w", err)
	}
	return nil
}
