package connector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/PulseAIShared/pulse-engine/playbook"
)

// Webhook performs an arbitrary HTTP call. It is the escape hatch for
// integrations the modeled action types do not cover.
type Webhook struct {
	client doer
}

// NewWebhook creates the generic webhook connector.
func NewWebhook(client doer) *Webhook {
	return &Webhook{client: client}
}

// Type implements Connector.
func (c *Webhook) Type() playbook.ActionType { return playbook.ActionWebhook }

// Dispatch implements Connector.
func (c *Webhook) Dispatch(ctx context.Context, req *Request) error {
	cfg, ok := req.Action.Config.(*playbook.WebhookConfig)
	if !ok {
		return fmt.Errorf("webhook: config type %T", req.Action.Config)
	}

	method := cfg.Method
	if method == "" {
		method = http.MethodPost
	}

	vars := BuildVars(req.Customer, req.Signal)
	url := Render(cfg.URL, vars)

	var body io.Reader
	if cfg.Body != "" {
		body = strings.NewReader(Render(cfg.Body, vars))
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	for k, v := range cfg.Headers {
		httpReq.Header.Set(k, v)
	}
	if cfg.Body != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("webhook: unexpected status %d: %s", resp.StatusCode, snippet)
	}
	return nil
}
