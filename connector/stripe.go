package connector

import (
	"context"
	"fmt"
	"strings"

	"github.com/PulseAIShared/pulse-engine/playbook"
)

// StripeRetry retries the customer's most recent failed payment through
// the billing gateway. The gateway resolves "most recent failed payment"
// itself, so re-dispatching after a partial failure cannot double-charge.
type StripeRetry struct {
	client  doer
	baseURL string
	apiKey  string
}

// NewStripeRetry creates the payment retry connector. baseURL points at
// the billing gateway, e.g. "https://billing.internal".
func NewStripeRetry(client doer, baseURL, apiKey string) *StripeRetry {
	return &StripeRetry{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

// Type implements Connector.
func (c *StripeRetry) Type() playbook.ActionType { return playbook.ActionStripeRetry }

// Dispatch implements Connector.
func (c *StripeRetry) Dispatch(ctx context.Context, req *Request) error {
	url := fmt.Sprintf("%s/customers/%s/payments/retry-latest", c.baseURL, req.Customer.ID)
	body := map[string]any{
		"run_id": req.Run.ID.String(),
	}
	// Scheduled and manual firings carry no signal.
	if req.Signal != nil {
		body["signal_id"] = req.Signal.ID.String()
	}
	headers := map[string]string{
		"Authorization": "Bearer " + c.apiKey,
		// The run ID keys idempotent replay on the gateway side.
		"Idempotency-Key": req.Run.ID.String() + ":" + req.Action.ID.String(),
	}
	if err := postJSON(ctx, c.client, url, body, headers); err != nil {
		return fmt.Errorf("stripe retry: %w", err)
	}
	return nil
}
