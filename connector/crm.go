package connector

import (
	"context"
	"fmt"
	"strings"

	"github.com/PulseAIShared/pulse-engine/playbook"
)

// CrmTask creates a follow-up task in the CRM, optionally assigned to
// the customer's account owner.
type CrmTask struct {
	client  doer
	baseURL string
	apiKey  string
}

// NewCrmTask creates the CRM task connector.
func NewCrmTask(client doer, baseURL, apiKey string) *CrmTask {
	return &CrmTask{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

// Type implements Connector.
func (c *CrmTask) Type() playbook.ActionType { return playbook.ActionCrmTask }

// Dispatch implements Connector.
func (c *CrmTask) Dispatch(ctx context.Context, req *Request) error {
	cfg, ok := req.Action.Config.(*playbook.CrmTaskConfig)
	if !ok {
		return fmt.Errorf("crm task: config type %T", req.Action.Config)
	}

	vars := BuildVars(req.Customer, req.Signal)
	body := map[string]any{
		"customer_id":  req.Customer.ID.String(),
		"subject":      Render(cfg.Subject, vars),
		"body":         Render(cfg.Body, vars),
		"external_ref": req.Run.ID.String() + ":" + req.Action.ID.String(),
	}
	if cfg.DueDays > 0 {
		body["due_days"] = cfg.DueDays
	}
	assignee := cfg.AssignToOwnerID
	if assignee == "" {
		assignee = req.Customer.OwnerID
	}
	if assignee != "" {
		body["assignee_id"] = assignee
	}

	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}
	if err := postJSON(ctx, c.client, c.baseURL+"/tasks", body, headers); err != nil {
		return fmt.Errorf("crm task: %w", err)
	}
	return nil
}
