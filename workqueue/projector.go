package workqueue

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/PulseAIShared/pulse-engine/customer"
	"github.com/PulseAIShared/pulse-engine/id"
	"github.com/PulseAIShared/pulse-engine/playbook"
	"github.com/PulseAIShared/pulse-engine/run"
)

// Projector builds queue views by joining runs with their playbook and
// customer context. It holds no state of its own; every call reads
// current store state.
type Projector struct {
	runs       run.Store
	playbooks  playbook.Store
	customers  customer.Source
	thresholds Thresholds
	logger     *slog.Logger
}

// NewProjector creates a Projector with the given thresholds.
func NewProjector(
	runs run.Store,
	playbooks playbook.Store,
	customers customer.Source,
	thresholds Thresholds,
	logger *slog.Logger,
) *Projector {
	return &Projector{
		runs:       runs,
		playbooks:  playbooks,
		customers:  customers,
		thresholds: thresholds,
		logger:     logger,
	}
}

// OpenApprovals returns pending runs awaiting an operator, most urgent
// first. Snoozed runs whose deadline has elapsed appear as pending
// without waiting for the snooze waker; runs still snoozed are
// excluded. Within a bucket, higher value sorts first, then older runs.
func (pr *Projector) OpenApprovals(ctx context.Context, opts ListOpts) ([]*ApprovalItem, error) {
	now := time.Now().UTC()

	pending, err := pr.runs.ListRuns(ctx, run.ListOpts{
		States:     []run.State{run.StatePending, run.StateSnoozed},
		PlaybookID: opts.PlaybookID,
	})
	if err != nil {
		return nil, err
	}

	items := make([]*ApprovalItem, 0, len(pending))
	for _, r := range pending {
		if r.State == run.StateSnoozed && !r.SnoozeElapsed(now) {
			continue
		}

		pb, cust := pr.annotate(ctx, r)
		item := &ApprovalItem{
			Run:          r,
			CustomerName: customerName(cust),
			Priority:     pr.thresholds.Bucket(r.PotentialValue, r.Age(now)),
			Operations:   []Operation{OpApprove, OpSnooze, OpDismiss},
		}
		if pb != nil {
			item.PlaybookName = pb.Name
			item.PlaybookCategory = pb.Category
		}

		if !pr.matchSegment(cust, opts.SegmentID) {
			continue
		}
		if !matchSearch(opts.Search, item.CustomerName, item.PlaybookName, "") {
			continue
		}

		items = append(items, item)
	}

	sort.SliceStable(items, func(i, k int) bool {
		a, b := items[i], items[k]
		if a.Priority.rank() != b.Priority.rank() {
			return a.Priority.rank() < b.Priority.rank()
		}
		if a.Run.PotentialValue != b.Run.PotentialValue {
			return a.Run.PotentialValue > b.Run.PotentialValue
		}
		return a.Run.CreatedAt.Before(b.Run.CreatedAt)
	})

	return paginate(items, opts.Offset, opts.Limit), nil
}

// FailedActions returns runs awaiting triage: failed, escalated, and
// dismissed-while-failed, newest failure first.
func (pr *Projector) FailedActions(ctx context.Context, opts ListOpts) ([]*FailedItem, error) {
	candidates, err := pr.runs.ListRuns(ctx, run.ListOpts{
		States:     []run.State{run.StateFailed, run.StateDismissed},
		PlaybookID: opts.PlaybookID,
	})
	if err != nil {
		return nil, err
	}

	items := make([]*FailedItem, 0, len(candidates))
	for _, r := range candidates {
		// Dismissed runs only belong here when they were failed at
		// dismissal time; a dismissed pending run is simply closed.
		if r.State == run.StateDismissed && r.PriorState != run.StateFailed {
			continue
		}

		item, cust := pr.failedItem(ctx, r)
		if !pr.statusMatches(item, opts.Status) {
			continue
		}
		if !pr.matchSegment(cust, opts.SegmentID) {
			continue
		}
		if !matchSearch(opts.Search, item.CustomerName, item.PlaybookName, item.ErrorDetails) {
			continue
		}

		items = append(items, item)
	}

	return paginate(items, opts.Offset, opts.Limit), nil
}

// failedItem builds a FailedItem with its valid-operations set.
func (pr *Projector) failedItem(ctx context.Context, r *run.Run) (*FailedItem, *customer.Context) {
	pb, cust := pr.annotate(ctx, r)

	item := &FailedItem{
		Run:              r,
		CustomerName:     customerName(cust),
		FailedActionID:   r.FailedActionID,
		ErrorDetails:     r.ErrorDetails,
		Escalated:        r.IsEscalated(),
		EscalationReason: r.EscalationReason,
		Dismissed:        r.State == run.StateDismissed,
		DismissalReason:  r.DismissalReason,
	}
	if pb != nil {
		item.PlaybookName = pb.Name
		if a := pb.ActionByID(r.FailedActionID); a != nil {
			item.ActionType = a.Type
		}
	}

	switch {
	case item.Dismissed:
		item.Operations = []Operation{OpUndismiss}
	case item.Escalated:
		item.Operations = []Operation{OpRetryAction, OpRetryAll, OpDismiss}
	default:
		item.Operations = []Operation{OpRetryAction, OpRetryAll, OpEscalate, OpDismiss}
	}

	return item, cust
}

func (pr *Projector) statusMatches(item *FailedItem, status string) bool {
	switch status {
	case "":
		return true
	case "failed":
		return !item.Dismissed && !item.Escalated
	case "escalated":
		return item.Escalated && !item.Dismissed
	case "dismissed":
		return item.Dismissed
	default:
		return false
	}
}

// annotate resolves the run's playbook and customer, tolerating lookup
// failures so one missing record does not empty the queue.
func (pr *Projector) annotate(ctx context.Context, r *run.Run) (*playbook.Playbook, *customer.Context) {
	pb, err := pr.playbooks.GetPlaybook(ctx, r.PlaybookID)
	if err != nil {
		pr.logger.Warn("queue projection: playbook lookup failed",
			slog.String("run_id", r.ID.String()),
			slog.String("playbook_id", r.PlaybookID.String()),
			slog.String("error", err.Error()),
		)
		pb = nil
	}
	cust, err := pr.lookupCustomer(ctx, r.CustomerID)
	if err != nil {
		cust = nil
	}
	return pb, cust
}

func (pr *Projector) lookupCustomer(ctx context.Context, customerID id.CustomerID) (*customer.Context, error) {
	cust, err := pr.customers.GetCustomer(ctx, customerID)
	if err != nil {
		pr.logger.Warn("queue projection: customer lookup failed",
			slog.String("customer_id", customerID.String()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return cust, nil
}

func (pr *Projector) matchSegment(cust *customer.Context, segmentID id.SegmentID) bool {
	if segmentID.IsNil() {
		return true
	}
	if cust == nil {
		return false
	}
	for _, got := range cust.SegmentIDs {
		if got.String() == segmentID.String() {
			return true
		}
	}
	return false
}

func customerName(cust *customer.Context) string {
	if cust == nil {
		return ""
	}
	return cust.Name
}

func matchSearch(query string, fields ...string) bool {
	if query == "" {
		return true
	}
	q := strings.ToLower(query)
	for _, f := range fields {
		if f != "" && strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return []T{}
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
