package triage

import (
	"context"
	"fmt"

	pulse "github.com/PulseAIShared/pulse-engine"
	"github.com/PulseAIShared/pulse-engine/id"
	"github.com/PulseAIShared/pulse-engine/run"
)

// Result is the outcome of one run within a bulk operation.
type Result struct {
	RunID id.RunID `json:"run_id"`
	Run   *run.Run `json:"run,omitempty"`
	Err   error    `json:"-"`
	Error string   `json:"error,omitempty"`
}

// each applies op to every run independently. Failures are recorded in
// the result, never propagated; the selection is a set of independent
// operations, not a transaction.
func each(ctx context.Context, runIDs []id.RunID, op func(ctx context.Context, runID id.RunID) (*run.Run, error)) []Result {
	results := make([]Result, 0, len(runIDs))
	for _, runID := range runIDs {
		res := Result{RunID: runID}
		r, err := op(ctx, runID)
		if err != nil {
			res.Err = err
			res.Error = err.Error()
		} else {
			res.Run = r
		}
		results = append(results, res)
	}
	return results
}

// BulkApprove approves every run in the selection.
func (s *Service) BulkApprove(ctx context.Context, runIDs []id.RunID) []Result {
	return each(ctx, runIDs, s.Approve)
}

// BulkSnooze snoozes every run in the selection for the same duration.
func (s *Service) BulkSnooze(ctx context.Context, runIDs []id.RunID, hours int) []Result {
	return each(ctx, runIDs, func(ctx context.Context, runID id.RunID) (*run.Run, error) {
		return s.Snooze(ctx, runID, hours)
	})
}

// BulkDismiss dismisses every run in the selection with one reason.
func (s *Service) BulkDismiss(ctx context.Context, runIDs []id.RunID, reason string) []Result {
	return each(ctx, runIDs, func(ctx context.Context, runID id.RunID) (*run.Run, error) {
		return s.Dismiss(ctx, runID, reason)
	})
}

// BulkUndismiss reopens every run in the selection.
func (s *Service) BulkUndismiss(ctx context.Context, runIDs []id.RunID, reason string) []Result {
	return each(ctx, runIDs, func(ctx context.Context, runID id.RunID) (*run.Run, error) {
		return s.Undismiss(ctx, runID, reason)
	})
}

// BulkEscalate escalates every run in the selection.
func (s *Service) BulkEscalate(ctx context.Context, runIDs []id.RunID, reason string) []Result {
	return each(ctx, runIDs, func(ctx context.Context, runID id.RunID) (*run.Run, error) {
		return s.Escalate(ctx, runID, reason)
	})
}

// BulkRetryAction resumes every failed run in the selection at its own
// failed action. Runs record which action failed, so no shared action ID
// is taken; a run without one is reported as a per-item error.
func (s *Service) BulkRetryAction(ctx context.Context, runIDs []id.RunID) []Result {
	return each(ctx, runIDs, func(ctx context.Context, runID id.RunID) (*run.Run, error) {
		r, err := s.runs.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if r.FailedActionID.IsNil() {
			return nil, fmt.Errorf("%w: run %s has no failed action", pulse.ErrActionNotFound, runID)
		}
		return s.RetryAction(ctx, runID, r.FailedActionID)
	})
}

// BulkRetryAll restarts every failed run in the selection from its
// first action.
func (s *Service) BulkRetryAll(ctx context.Context, runIDs []id.RunID) []Result {
	return each(ctx, runIDs, s.RetryAll)
}
