// Package triage exposes the operator-facing run mutations: approve,
// snooze, dismiss, undismiss, escalate, and the retry operations that
// put a failed run back in front of the executor. Every operation
// works on one run or in bulk; bulk application is independent per run,
// so one failure never blocks the rest of a selection.
package triage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	pulse "github.com/PulseAIShared/pulse-engine"
	"github.com/PulseAIShared/pulse-engine/id"
	"github.com/PulseAIShared/pulse-engine/run"
)

// Resumer re-executes a run that a retry operation moved back to
// executing. The worker executor implements it.
type Resumer interface {
	Execute(ctx context.Context, r *run.Run) error
}

// Service wraps the run state machine with operator semantics.
type Service struct {
	machine *run.Machine
	runs    run.Store
	resumer Resumer
	logger  *slog.Logger

	wg sync.WaitGroup
}

// NewService creates a triage service. resumer may be nil, in which
// case retried runs are left executing for the caller to hand off.
func NewService(machine *run.Machine, runs run.Store, resumer Resumer, logger *slog.Logger) *Service {
	return &Service{
		machine: machine,
		runs:    runs,
		resumer: resumer,
		logger:  logger,
	}
}

// Approve clears a pending run for execution.
func (s *Service) Approve(ctx context.Context, runID id.RunID) (*run.Run, error) {
	return s.machine.Approve(ctx, runID)
}

// Snooze parks a pending run for the given number of hours.
func (s *Service) Snooze(ctx context.Context, runID id.RunID, hours int) (*run.Run, error) {
	return s.machine.Snooze(ctx, runID, hours)
}

// Dismiss closes a run, recording the operator's reason.
func (s *Service) Dismiss(ctx context.Context, runID id.RunID, reason string) (*run.Run, error) {
	return s.machine.Dismiss(ctx, runID, reason)
}

// Undismiss reopens a dismissed run in exactly the state it held before
// dismissal.
func (s *Service) Undismiss(ctx context.Context, runID id.RunID, reason string) (*run.Run, error) {
	return s.machine.Undismiss(ctx, runID, reason)
}

// Escalate flags a failed run for urgent attention. Retry and dismiss
// stay available on an escalated run.
func (s *Service) Escalate(ctx context.Context, runID id.RunID, reason string) (*run.Run, error) {
	return s.machine.Escalate(ctx, runID, reason)
}

// RetryAction resumes a failed run at the action that stopped it.
// actionID must name the run's failed action; already-succeeded actions
// are not re-executed.
func (s *Service) RetryAction(ctx context.Context, runID id.RunID, actionID id.ActionID) (*run.Run, error) {
	r, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if r.FailedActionID.IsNil() || r.FailedActionID.String() != actionID.String() {
		return nil, fmt.Errorf("%w: %s is not the failed action of run %s",
			pulse.ErrActionNotFound, actionID, runID)
	}

	resumed, err := s.machine.BeginRetry(ctx, runID, false)
	if err != nil {
		return nil, err
	}

	s.resume(resumed)
	return resumed, nil
}

// RetryAll restarts a failed run from its first action. External side
// effects of the earlier pass are not undone; connectors are idempotent
// under re-invocation.
func (s *Service) RetryAll(ctx context.Context, runID id.RunID) (*run.Run, error) {
	resumed, err := s.machine.BeginRetry(ctx, runID, true)
	if err != nil {
		return nil, err
	}

	s.resume(resumed)
	return resumed, nil
}

// resume hands the run to the executor off the caller's request path.
func (s *Service) resume(r *run.Run) {
	if s.resumer == nil {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.resumer.Execute(context.Background(), r); err != nil {
			s.logger.Debug("retried run failed again",
				slog.String("run_id", r.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Drain blocks until all in-flight retry executions finish.
func (s *Service) Drain() {
	s.wg.Wait()
}
