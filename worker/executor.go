// Package worker provides the run execution engine — an Executor that
// dispatches a claimed run's actions through connectors and middleware,
// and a Pool that manages concurrent worker goroutines claiming
// approved runs.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/PulseAIShared/pulse-engine/connector"
	"github.com/PulseAIShared/pulse-engine/customer"
	"github.com/PulseAIShared/pulse-engine/ext"
	"github.com/PulseAIShared/pulse-engine/middleware"
	"github.com/PulseAIShared/pulse-engine/playbook"
	"github.com/PulseAIShared/pulse-engine/run"
	"github.com/PulseAIShared/pulse-engine/signal"
)

// Governor gates outbound dispatch per connector type and customer.
// The executor calls Acquire before each connector call and Release
// after it completes.
type Governor interface {
	// Acquire claims a dispatch slot for the connector type and
	// customer. Returns false when the connector is saturated.
	Acquire(typ playbook.ActionType, customerID string) bool
	// Release frees the slot claimed by Acquire.
	Release(typ playbook.ActionType, customerID string)
}

// throttleRetryInterval is how long a worker waits before re-checking a
// saturated connector gate.
const throttleRetryInterval = 100 * time.Millisecond

// Executor runs one claimed run's remaining actions in order through
// the middleware chain and connector registry, then settles the run via
// the state machine.
type Executor struct {
	machine        *run.Machine
	connectors     *connector.Registry
	playbooks      playbook.Store
	signals        signal.Store
	customers      customer.Source
	extensions     *ext.Registry
	governor       Governor
	mw             middleware.Middleware
	maxErrorDetail int
	logger         *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
// governor may be nil to dispatch ungated. maxErrorDetail caps the
// error text recorded on a failed run; zero means no truncation.
func NewExecutor(
	machine *run.Machine,
	connectors *connector.Registry,
	playbooks playbook.Store,
	signals signal.Store,
	customers customer.Source,
	extensions *ext.Registry,
	governor Governor,
	maxErrorDetail int,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		machine:        machine,
		connectors:     connectors,
		playbooks:      playbooks,
		signals:        signals,
		customers:      customers,
		extensions:     extensions,
		governor:       governor,
		mw:             middleware.Chain(mws...),
		maxErrorDetail: maxErrorDetail,
		logger:         logger,
	}
}

// Execute dispatches the run's unexecuted actions in order. Actions the
// run already executed (a resume after a mid-sequence retry) are
// skipped. The first connector error stops execution and fails the run;
// failed runs wait for operator triage and are never retried here.
func (e *Executor) Execute(ctx context.Context, r *run.Run) error {
	pb, err := e.playbooks.GetPlaybook(ctx, r.PlaybookID)
	if err != nil {
		return e.fail(ctx, r, playbook.Action{}, fmt.Errorf("load playbook %s: %w", r.PlaybookID, err))
	}

	cust, err := e.customers.GetCustomer(ctx, r.CustomerID)
	if err != nil {
		return e.fail(ctx, r, playbook.Action{}, fmt.Errorf("load customer %s: %w", r.CustomerID, err))
	}

	// Scheduled runs carry no originating signal.
	var sig *signal.Signal
	if !r.SignalID.IsNil() {
		sig, err = e.signals.GetSignal(ctx, r.SignalID)
		if err != nil {
			return e.fail(ctx, r, playbook.Action{}, fmt.Errorf("load signal %s: %w", r.SignalID, err))
		}
	}

	for _, a := range pb.OrderedActions() {
		if r.HasExecuted(a.ID) {
			continue
		}

		if err := e.dispatch(ctx, r, &a, cust, sig); err != nil {
			return e.fail(ctx, r, a, err)
		}

		if err := e.machine.RecordActionExecuted(ctx, r, a.ID); err != nil {
			// Lost the run to a concurrent mutation (operator dismissed
			// it mid-flight, or a reaper reclaimed it). Stop without
			// settling; whoever won owns the run now.
			e.logger.Warn("could not record executed action",
				slog.String("run_id", r.ID.String()),
				slog.String("action_id", a.ID.String()),
				slog.String("error", err.Error()),
			)
			return err
		}
	}

	return e.machine.Complete(ctx, r)
}

// dispatch runs a single action through the middleware chain and its
// connector, waiting for the throttle gate when the connector type is
// saturated.
func (e *Executor) dispatch(ctx context.Context, r *run.Run, a *playbook.Action, cust *customer.Context, sig *signal.Signal) error {
	if e.governor != nil {
		for !e.governor.Acquire(a.Type, r.CustomerID.String()) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(throttleRetryInterval):
			}
		}
		defer e.governor.Release(a.Type, r.CustomerID.String())
	}

	e.extensions.EmitActionStarted(ctx, r, a)
	start := time.Now()

	req := &connector.Request{
		Run:      r,
		Action:   a,
		Customer: cust,
		Signal:   sig,
	}

	terminal := func(ctx context.Context) error {
		return e.connectors.Dispatch(ctx, req)
	}

	err := e.mw(ctx, r, a, terminal)
	elapsed := time.Since(start)

	if err != nil {
		e.extensions.EmitActionFailed(ctx, r, a, err)
		return err
	}

	e.extensions.EmitActionCompleted(ctx, r, a, elapsed)
	return nil
}

// fail settles the run as failed with a truncated error detail.
func (e *Executor) fail(ctx context.Context, r *run.Run, a playbook.Action, actionErr error) error {
	detail := actionErr.Error()
	if e.maxErrorDetail > 0 && len(detail) > e.maxErrorDetail {
		detail = detail[:e.maxErrorDetail]
	}

	if failErr := e.machine.Fail(ctx, r, a.ID, detail); failErr != nil {
		e.logger.Error("failed to settle run after action error",
			slog.String("run_id", r.ID.String()),
			slog.String("action_error", detail),
			slog.String("error", failErr.Error()),
		)
		return failErr
	}

	return actionErr
}
