// Package admit implements admission control for playbook runs: cooldown
// and concurrency limits, serialized per (playbook, customer) pair. It is
// the only component that creates runs.
package admit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	pulse "github.com/PulseAIShared/pulse-engine"
	"github.com/PulseAIShared/pulse-engine/customer"
	"github.com/PulseAIShared/pulse-engine/id"
	"github.com/PulseAIShared/pulse-engine/playbook"
	"github.com/PulseAIShared/pulse-engine/run"
	"github.com/PulseAIShared/pulse-engine/signal"
)

// Reason classifies why admission was declined. Rejections are normal
// flow control, not errors: the signal is simply not actioned by that
// playbook and nothing surfaces to a user.
type Reason string

const (
	// ReasonCooldownActive means a run for the same (playbook, customer)
	// pair was created within the cooldown window.
	ReasonCooldownActive Reason = "cooldown_active"
	// ReasonConcurrencyLimit means the playbook already has its maximum
	// number of runs in flight.
	ReasonConcurrencyLimit Reason = "concurrency_limit"
	// ReasonPlaybookInactive means the playbook left Active status
	// between matching and admission.
	ReasonPlaybookInactive Reason = "playbook_inactive"
)

// Rejection describes a declined admission.
type Rejection struct {
	Reason Reason `json:"reason"`

	// RetryAfter is when the constraint may clear. Only set for cooldown
	// rejections.
	RetryAfter *time.Time `json:"retry_after,omitempty"`
}

// Emitter receives admission notifications. The ext registry satisfies
// this interface.
type Emitter interface {
	EmitRunCreated(ctx context.Context, r *run.Run)
	EmitAdmissionRejected(ctx context.Context, p *playbook.Playbook, sig *signal.Signal, reason string)
}

type nopEmitter struct{}

func (nopEmitter) EmitRunCreated(context.Context, *run.Run) {}
func (nopEmitter) EmitAdmissionRejected(context.Context, *playbook.Playbook, *signal.Signal, string) {
}

// Admitter decides whether a matched playbook may act on a signal, and
// creates the run when it may. Admission decisions for a given
// (playbook, customer) pair are serialized through a per-key lock so
// concurrent signals cannot double-admit.
type Admitter struct {
	runs    run.Store
	emitter Emitter
	logger  *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewAdmitter creates an Admitter. emitter may be nil.
func NewAdmitter(runs run.Store, emitter Emitter, logger *slog.Logger) *Admitter {
	if emitter == nil {
		emitter = nopEmitter{}
	}
	return &Admitter{
		runs:    runs,
		emitter: emitter,
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Admit applies cooldown and concurrency checks for the playbook against
// the customer and creates the run when both pass. Exactly one of the
// returns is non-nil besides the error. sig is nil for scheduled and
// manual firings.
//
// Cooldown anchors on the creation time of the most recent run for the
// same (playbook, customer) pair regardless of its outcome, so a pair
// cannot be re-admitted while a prior run is still settling.
func (a *Admitter) Admit(ctx context.Context, p *playbook.Playbook, sig *signal.Signal, cust *customer.Context) (*run.Run, *Rejection, error) {
	unlock := a.lockPair(p.ID, cust.ID)
	defer unlock()

	if !p.IsActive() {
		return nil, a.reject(ctx, p, sig, &Rejection{Reason: ReasonPlaybookInactive}), nil
	}

	now := time.Now().UTC()

	if p.CooldownHours > 0 {
		latest, err := a.runs.LatestRunFor(ctx, p.ID, cust.ID)
		if err != nil {
			return nil, nil, err
		}
		if latest != nil {
			clear := latest.CreatedAt.Add(p.Cooldown())
			if now.Before(clear) {
				return nil, a.reject(ctx, p, sig, &Rejection{
					Reason:     ReasonCooldownActive,
					RetryAfter: &clear,
				}), nil
			}
		}
	}

	active, err := a.runs.CountActiveRuns(ctx, p.ID)
	if err != nil {
		return nil, nil, err
	}
	if active >= int64(p.MaxConcurrentRuns) {
		return nil, a.reject(ctx, p, sig, &Rejection{Reason: ReasonConcurrencyLimit}), nil
	}

	// Scheduled and manual firings carry no signal.
	var sigID id.SignalID
	if sig != nil {
		sigID = sig.ID
	}

	r := &run.Run{
		Entity:         pulse.NewEntity(),
		ID:             id.NewRunID(),
		PlaybookID:     p.ID,
		CustomerID:     cust.ID,
		SignalID:       sigID,
		State:          run.StatePending,
		PotentialValue: cust.PotentialValue,
		Currency:       cust.Currency,
	}

	// Automatic playbooks skip the approval gate: the run is admitted
	// directly into the approved state and picked up by the pool.
	if p.ExecutionMode == playbook.ExecAutomatic {
		r.State = run.StateApproved
		r.ApprovedAt = &now
	}

	if err := a.runs.CreateRun(ctx, r); err != nil {
		// The per-pair lock serializes admissions on this node only; with
		// a shared backend, another node may have admitted the pair first
		// and the store's single-open-run constraint catches it. That is a
		// rejection, not a failure.
		if errors.Is(err, pulse.ErrOpenRunExists) {
			return nil, a.reject(ctx, p, sig, &Rejection{Reason: ReasonConcurrencyLimit}), nil
		}
		return nil, nil, err
	}

	a.emitter.EmitRunCreated(ctx, r)
	a.logger.Info("run admitted",
		slog.String("run_id", r.ID.String()),
		slog.String("playbook_id", p.ID.String()),
		slog.String("customer_id", cust.ID.String()),
		slog.String("state", string(r.State)),
	)

	return r, nil, nil
}

func (a *Admitter) reject(ctx context.Context, p *playbook.Playbook, sig *signal.Signal, rej *Rejection) *Rejection {
	a.emitter.EmitAdmissionRejected(ctx, p, sig, string(rej.Reason))
	// sig is nil for scheduled and manual firings.
	var sigID string
	if sig != nil {
		sigID = sig.ID.String()
	}
	a.logger.Debug("admission rejected",
		slog.String("playbook_id", p.ID.String()),
		slog.String("signal_id", sigID),
		slog.String("reason", string(rej.Reason)),
	)
	return rej
}

// lockPair serializes admission for one (playbook, customer) pair.
func (a *Admitter) lockPair(playbookID id.PlaybookID, customerID id.CustomerID) func() {
	key := playbookID.String() + "/" + customerID.String()

	a.mu.Lock()
	l, ok := a.locks[key]
	if !ok {
		l = &sync.Mutex{}
		a.locks[key] = l
	}
	a.mu.Unlock()

	l.Lock()
	return l.Unlock
}
