package engine

import (
	"context"
	"errors"
	"log/slog"

	pulse "github.com/PulseAIShared/pulse-engine"
	"github.com/PulseAIShared/pulse-engine/admit"
	"github.com/PulseAIShared/pulse-engine/match"
	"github.com/PulseAIShared/pulse-engine/playbook"
	"github.com/PulseAIShared/pulse-engine/run"
	"github.com/PulseAIShared/pulse-engine/signal"
)

// IngestResult reports what one signal caused: which playbooks it
// matched and, per match, the run created or the admission rejection.
type IngestResult struct {
	Signal *signal.Signal

	// Matched holds the qualifying playbooks in priority order.
	Matched []*playbook.Playbook

	// Runs holds the runs admission created, one per accepted match.
	Runs []*run.Run

	// Rejections holds the declined admissions keyed by playbook ID string.
	Rejections map[string]*admit.Rejection
}

// Ingest accepts a raw risk event and drives it through the full intake
// pipeline: normalize and persist the signal, match it against active
// signal-triggered playbooks, and admit each match. The signal is
// persisted even when the customer is unknown or nothing matches, so
// the event trail stays complete.
//
// Admission rejections are not errors; they land in the result. An
// error return means the signal itself could not be processed.
func (eng *Engine) Ingest(ctx context.Context, raw signal.RawEvent) (*IngestResult, error) {
	sig, err := eng.intake.Accept(ctx, raw)
	if err != nil {
		return nil, err
	}
	eng.extensions.EmitSignalReceived(ctx, sig)

	res := &IngestResult{
		Signal:     sig,
		Rejections: make(map[string]*admit.Rejection),
	}

	cust, err := eng.customers.GetCustomer(ctx, sig.CustomerID)
	if err != nil {
		if errors.Is(err, pulse.ErrCustomerNotFound) {
			// No customer context, no matching. The signal is kept.
			eng.logger.Debug("signal for unknown customer",
				slog.String("signal_id", sig.ID.String()),
				slog.String("customer_id", sig.CustomerID.String()),
			)
			return res, nil
		}
		return nil, err
	}

	candidates, err := eng.store.ListPlaybooks(ctx, playbook.ListOpts{
		Status:      playbook.StatusActive,
		TriggerType: playbook.TriggerSignal,
	})
	if err != nil {
		return nil, err
	}

	res.Matched = match.Match(sig, cust, candidates)

	for _, p := range res.Matched {
		eng.extensions.EmitSignalMatched(ctx, sig, p)

		rn, rej, admitErr := eng.admitter.Admit(ctx, p, sig, cust)
		if admitErr != nil {
			return nil, admitErr
		}
		if rej != nil {
			res.Rejections[p.ID.String()] = rej
			continue
		}
		res.Runs = append(res.Runs, rn)
	}

	if len(res.Matched) > 0 {
		eng.logger.Info("signal ingested",
			slog.String("signal_id", sig.ID.String()),
			slog.String("type", sig.Type),
			slog.Int("matched", len(res.Matched)),
			slog.Int("admitted", len(res.Runs)),
		)
	}

	return res, nil
}
