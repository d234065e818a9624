// Package match implements the playbook matcher: a pure function from one
// signal plus customer context to the ordered set of playbooks whose
// trigger predicates it satisfies. Matching has no side effects and is
// safe to call concurrently for different signals.
package match

import (
	"sort"

	"github.com/PulseAIShared/pulse-engine/customer"
	"github.com/PulseAIShared/pulse-engine/playbook"
	"github.com/PulseAIShared/pulse-engine/signal"
)

// Match returns the active playbooks whose trigger predicates the signal
// satisfies, ordered by priority ascending (lower value first) with
// playbook ID as the deterministic tie-breaker.
//
// A playbook qualifies iff all of:
//   - it is Active and signal-triggered
//   - the signal type equals the trigger's signal type
//   - every configured threshold is met (absent thresholds don't constrain)
//   - every required source is present on the signal
//   - the customer belongs to a target segment (empty set = all customers)
//   - the confidence gate passes: signal confidence ≥ the playbook minimum,
//     waived entirely when the playbook's confidence mode is manual
func Match(sig *signal.Signal, cust *customer.Context, playbooks []*playbook.Playbook) []*playbook.Playbook {
	candidates := make([]*playbook.Playbook, 0, len(playbooks))
	for _, p := range playbooks {
		if Qualifies(sig, cust, p) {
			candidates = append(candidates, p)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].ID.String() < candidates[j].ID.String()
	})

	return candidates
}

// Qualifies reports whether a single playbook's trigger predicate is
// satisfied by the signal and customer context.
func Qualifies(sig *signal.Signal, cust *customer.Context, p *playbook.Playbook) bool {
	if !p.IsActive() || p.TriggerType != playbook.TriggerSignal {
		return false
	}
	if p.Trigger.SignalType != sig.Type {
		return false
	}
	if !p.Trigger.Satisfied(sig) {
		return false
	}
	if !p.TargetsSegment(cust.SegmentIDs) {
		return false
	}
	if p.ConfidenceMode != playbook.ConfidenceManual && !sig.Confidence.AtLeast(p.MinConfidence) {
		return false
	}
	return true
}
