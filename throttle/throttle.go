package throttle

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/PulseAIShared/pulse-engine/playbook"
)

// Limit defines outbound gating for a single connector type. External
// gateways (Stripe, Slack, CRM, email) each tolerate different request
// volumes, so dispatch is gated per action type rather than per worker.
type Limit struct {
	// Type is the connector this limit applies to.
	Type playbook.ActionType

	// MaxInFlight caps how many actions of this type may be executing
	// simultaneously across the local worker pool. Zero means no
	// per-type cap (pool-wide concurrency still applies).
	MaxInFlight int

	// PerSecond is the maximum sustained dispatch rate for this type.
	// Zero disables rate limiting.
	PerSecond float64

	// Burst is the token-bucket burst size. Defaults to 1 when
	// PerSecond is set but Burst is zero.
	Burst int
}

// gate tracks runtime state for a single connector type.
type gate struct {
	limit    Limit
	limiter  *rate.Limiter
	inFlight int
}

// Governor enforces per-connector-type and per-customer dispatch limits.
// It is safe for concurrent use.
type Governor struct {
	mu        sync.Mutex
	gates     map[playbook.ActionType]*gate
	customers map[string]*customerGate
}

// NewGovernor creates a Governor with the given connector limits.
// Connector types not listed here are not gated.
func NewGovernor(limits ...Limit) *Governor {
	g := &Governor{
		gates:     make(map[playbook.ActionType]*gate, len(limits)),
		customers: make(map[string]*customerGate),
	}
	for _, lim := range limits {
		g.gates[lim.Type] = newGate(lim)
	}
	return g
}

func newGate(lim Limit) *gate {
	gt := &gate{limit: lim}
	if lim.PerSecond > 0 {
		burst := lim.Burst
		if burst <= 0 {
			burst = 1
		}
		gt.limiter = rate.NewLimiter(rate.Limit(lim.PerSecond), burst)
	}
	return gt
}

// Acquire checks rate and in-flight limits for the given connector type
// and customer. If dispatch may proceed it claims a slot and returns
// true. The caller MUST call Release when the action finishes. A false
// return means the action should be tried again on a later poll, not
// failed.
func (g *Governor) Acquire(typ playbook.ActionType, customerID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	gt := g.gates[typ]
	if gt != nil {
		if gt.limiter != nil && !gt.limiter.Allow() {
			return false
		}
		if gt.limit.MaxInFlight > 0 && gt.inFlight >= gt.limit.MaxInFlight {
			return false
		}
	}

	if customerID != "" {
		cg := g.customers[customerKey(typ, customerID)]
		if cg != nil {
			if cg.limiter != nil && !cg.limiter.Allow() {
				return false
			}
			if cg.maxInFlight > 0 && cg.inFlight >= cg.maxInFlight {
				return false
			}
			cg.inFlight++
		}
	}

	if gt != nil {
		gt.inFlight++
	}

	return true
}

// Release frees the slot claimed by a successful Acquire.
func (g *Governor) Release(typ playbook.ActionType, customerID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if gt := g.gates[typ]; gt != nil && gt.inFlight > 0 {
		gt.inFlight--
	}

	if customerID != "" {
		if cg := g.customers[customerKey(typ, customerID)]; cg != nil && cg.inFlight > 0 {
			cg.inFlight--
		}
	}
}

// SetLimit dynamically updates (or creates) a connector-type limit.
func (g *Governor) SetLimit(lim Limit) {
	g.mu.Lock()
	defer g.mu.Unlock()

	existing := g.gates[lim.Type]
	gt := newGate(lim)

	// Preserve current in-flight count if reconfiguring.
	if existing != nil {
		gt.inFlight = existing.inFlight
	}
	g.gates[lim.Type] = gt
}

// InFlight returns the number of actions of a type currently executing.
func (g *Governor) InFlight(typ playbook.ActionType) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if gt := g.gates[typ]; gt != nil {
		return gt.inFlight
	}
	return 0
}
