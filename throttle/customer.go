package throttle

import (
	"fmt"

	"golang.org/x/time/rate"

	"github.com/PulseAIShared/pulse-engine/playbook"
)

// CustomerLimit gates a single customer on a single connector type. It
// keeps one noisy account from absorbing a connector's whole budget and
// caps how much automated outreach any customer receives at once.
type CustomerLimit struct {
	// Type is the connector type this limit applies to.
	Type playbook.ActionType

	// CustomerID identifies the customer being gated.
	CustomerID string

	// PerSecond is the sustained dispatch rate for this customer.
	PerSecond float64

	// Burst is the token-bucket burst size for the customer's limiter.
	Burst int

	// MaxInFlight limits simultaneous actions for this customer on
	// this connector type. Zero means no customer-specific cap.
	MaxInFlight int
}

// customerGate tracks runtime state for a single type+customer pair.
type customerGate struct {
	limiter     *rate.Limiter
	maxInFlight int
	inFlight    int
}

// customerKey builds the map key for a type+customer pair.
func customerKey(typ playbook.ActionType, customerID string) string {
	return fmt.Sprintf("%s:%s", typ, customerID)
}

// SetCustomerLimit configures gating for a specific customer on a
// specific connector type. Calling this again for the same pair
// replaces the previous limit.
func (g *Governor) SetCustomerLimit(lim CustomerLimit) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := customerKey(lim.Type, lim.CustomerID)
	existing := g.customers[key]

	cg := &customerGate{
		maxInFlight: lim.MaxInFlight,
	}
	if lim.PerSecond > 0 {
		burst := lim.Burst
		if burst <= 0 {
			burst = 1
		}
		cg.limiter = rate.NewLimiter(rate.Limit(lim.PerSecond), burst)
	}

	// Preserve current in-flight count if reconfiguring.
	if existing != nil {
		cg.inFlight = existing.inFlight
	}
	g.customers[key] = cg
}

// CustomerInFlight returns the number of actions currently executing
// for a type+customer pair.
func (g *Governor) CustomerInFlight(typ playbook.ActionType, customerID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cg := g.customers[customerKey(typ, customerID)]; cg != nil {
		return cg.inFlight
	}
	return 0
}
