// Package throttle gates outbound action dispatch per connector type
// and per customer.
//
// Every external gateway the engine talks to (Stripe, Slack, the CRM,
// the email service) tolerates a different request volume. Rather than
// sizing the worker pool for the slowest gateway, workers consult a
// [Governor] before dispatching each action and skip actions whose
// connector is saturated, picking them up again on a later pass.
//
// # Per-Connector Limits
//
// Use [Limit] to cap rate and in-flight actions per connector type:
//
//	throttle.Limit{
//	    Type:        playbook.ActionEmail,
//	    MaxInFlight: 5,   // max 5 concurrent email sends
//	    PerSecond:   10,  // sustained 10 dispatches/s
//	    Burst:       20,  // allow bursts up to 20
//	}
//
// # Per-Customer Limits
//
// [CustomerLimit] additionally caps a single customer on a connector
// type, so one account cannot absorb the whole budget:
//
//	g.SetCustomerLimit(throttle.CustomerLimit{
//	    Type:        playbook.ActionEmail,
//	    CustomerID:  cust.ID.String(),
//	    MaxInFlight: 1,
//	})
//
// # Governor
//
// [Governor] enforces both at dispatch time using a token-bucket rate
// limiter (golang.org/x/time/rate) and an in-flight gate:
//
//	g := throttle.NewGovernor(limits...)
//	if g.Acquire(action.Type, customerID) {
//	    defer g.Release(action.Type, customerID)
//	    // dispatch the action
//	}
//
// Connector types without a [Limit] are not gated beyond the pool-wide
// concurrency.
package throttle
