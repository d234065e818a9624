// Package middleware provides composable middleware for action execution.
// Middleware wraps connector dispatch synchronously and can modify
// execution (recover from panics, log, add tracing, enforce timeouts).
package middleware

import (
	"context"

	"github.com/PulseAIShared/pulse-engine/playbook"
	"github.com/PulseAIShared/pulse-engine/run"
)

// Handler is the terminal function that dispatches the action.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic.
// It receives the current context, the run and action being executed,
// and the next handler to call. Middleware MUST call next to continue
// the chain (unless short-circuiting on error).
type Middleware func(ctx context.Context, r *run.Run, a *playbook.Action, next Handler) error

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recovers, timeout) executes as:
//
//	logging → recovers → timeout → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, r *run.Run, a *playbook.Action, next Handler) error {
		// Build the chain from the end backwards.
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, r, a, prev)
			}
		}
		return h(ctx)
	}
}
