package middleware

import (
	"context"
	"time"

	"github.com/PulseAIShared/pulse-engine/playbook"
	"github.com/PulseAIShared/pulse-engine/run"
)

// Timeout returns middleware that enforces a per-action deadline. The
// action's own Timeout wins when set; fallback applies otherwise. The
// deadline converts a hung connector call into a failed transition
// instead of a stuck run.
func Timeout(fallback time.Duration) Middleware {
	return func(ctx context.Context, _ *run.Run, a *playbook.Action, next Handler) error {
		limit := a.Timeout
		if limit <= 0 {
			limit = fallback
		}
		if limit > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, limit)
			defer cancel()
		}
		return next(ctx)
	}
}
