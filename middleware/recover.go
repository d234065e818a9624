package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/PulseAIShared/pulse-engine/playbook"
	"github.com/PulseAIShared/pulse-engine/run"
)

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to errors and logged with a stack trace, so one
// misbehaving connector cannot take down the worker pool.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, r *run.Run, a *playbook.Action, next Handler) (retErr error) {
		defer func() {
			if rec := recover(); rec != nil {
				stack := string(debug.Stack())
				logger.Error("connector panicked",
					slog.String("run_id", r.ID.String()),
					slog.String("action_type", string(a.Type)),
					slog.Any("panic", rec),
					slog.String("stack", stack),
				)
				retErr = fmt.Errorf("panic in %s action: %v", a.Type, rec)
			}
		}()
		return next(ctx)
	}
}
