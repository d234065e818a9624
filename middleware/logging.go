package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/PulseAIShared/pulse-engine/playbook"
	"github.com/PulseAIShared/pulse-engine/run"
)

// Logging returns middleware that logs action start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, r *run.Run, a *playbook.Action, next Handler) error {
		logger.Info("action started",
			slog.String("run_id", r.ID.String()),
			slog.String("action_id", a.ID.String()),
			slog.String("action_type", string(a.Type)),
			slog.Int("order_index", a.OrderIndex),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("action failed",
				slog.String("run_id", r.ID.String()),
				slog.String("action_id", a.ID.String()),
				slog.String("action_type", string(a.Type)),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("action completed",
				slog.String("run_id", r.ID.String()),
				slog.String("action_id", a.ID.String()),
				slog.String("action_type", string(a.Type)),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
