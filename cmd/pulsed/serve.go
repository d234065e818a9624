package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	pulse "github.com/PulseAIShared/pulse-engine"
	"github.com/PulseAIShared/pulse-engine/engine"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engine until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			logger := cfg.logger()

			st, err := cfg.openStore(ctx, logger)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}

			if err := st.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}

			c, err := pulse.New(
				pulse.WithStore(st),
				pulse.WithLogger(logger),
				pulse.WithConfig(cfg.pulseConfig()),
			)
			if err != nil {
				return err
			}

			eng, err := engine.Build(c)
			if err != nil {
				return err
			}

			if err := eng.Start(ctx); err != nil {
				return fmt.Errorf("start engine: %w", err)
			}
			logger.Info("pulsed started",
				slog.String("store", cfg.Store.Driver),
				slog.String("version", Version),
			)

			<-ctx.Done()
			logger.Info("shutting down")

			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.pulseConfig().ShutdownTimeout)
			defer cancel()
			return eng.Stop(stopCtx)
		},
	}
}
