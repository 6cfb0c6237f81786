// internal/cli/serve.go
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jules-labs/libranexus/internal/auth"
	"github.com/jules-labs/libranexus/internal/catalog"
	"github.com/jules-labs/libranexus/internal/circulation"
	"github.com/jules-labs/libranexus/internal/config"
	"github.com/jules-labs/libranexus/internal/membership"
	"github.com/jules-labs/libranexus/internal/notify"
	"github.com/jules-labs/libranexus/internal/scheduler"
	"github.com/jules-labs/libranexus/internal/server"
	"github.com/jules-labs/libranexus/internal/telemetry"
)

func newServeCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the nightly sweep",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("config: %w", err)
			}
			logger, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) (err error) {
	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()
		err = errors.Join(err, a.Close(closeCtx), shutdownTelemetry(closeCtx))
	}()

	if a.dispatcher != nil {
		a.dispatcher.Start(ctx)
	}
	if cfg.Sweep.Enabled {
		sweeper := scheduler.NewSweepScheduler(a.lending, cfg.SweepConfig(), logger)
		if err := sweeper.Start(ctx); err != nil {
			return err
		}
		defer sweeper.Stop()
	}

	tokens := auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL)
	srv := server.New(server.Config{
		Port:            cfg.Port,
		ShutdownTimeout: cfg.ShutdownTimeout,
		RatePerSecond:   cfg.RatePerSecond,
		RateBurst:       cfg.RateBurst,
	}, tokens, server.Handlers{
		Members:     membership.NewHandler(a.members, tokens),
		Catalog:     catalog.NewHandler(a.titles),
		Circulation: circulation.NewHandler(a.lending),
		Notices:     notify.NewHandler(a.inbox),
	}, logger)

	logger.Info("libranexus starting", "store", cfg.Store, "port", cfg.Port, "sweep", cfg.Sweep.Enabled)
	return srv.Run(ctx)
}
