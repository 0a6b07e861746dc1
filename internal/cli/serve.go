package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/GoPolymarket/trading-gateway/internal/api"
	"github.com/GoPolymarket/trading-gateway/internal/app"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway with its HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			logger := cfg.NewLogger(os.Stderr)
			logger.Info("gateway starting",
				"version", Version,
				"profile", cfg.Profile,
				"strict", cfg.StrictMode,
				"rate_per_minute", cfg.RateLimit.MaxPerMinute,
				"max_pending", cfg.Confirmation.MaxPending,
				"audit", cfg.Audit.Enabled,
				"telegram", cfg.Telegram.Enabled,
			)

			a, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return a.Run(ctx) })
			if cfg.API.Enabled {
				srv := api.NewServer(cfg.API.Addr, a, logger)
				if err := srv.Start(ctx); err != nil {
					return err
				}
				g.Go(func() error {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
			}

			err = g.Wait()
			logger.Info("gateway stopped", "counters", a.Gateway().Snapshot().Counters)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}
