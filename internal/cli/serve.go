package cli

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"coinpulse/internal/config"
	"coinpulse/internal/market/resource"
	"coinpulse/internal/obs"
	httpserver "coinpulse/internal/server/http"
	"coinpulse/pkg/logger"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway and keep dashboard resources refreshed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// the router reads APP_ENV for dev-only routes
			if err := os.Setenv("APP_ENV", appEnv); err != nil {
				return err
			}
			cleanup := logger.Setup(appEnv)
			defer cleanup()

			conf, err := config.Build(configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, conf)
		},
	}
}

func serve(ctx context.Context, conf *config.FinalConfig) error {
	metrics := obs.NewMetrics()
	st, cleanup, err := buildStack(ctx, conf, metrics)
	if err != nil {
		return err
	}
	defer cleanup()

	hub := resource.NewHub(st.fetcher, conf.Resources, nil)
	srv := httpserver.New(conf, hub, metrics)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return srv.Start(gctx) })

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[coinpulse] stopped with error: %v", err)
		return err
	}
	log.Printf("[coinpulse] stopped")
	return nil
}
