package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/polarsource/polar-sub002/api"
	"github.com/polarsource/polar-sub002/ingress"
)

const defaultShutdownTimeout = 30 * time.Second

func workerCmd(configPath *string) *cobra.Command {
	var withHTTP bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the task workers and the cron scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			if err := a.engine.Start(ctx); err != nil {
				return errors.Join(err, a.close(context.Background()))
			}
			a.logger.Info("worker started",
				slog.Int("concurrency", a.settings.Worker.Concurrency),
				slog.Any("queues", a.settings.Worker.Queues),
				slog.Int("actors", len(a.engine.Registry().Names())),
			)

			g, gctx := errgroup.WithContext(ctx)
			if withHTTP {
				g.Go(func() error { return serveHTTP(gctx, a) })
			}
			g.Go(func() error {
				<-gctx.Done()
				return nil
			})
			runErr := g.Wait()

			a.logger.Info("worker stopping")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(a))
			defer cancel()
			return errors.Join(runErr, a.close(shutdownCtx))
		},
	}

	cmd.Flags().BoolVar(&withHTTP, "ingress", false, "also serve the webhook ingress and the admin API")

	return cmd
}

func ingressCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "ingress",
		Short: "Serve the webhook ingress and the admin API without running workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			runErr := serveHTTP(ctx, a)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(a))
			defer cancel()
			return errors.Join(runErr, a.close(shutdownCtx))
		},
	}
}

// serveHTTP serves the ingress with the admin API mounted until ctx ends.
func serveHTTP(ctx context.Context, a *app) error {
	if a.settings.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	in := ingress.New(a.billing.ExternalEvents, a.engine, a.settings.Stripe.WebhookSecret,
		ingress.WithLogger(a.logger),
		ingress.WithRoutes(api.New(a.engine, api.WithBilling(a.billing)).RegisterRoutes),
	)
	if a.settings.Stripe.WebhookSecret == "" {
		a.logger.Warn("stripe webhook secret is empty; signed deliveries will be rejected")
	}

	srv := &http.Server{
		Addr:              a.settings.Ingress.Addr,
		Handler:           in.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func shutdownTimeout(a *app) time.Duration {
	if d := a.settings.Worker.ShutdownTimeout; d > 0 {
		return d
	}
	return defaultShutdownTimeout
}
