package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/router"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/telemetry"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "pitchfork-auth",
		Short:         "Access and refresh token authentication service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newSweepCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	var (
		addr  string
		sweep time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			// graceful shutdown
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			sugar := a.sugar
			sugar.Infow("starting "+serviceName, "env", a.cfg.Env)

			shutdownTracing, err := telemetry.Init(ctx, serviceName, a.cfg.OTLPEndpoint)
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			if err := a.connect(ctx, reg); err != nil {
				return err
			}

			if cmd.Flags().Changed("addr") {
				a.cfg.HTTPAddr = addr
			}
			interval := a.cfg.Sweep()
			if cmd.Flags().Changed("sweep-interval") {
				interval = sweep
			}
			if interval > 0 {
				go auth.NewSweeper(a.auth, interval, sugar.Named("sweeper")).Run(ctx)
				sugar.Infow("session sweeper enabled", "interval", interval.String())
			}

			handler := router.RegisterRoutes(router.Deps{
				Logger:  sugar,
				Issuer:  a.issuer,
				Auth:    auth.NewHandler(a.auth, sugar.Named("auth")),
				Users:   user.NewHandler(user.NewUserService(a.users, a.hasher, sugar.Named("user")), sugar.Named("user")),
				Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
				Ping:    a.ping,
			})
			srv := &http.Server{
				Addr:              a.cfg.HTTPAddr,
				Handler:           handler,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				sugar.Infow("http server listening", "addr", a.cfg.HTTPAddr)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				return fmt.Errorf("http server failed: %w", err)
			}

			sugar.Info("shutting down")
			// give a short grace period for cleanup
			doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(doneCtx); err != nil {
				sugar.Warnf("http server shutdown failed: %v", err)
			}
			if err := shutdownTracing(doneCtx); err != nil {
				sugar.Warnf("tracing shutdown failed: %v", err)
			}
			sugar.Info("goodbye")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address; overrides HTTP_ADDR")
	cmd.Flags().DurationVar(&sweep, "sweep-interval", 0, "Session sweep interval; overrides SWEEP_INTERVAL, 0 disables")
	return cmd
}

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	run := func(name string, fn func(ctx context.Context, a *app) error) *cobra.Command {
		return &cobra.Command{
			Use:   name,
			Short: "Schema " + name,
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := newSchemaApp()
				if err != nil {
					return err
				}
				defer a.close()
				db, err := database.Open(a.cfg.Database())
				if err != nil {
					return fmt.Errorf("db connect: %w", err)
				}
				a.db = db
				return fn(cmd.Context(), a)
			},
		}
	}

	cmd.AddCommand(run("up", func(ctx context.Context, a *app) error {
		if err := database.Migrate(ctx, a.db.DB); err != nil {
			return err
		}
		a.sugar.Info("migrations applied")
		return nil
	}))
	cmd.AddCommand(run("down", func(ctx context.Context, a *app) error {
		if err := database.Rollback(ctx, a.db.DB); err != nil {
			return err
		}
		a.sugar.Info("rolled back one migration")
		return nil
	}))
	cmd.AddCommand(run("version", func(ctx context.Context, a *app) error {
		v, err := database.MigrationVersion(ctx, a.db.DB)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), v)
		return nil
	}))
	return cmd
}

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired and revoked sessions once",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()
			if err := a.connect(ctx, nil); err != nil {
				return err
			}
			expired, revoked, err := auth.NewSweeper(a.auth, 0, a.sugar).SweepOnce(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "expired=%d revoked=%d\n", expired, revoked)
			return err
		},
	}
}
