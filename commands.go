package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"fileconvert/api"
	"fileconvert/converters"
	"fileconvert/exttool"
	"fileconvert/formats"
	"fileconvert/router"
	"fileconvert/services"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the conversion worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, cleanup, err := bootstrap()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, err := range exttool.CheckAll(a.toolbox.Tools()...) {
				logger.Warn("conversion tool unavailable; dependent pairs will fail", zap.Error(err))
			}

			logger.Info("starting conversion worker",
				zap.Int("workers", cfg.Worker.WorkerCount),
				zap.String("pending_queue", cfg.Queue.PendingQueue),
			)

			done := make(chan struct{})
			go func() {
				a.pool().Run(ctx)
				close(done)
			}()

			<-ctx.Done()
			logger.Info("shutting down worker")

			// Run already gives in-flight jobs ShutdownGrace; this bounds the
			// wait in case a tool ignores cancellation.
			select {
			case <-done:
				logger.Info("worker stopped gracefully")
				return nil
			case <-time.After(cfg.Worker.ShutdownGrace + 10*time.Second):
				logger.Warn("shutdown timeout reached")
				return nil
			}
		},
	}
}

func newAPICommand() *cobra.Command {
	return &cobra.Command{
		Use:   "api",
		Short: "Serve the conversion HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, cleanup, err := bootstrap()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			checks := map[string]api.HealthCheck{
				"redis": func(ctx context.Context) error { return a.redis.Ping(ctx).Err() },
			}
			if pg, ok := a.store.(*services.PostgresStore); ok {
				checks["database"] = func(ctx context.Context) error { return pg.DB().PingContext(ctx) }
			}

			handler := api.NewConversionHandler(a.pipeline(), a.router, logger)
			srv := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           api.NewRouter(logger, handler, checks),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("http server listening", zap.String("addr", cfg.Server.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			logger.Info("shutting down http server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, cleanup, err := bootstrap()
			if err != nil {
				return err
			}
			defer cleanup()

			if cfg.Database.Driver != "postgres" {
				return fmt.Errorf("migrate requires STORE_DRIVER=postgres, got %q", cfg.Database.Driver)
			}
			store, err := services.NewPostgresStore(cfg.Database.DSN(), cfg.Database.MaxOpenConns)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := services.Migrate(store.DB()); err != nil {
				return err
			}
			logger.Info("migrations applied")
			return nil
		},
	}
}

func newFormatsCommand() *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "formats [source]",
		Short: "List supported formats, or the targets of one source format",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := formats.Default()
			rt, err := router.NewRouter(registry, converters.All(converters.DefaultToolbox(), nil)...)
			if err != nil {
				return err
			}

			list := registry.All()
			if len(args) == 1 {
				source, err := registry.Lookup(args[0])
				if err != nil {
					return fmt.Errorf("%s: %w", args[0], err)
				}
				list = rt.Targets(source)
			}
			if category != "" {
				if len(registry.ByCategory(formats.Category(category))) == 0 {
					return fmt.Errorf("unknown category %q", category)
				}
				filtered := list[:0]
				for _, f := range list {
					if f.Category == formats.Category(category) {
						filtered = append(filtered, f)
					}
				}
				list = filtered
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCATEGORY\tMIME\tDESCRIPTION")
			for _, f := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", f.ID, f.Category, f.MimeType, f.Description)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "limit the listing to one category")
	return cmd
}
