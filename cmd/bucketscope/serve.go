package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sydlexius/bucketscope/internal/api"
	"github.com/sydlexius/bucketscope/internal/api/middleware"
	"github.com/sydlexius/bucketscope/internal/config"
	"github.com/sydlexius/bucketscope/internal/event"
	"github.com/sydlexius/bucketscope/internal/foldersize"
	"github.com/sydlexius/bucketscope/internal/scanner"
	"github.com/sydlexius/bucketscope/internal/storage"
	"github.com/sydlexius/bucketscope/internal/webhook"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and websocket progress server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry, err := storage.NewRegistry(cfg.Buckets, logger)
	if err != nil {
		return fmt.Errorf("building bucket registry: %w", err)
	}

	webhookService, err := webhook.NewService(cfg.Webhooks)
	if err != nil {
		return fmt.Errorf("loading webhooks: %w", err)
	}
	webhookDispatcher := webhook.NewDispatcher(webhookService, logger)

	eventBus := event.NewBus(logger, 256)
	eventBus.SubscribeAll(webhookDispatcher.HandleEvent)
	go eventBus.Start()
	// Runs after scheduler.Shutdown, so the CANCELED events it publishes
	// are drained to the dispatcher before the dispatcher closes.
	defer stopNotifications(eventBus, webhookDispatcher)

	fs := cfg.FolderSize
	scheduler := foldersize.New(foldersize.Config{
		Parallelism:  fs.MaxParallelJobs,
		PageInterval: fs.ProgressPageInterval,
		Limits: scanner.Limits{
			MaxObjects: fs.MaxObjects,
			MaxRuntime: fs.MaxRuntime,
		},
		Retention:          fs.Retention,
		SweepInterval:      fs.SweepInterval,
		CancelOnDisconnect: fs.CancelOnDisconnect,
	}, scanner.New(registry, logger), registry, logger, foldersize.WithPublisher(eventBus))
	defer scheduler.Shutdown()

	var launchLimiter *middleware.RateLimiter
	if cfg.RateLimit.Burst > 0 {
		launchLimiter = middleware.NewRateLimiter(ctx, cfg.RateLimit.Every, cfg.RateLimit.Burst)
	}

	router := api.NewRouter(api.RouterDeps{
		FolderSize:     scheduler,
		Buckets:        registry,
		LaunchLimiter:  launchLimiter,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Logger:         logger,
		BasePath:       cfg.Server.BasePath,
	})

	addr := cfg.Server.Addr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No WriteTimeout: websocket subscriptions stay open for the life of a job.
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server starting",
			slog.String("addr", addr),
			slog.String("base_path", cfg.Server.BasePath),
			slog.Int("buckets", len(registry.Buckets())))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if configPath != "" {
		g.Go(func() error {
			return config.Watch(gctx, configPath, config.DefaultWatchDebounce, logger, func(next *config.Config) {
				applyReload(next, webhookService, logger)
			})
		})
	}

	return g.Wait()
}

// stopNotifications drains the bus, then lets in-flight webhook posts finish.
func stopNotifications(bus *event.Bus, hooks *webhook.Dispatcher) {
	bus.Stop()
	bus.Wait()
	hooks.Close()
}

// applyReload applies the settings that can change without a restart.
// Everything else is logged and takes effect on the next start.
func applyReload(next *config.Config, hooks *webhook.Service, logger *slog.Logger) {
	if flagVerbose {
		next.Logging.Level = "debug"
	}
	if logManager.Reconfigure(next.Logging) {
		logger.Info("logging output changed", slog.Any("logging", next.Logging))
	}

	if err := hooks.Replace(next.Webhooks); err != nil {
		logger.Warn("webhook reload rejected", "error", err)
	}

	if next.Server != cfg.Server || next.FolderSize != cfg.FolderSize {
		logger.Warn("server and folder_size changes require a restart")
	}
}
