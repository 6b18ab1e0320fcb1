package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"fastbudget/internal/api"
	"fastbudget/internal/cache"
	"fastbudget/internal/cli"
	apphttp "fastbudget/internal/http"
	"fastbudget/internal/log"
	"fastbudget/internal/metrics"
	"fastbudget/internal/shell"
)

const (
	shutdownTimeout = 30 * time.Second
	cleanupInterval = time.Minute
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server (default)",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		return err
	}
	logger := cli.SetupLogger(cfg)

	ctx, stop := cli.SignalContext(cmd.Context(), logger)
	defer stop()

	m := metrics.New()

	repo, err := cli.InitRepository(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.Error("Failed to close client storage", log.FieldError, err)
		}
	}()

	client, err := api.NewClient(api.Options{
		BaseURL: cfg.APIBaseURL,
		Timeout: cfg.APITimeout,
		Logger:  logger,
		Metrics: m,
	})
	if err != nil {
		return err
	}

	publisher := cli.InitPublisher(ctx, cfg, logger)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("Failed to close event publisher", log.FieldError, err)
		}
	}()

	registry := shell.NewRegistry(shell.RegistryOptions{
		Repo:                repo,
		Resolver:            client,
		IdleTTL:             cfg.SessionIdleTTL,
		MaxShells:           cfg.MaxShells,
		ResolveTimeout:      cfg.APITimeout,
		RetainOnUnavailable: cfg.RetainTokenOnUnavailable,
		Logger:              logger,
		Metrics:             m,
		Publisher:           publisher,
	})
	defer registry.Close()

	cleanup := cache.NewManager(logger)
	cleanup.Register(registry)
	cleanup.StartCleanup(cleanupInterval)
	defer cleanup.Stop()

	srv, err := apphttp.NewServer(apphttp.Options{
		Addr:               cfg.Addr(),
		Registry:           registry,
		Auth:               client,
		Ready:              repo,
		Logger:             logger,
		Metrics:            m,
		ResolveWait:        cfg.ResolveWait,
		CookieSecure:       cfg.CookieSecure,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting fastbudget server",
			log.FieldOperation, log.OpStartup,
			"addr", cfg.Addr(),
			"api", cfg.APIBaseURL,
			"storage", cfg.StorageBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := cli.ShutdownContext(shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldOperation, log.OpShutdown, log.FieldError, err)
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Server stopped gracefully", log.FieldOperation, log.OpShutdown)
	return nil
}
