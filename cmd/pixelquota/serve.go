package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/pixelquota/internal/auth"
	"github.com/kailas-cloud/pixelquota/internal/config"
	"github.com/kailas-cloud/pixelquota/internal/db"
	"github.com/kailas-cloud/pixelquota/internal/metrics"
	usagerepo "github.com/kailas-cloud/pixelquota/internal/repository/usage"
	chiTransport "github.com/kailas-cloud/pixelquota/internal/transport/chi"
	openaiImg "github.com/kailas-cloud/pixelquota/internal/transport/openai"
	generationuc "github.com/kailas-cloud/pixelquota/internal/usecase/generation"
	healthuc "github.com/kailas-cloud/pixelquota/internal/usecase/health"
	quotauc "github.com/kailas-cloud/pixelquota/internal/usecase/quota"
	"github.com/kailas-cloud/pixelquota/internal/usecase/session"
	"github.com/kailas-cloud/pixelquota/internal/version"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return serve(cmd.Context(), opts.env, cfg, logger)
		},
	}
}

// usageStoreHolder keeps the usage store opened by the session init so it can
// be closed on shutdown.
type usageStoreHolder struct {
	mu    sync.Mutex
	store *usagerepo.Store
}

func (h *usageStoreHolder) set(s *usagerepo.Store) {
	h.mu.Lock()
	h.store = s
	h.mu.Unlock()
}

func (h *usageStoreHolder) close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.store == nil {
		return nil
	}
	return h.store.Close()
}

func serve(ctx context.Context, env string, cfg config.Config, logger *zap.Logger) error {
	loc := cfg.Quota.Location()

	logger.Info("Starting pixelquota API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("storage_driver", cfg.Storage.Driver),
		zap.String("storage_key", cfg.Storage.Key),
		zap.Int("daily_limit", cfg.Quota.DailyLimit),
		zap.String("timezone", loc.String()),
	)

	store, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("Connected to byte storage")

	// Register domain metrics explicitly (no init())
	metrics.RegisterQuotaMetrics()

	if cfg.Generation.APIKey == "" {
		logger.Warn("generation.api_key is empty, image generation will fail")
	}
	generator := openaiImg.NewImageGenerator(&openaiImg.Config{
		APIKey:  cfg.Generation.APIKey,
		BaseURL: cfg.Generation.BaseURL,
		Model:   cfg.Generation.Model,
		Logger:  logger,
	})

	verifier, err := auth.NewTokenVerifier(
		cfg.Auth.TokenSecret, cfg.Auth.TokenIssuer,
		time.Duration(cfg.Auth.TokenLeewaySec)*time.Second,
	)
	if err != nil {
		return fmt.Errorf("create token verifier: %w", err)
	}
	broker := auth.NewBroker(logger)

	adapter := session.New(session.Config{
		Location:   loc,
		DailyLimit: cfg.Quota.DailyLimit,
	}, logger)

	healthSvc := healthuc.New(store, generator, adapter)

	var usage usageStoreHolder
	adapter.Start(ctx, broker, buildEngineInit(store, cfg, loc, healthSvc, &usage, logger))

	genSvc := generationuc.New(generator, adapter, generationuc.Config{
		RequestsPerMinute: cfg.Generation.RequestsPerMinute,
		Burst:             cfg.Generation.Burst,
		MaxWait:           time.Duration(cfg.Generation.MaxWaitSec) * time.Second,
	}, logger)

	server := chiTransport.NewServer(adapter, broker, verifier, genSvc, healthSvc, loc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Register(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-quit:
		logger.Info("Received shutdown signal")
	case err := <-serveErr:
		logger.Error("HTTP server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	adapter.Stop()
	if err := usage.close(); err != nil {
		logger.Error("Error closing usage store", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
	return nil
}

// buildEngineInit returns the session init: open the usage store from byte
// storage and wrap it in the quota engine.
func buildEngineInit(
	store db.Store,
	cfg config.Config,
	loc *time.Location,
	healthSvc *healthuc.Service,
	holder *usageStoreHolder,
	logger *zap.Logger,
) session.InitFunc {
	return func(ctx context.Context) (session.Engine, error) {
		usageStore, err := usagerepo.Open(ctx, store, cfg.Storage.Key, logger)
		if err != nil {
			return nil, err
		}
		holder.set(usageStore)
		healthSvc.SetStore(usageStore)

		engine := quotauc.New(usageStore, quotauc.Config{
			DailyLimit:      cfg.Quota.DailyLimit,
			UnlimitedEmails: cfg.Quota.UnlimitedEmails,
			Location:        loc,
		}, logger)
		return engine, nil
	}
}
