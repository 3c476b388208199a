// Package app wires the gateway's components together and owns its
// startup/shutdown lifecycle, grounded on wisbric-nightowl's
// internal/app/app.go (Run(ctx, cfg) error, connect → migrate → serve →
// drain-on-shutdown).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shoreline-labs/llmgate/internal/accounting"
	"github.com/shoreline-labs/llmgate/internal/auth"
	"github.com/shoreline-labs/llmgate/internal/config"
	"github.com/shoreline-labs/llmgate/internal/gateway"
	"github.com/shoreline-labs/llmgate/internal/httpserver"
	"github.com/shoreline-labs/llmgate/internal/platform"
	"github.com/shoreline-labs/llmgate/internal/quota"
	"github.com/shoreline-labs/llmgate/internal/ratelimit"
	"github.com/shoreline-labs/llmgate/internal/telemetry"
)

// Run takes the loaded configuration, connects to infrastructure, starts the
// dispatcher and HTTP server, and blocks until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting llmgate", "listen", cfg.ListenAddr(), "vllm_url", cfg.VLLMURL)

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	credentials := auth.NewCredentialStore(db, cfg.AdminBootstrapKey, logger)
	limiter := ratelimit.New(rdb, cfg.RateLimitRPSDefault, cfg.RateLimitBurstDefault, logger)
	quotaGuard := quota.New(db, logger)
	sink := accounting.New(db, logger)

	queue := gateway.NewQueue(cfg.QueueMaxSize)
	upstream := gateway.NewUpstreamClient(cfg.VLLMURL, time.Duration(cfg.VLLMTimeoutS)*time.Second)
	dispatcher := gateway.NewDispatcher(queue, upstream, cfg.VLLMMaxConcurrency, logger)
	dispatcher.Start()
	defer dispatcher.Stop()

	admission := gateway.NewAdmissionFront(limiter, quotaGuard, queue, sink, time.Duration(cfg.RequestTimeoutS)*time.Second)

	srv := httpserver.NewServer(httpserver.Config{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		AllowOriginRegex:   cfg.AllowOriginRegex,
		MetricsPath:        cfg.MetricsPath,
	}, logger, db, rdb, metricsReg)

	srv.Router.Get("/v1/models", admission.Models)
	srv.Router.Group(func(r chi.Router) {
		r.Use(auth.Middleware(credentials, logger))
		r.Post("/v1/chat/completions", admission.ChatCompletions)
	})

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // streaming responses may run far longer than a fixed write deadline
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown", "error", err)
		}
		// dispatcher.Stop() (deferred above) drains in-flight jobs with its
		// own 5s budget before this function returns.
		return nil
	case err := <-errCh:
		return err
	}
}
