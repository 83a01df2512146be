package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"hookline/internal/api"
	"hookline/internal/api/handlers"
	"hookline/internal/api/middleware"
	"hookline/internal/engine/webhooks"
	"hookline/internal/pkg/logger"
	"hookline/internal/platform/audit"
	"hookline/internal/platform/auth"
	"hookline/internal/platform/config"
	"hookline/internal/platform/database"
	"hookline/internal/platform/metrics"
	"hookline/internal/platform/repositories"
	"hookline/internal/platform/telemetry"
	"hookline/internal/workers"
	"hookline/migrations"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	if err := logger.Init(cfg.Logging); err != nil {
		log.Warn().Err(err).Msg("Log file unavailable, logging to stdout")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(cfg.Observability)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise tracing")
	}
	defer shutdownTracing(context.Background())

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if _, err := database.Migrate(ctx, db, migrations.FS); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Repositories
	configRepo := repositories.NewWebhookRepository(db)
	logRepo := repositories.NewDeliveryLogRepository(db)

	// Engine
	pool := webhooks.NewPool(cfg.Webhooks.WorkerCount, cfg.Webhooks.QueueSize)
	dispatcher := webhooks.NewDispatcher(configRepo, logRepo, pool, webhooks.DispatcherConfigFrom(cfg.Webhooks), m)
	verifier := webhooks.NewVerifier(cfg.Webhooks.UserAgent, m)
	svc := webhooks.NewService(configRepo, logRepo, dispatcher, verifier, m)
	scheduler := webhooks.NewScheduler(logRepo, dispatcher, pool, webhooks.SchedulerConfigFrom(cfg.Webhooks), m)
	janitor := workers.NewJanitor(logRepo, cfg.Webhooks.LogRetention, cfg.Webhooks.RetentionPollInterval, m)

	// HTTP
	tokenSvc := auth.NewTokenService(cfg.JWT)
	limiter := middleware.NewRateLimiter(cfg.RateLimit)
	defer limiter.Stop()
	auditLog := audit.NewLogger(log.Logger)

	router := api.NewRouter(&api.Dependencies{
		WebhookHandler:   handlers.NewWebhookHandler(svc, auditLog),
		DeliveryHandler:  handlers.NewDeliveryHandler(svc, auditLog),
		EventHandler:     handlers.NewEventHandler(svc),
		HealthHandler:    handlers.NewHealthHandler(db, pool),
		MetricsHandler:   handlers.NewMetricsHandler(reg),
		AuthMiddleware:   middleware.NewAuthMiddleware(tokenSvc),
		TenantMiddleware: middleware.NewTenantMiddleware(),
		RateLimiter:      limiter,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	err = workers.RunAll(ctx,
		workers.Job{Name: "http", Run: func(ctx context.Context) error { return serve(ctx, srv) }},
		workers.Job{Name: "retry-scheduler", Run: scheduler.Run},
		workers.Job{Name: "retention-janitor", Run: janitor.Run},
	)

	// Let in-flight attempts record their outcome before the database closes.
	pool.Close()

	if err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("Server stopped")
}

func serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}
