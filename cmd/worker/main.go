package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"hookline/internal/engine/webhooks"
	"hookline/internal/pkg/logger"
	"hookline/internal/platform/config"
	"hookline/internal/platform/database"
	"hookline/internal/platform/metrics"
	"hookline/internal/platform/repositories"
	"hookline/internal/platform/telemetry"
	"hookline/internal/workers"
)

// The worker runs the retry scheduler and the retention janitor without the
// API, for deployments that scale delivery separately from intake.
func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	metricsAddr := flag.String("metrics-addr", ":9090", "Address for the /metrics endpoint, empty to disable")
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

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	configRepo := repositories.NewWebhookRepository(db)
	logRepo := repositories.NewDeliveryLogRepository(db)

	pool := webhooks.NewPool(cfg.Webhooks.WorkerCount, cfg.Webhooks.QueueSize)
	dispatcher := webhooks.NewDispatcher(configRepo, logRepo, pool, webhooks.DispatcherConfigFrom(cfg.Webhooks), m)
	scheduler := webhooks.NewScheduler(logRepo, dispatcher, pool, webhooks.SchedulerConfigFrom(cfg.Webhooks), m)
	janitor := workers.NewJanitor(logRepo, cfg.Webhooks.LogRetention, cfg.Webhooks.RetentionPollInterval, m)

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Error().Err(err).Msg("Metrics listener stopped")
			}
		}()
	}

	log.Info().Msg("Starting Hookline background workers")
	err = workers.RunAll(ctx,
		workers.Job{Name: "retry-scheduler", Run: scheduler.Run},
		workers.Job{Name: "retention-janitor", Run: janitor.Run},
	)
	pool.Close()

	if err != nil {
		log.Error().Err(err).Msg("Workers stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("Workers stopped")
}
