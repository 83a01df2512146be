package webhooks

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"hookline/internal/platform/metrics"
)

type SchedulerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	ClaimLease   time.Duration
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		PollInterval: 5 * time.Second,
		BatchSize:    100,
		ClaimLease:   2 * time.Minute,
	}
}

// Scheduler sweeps for due pending/retrying logs, leases them and hands them
// to the dispatcher. The lease makes concurrent schedulers (or a scheduler
// and a crashed worker's leftovers) safe: a row is attempted by one holder.
type Scheduler struct {
	logs       DeliveryLogStore
	dispatcher *Dispatcher
	pool       *Pool
	cfg        SchedulerConfig
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewScheduler(logs DeliveryLogStore, dispatcher *Dispatcher, pool *Pool, cfg SchedulerConfig, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		logs:       logs,
		dispatcher: dispatcher,
		pool:       pool,
		cfg:        cfg,
		metrics:    m,
		now:        time.Now,
	}
}

// Run sweeps every PollInterval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Info().Dur("interval", s.cfg.PollInterval).Int("batch_size", s.cfg.BatchSize).Msg("Retry scheduler started")

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := s.sweep(ctx, nil); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Retry sweep failed")
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("Retry scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single sweep and waits for the claimed attempts.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	var wg sync.WaitGroup
	n, err := s.sweep(ctx, &wg)
	wg.Wait()
	return n, err
}

func (s *Scheduler) sweep(ctx context.Context, wg *sync.WaitGroup) (int, error) {
	claimed, err := s.logs.ClaimDue(ctx, s.now(), s.cfg.ClaimLease, s.cfg.BatchSize)
	if len(claimed) > 0 {
		s.metrics.Claimed(len(claimed))
		log.Debug().Int("claimed", len(claimed)).Msg("Claimed due deliveries")
	}

	attemptCtx := context.WithoutCancel(ctx)
	for _, l := range claimed {
		if wg != nil {
			wg.Add(1)
		}
		submitErr := s.pool.Submit(ctx, func() {
			if wg != nil {
				defer wg.Done()
			}
			if err := s.dispatcher.Redeliver(attemptCtx, l); err != nil {
				log.Error().Err(err).Str("delivery_id", l.ID).Msg("Redelivery failed")
			}
		})
		if submitErr != nil {
			if wg != nil {
				wg.Done()
			}
			// The lease expires and a later sweep takes the row again.
			log.Warn().Err(submitErr).Str("delivery_id", l.ID).Msg("Claimed delivery not queued")
		}
	}
	return len(claimed), err
}
