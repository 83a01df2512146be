package workers

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"hookline/internal/platform/metrics"
)

type Purger interface {
	PurgeOlderThan(ctx context.Context, before int64) (int64, error)
}

// Janitor removes terminal delivery logs older than the retention window.
// In-flight logs (pending, retrying) are never touched.
type Janitor struct {
	logs      Purger
	retention time.Duration
	interval  time.Duration
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewJanitor(logs Purger, retention, interval time.Duration, m *metrics.Metrics) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{
		logs:      logs,
		retention: retention,
		interval:  interval,
		metrics:   m,
		now:       time.Now,
	}
}

// PurgeOnce runs a single pass. A zero retention keeps logs forever.
func (j *Janitor) PurgeOnce(ctx context.Context) (int64, error) {
	if j.retention <= 0 {
		return 0, nil
	}

	cutoff := j.now().Add(-j.retention)
	n, err := j.logs.PurgeOlderThan(ctx, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}

	j.metrics.Purged(n)
	if n > 0 {
		log.Info().Int64("purged", n).Time("cutoff", cutoff).Msg("Purged delivery logs")
	}
	return n, nil
}

func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		if _, err := j.PurgeOnce(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Retention purge failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
