package workers

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Job is a background loop that runs until its context is done.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// RunAll runs every job until ctx is cancelled or one of them fails, in
// which case the others are stopped and the first error is returned.
// Jobs that stop because of cancellation are not an error.
func RunAll(ctx context.Context, jobs ...Job) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, job := range jobs {
		job := job
		g.Go(func() error {
			log.Info().Str("job", job.Name).Msg("Worker started")
			err := job.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("job", job.Name).Msg("Worker failed")
				return fmt.Errorf("%s: %w", job.Name, err)
			}
			log.Info().Str("job", job.Name).Msg("Worker stopped")
			return nil
		})
	}

	return g.Wait()
}
