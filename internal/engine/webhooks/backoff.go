package webhooks

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff computes retry delays: Initial * 2^(attempt-1), capped at Max, with
// randomization to spread retries against a recovering endpoint.
type Backoff struct {
	Initial             time.Duration
	Max                 time.Duration
	RandomizationFactor float64
}

func DefaultBackoff() Backoff {
	return Backoff{
		Initial:             10 * time.Second,
		Max:                 time.Hour,
		RandomizationFactor: 0.5,
	}
}

// Delay returns the wait after the given (1-based) failed attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.Initial
	eb.MaxInterval = b.Max
	eb.Multiplier = 2
	eb.RandomizationFactor = b.RandomizationFactor
	eb.MaxElapsedTime = 0
	eb.Reset()

	d := eb.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = eb.NextBackOff()
	}
	if d > b.Max {
		d = b.Max
	}
	return d
}

// retryAfter parses a Retry-After header as delta-seconds or an HTTP date.
func retryAfter(h http.Header, now time.Time) (time.Duration, bool) {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d, true
		}
	}
	return 0, false
}
