package retry

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/knightuniverse/mqtt-service/internal/clock"
	"github.com/knightuniverse/mqtt-service/internal/log"
)

// ExponentialBackoff implements Policy with exponential backoff and optional
// jitter.
type ExponentialBackoff struct {
	// MaxAttempts caps the number of attempts. Zero means unlimited; 1
	// disables retries entirely.
	MaxAttempts uint64

	// MinInterval is the smallest interval between retries, before jitter.
	// Defaults to 1/8s.
	MinInterval time.Duration

	// MaxInterval is the largest interval between retries, before jitter.
	// Defaults to 30s.
	MaxInterval time.Duration

	// Timeout bounds the total time spent retrying. Zero means no bound.
	Timeout time.Duration

	// NoJitter disables the default +/-5% jitter.
	NoJitter bool

	// Clock is the time source; defaults to clock.Instance.
	Clock clock.Clock

	// Logger receives attempt/retry/completion diagnostics.
	Logger *slog.Logger
}

// Start runs task repeatedly per the backoff schedule until it succeeds,
// declines retry, or ctx/Timeout expires.
func (e *ExponentialBackoff) Start(ctx context.Context, name string, task Task) error {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	cl := e.Clock
	if cl == nil {
		cl = clock.Instance
	}
	l := log.Wrap(e.Logger)

	for attempt := uint64(1); ; attempt++ {
		l.Info(ctx, name+" attempt", slog.Uint64("attempt", attempt))
		shouldRetry, err := task(ctx)
		if err == nil {
			l.Info(ctx, name+" succeeded", slog.Uint64("attempt", attempt))
			return nil
		}

		interval := e.nextInterval(ctx, cl, attempt, shouldRetry)
		if interval == 0 {
			l.Warn(ctx, name+" failed", slog.Uint64("attempt", attempt), slog.String("error", err.Error()))
			return err
		}

		l.Warn(ctx, name+" retrying",
			slog.Uint64("attempt", attempt),
			slog.String("error", err.Error()),
			slog.Duration("after", interval),
		)

		select {
		case <-cl.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *ExponentialBackoff) nextInterval(
	ctx context.Context,
	cl clock.Clock,
	attempt uint64,
	shouldRetry bool,
) time.Duration {
	if !shouldRetry || attempt == e.MaxAttempts || ctx.Err() != nil {
		return 0
	}

	minInterval := e.MinInterval
	if minInterval == 0 {
		minInterval = time.Second / 8
	}
	maxInterval := e.MaxInterval
	if maxInterval == 0 {
		maxInterval = 30 * time.Second
	}

	factor := math.Pow(2, min(
		float64(attempt-1),
		math.Log2(float64(maxInterval)/float64(minInterval)),
	))
	if !e.NoJitter {
		factor = e.jitter(cl, factor)
	}

	return time.Duration(factor * float64(minInterval))
}

// jitter scales base by a random factor between 95% and 105%.
func (*ExponentialBackoff) jitter(cl clock.Clock, base float64) float64 {
	// #nosec G404 -- jitter does not need cryptographic randomness.
	j := rand.New(rand.NewSource(cl.Now().UnixNano())).Float64()
	return base * (.95 + .1*j)
}
