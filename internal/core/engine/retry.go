package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/cambiowatch/cambiowatch/internal/core"
	"github.com/cambiowatch/cambiowatch/internal/metrics"
)

const (
	DefaultMaxRetries  = 3
	DefaultBackoffBase = time.Second
	DefaultBackoffCap  = 10 * time.Second
)

// Runner starts one scrape cycle.
type Runner interface {
	Run(ctx context.Context) (*Cycle, error)
}

// Retry re-runs a whole cycle with exponential backoff when the cycle itself
// fails. Per-source failures never reach it.
type Retry struct {
	Runner Runner
	State  *State
	Logger Logger

	// MaxRetries is the number of extra attempts after the first. Zero selects
	// DefaultMaxRetries; a negative value disables retries.
	MaxRetries int
	Base       time.Duration
	Cap        time.Duration

	// Sleep waits between attempts; it must return early when ctx ends.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Backoff returns min(base*2^n, cap).
func Backoff(n int, base, ceiling time.Duration) time.Duration {
	if n < 0 {
		n = 0
	}
	d := base
	for i := 0; i < n; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	if d > ceiling {
		return ceiling
	}
	return d
}

// Do runs the cycle, retrying up to MaxRetries times. When every attempt fails
// the state is put into an explicit error and a CycleExhaustedError is returned.
func (r *Retry) Do(ctx context.Context) (*Cycle, error) {
	if r == nil || r.Runner == nil {
		return nil, errors.New("retry controller is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	log := loggerOrNop(r.Logger)
	maxRetries := r.maxRetries()
	attempts := maxRetries + 1

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		r.setAttempt(attempt)
		metrics.SetRetryAttempt(attempt)

		cycle, err := r.Runner.Run(ctx)
		if err == nil {
			r.setAttempt(0)
			metrics.SetRetryAttempt(0)
			return cycle, nil
		}
		lastErr = err
		log.Warn("Scrape attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", attempts),
			zap.Error(err))

		if attempt == maxRetries {
			break
		}

		delay := Backoff(attempt, r.base(), r.ceiling())
		log.Info("Retrying scrape", zap.Duration("delay", delay))
		if err := r.sleep(ctx, delay); err != nil {
			r.setAttempt(0)
			return nil, err
		}
	}

	exhausted := &core.CycleExhaustedError{Attempts: attempts, Err: lastErr}
	if r.State != nil {
		r.State.Fail(exhausted.Error())
	}
	r.setAttempt(0)
	metrics.SetRetryAttempt(0)
	metrics.RecordCycle("exhausted", 0)
	log.Error("Scrape cycle exhausted", zap.Int("attempts", attempts), zap.Error(lastErr))
	return nil, exhausted
}

func (r *Retry) setAttempt(n int) {
	if r.State != nil {
		r.State.SetRetryAttempt(n)
	}
}

func (r *Retry) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep != nil {
		return r.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *Retry) maxRetries() int {
	switch {
	case r.MaxRetries > 0:
		return r.MaxRetries
	case r.MaxRetries < 0:
		return 0
	default:
		return DefaultMaxRetries
	}
}

func (r *Retry) base() time.Duration {
	if r.Base > 0 {
		return r.Base
	}
	return DefaultBackoffBase
}

func (r *Retry) ceiling() time.Duration {
	if r.Cap > 0 {
		return r.Cap
	}
	return DefaultBackoffCap
}
