package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const DefaultInterval = 5 * time.Minute

// Scheduler triggers scrape cycles on a fixed interval and a daily retention
// job. Jobs are fire-and-forget: their failures never stop the loops.
type Scheduler struct {
	Interval time.Duration
	Cycle    func(ctx context.Context)

	// Cleanup runs once a day at CleanupHour (local clock). Nil disables it.
	Cleanup     func(ctx context.Context) error
	CleanupHour int

	Logger Logger
	Clock  func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Start launches the loops. The first cycle runs immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	if s == nil || s.Cycle == nil {
		return errors.New("scheduler is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.runCycles(ctx)

	if s.Cleanup != nil {
		s.wg.Add(1)
		go s.runCleanup(ctx)
	}

	loggerOrNop(s.Logger).Info("Scheduler started",
		zap.Duration("interval", s.interval()),
		zap.Bool("cleanup", s.Cleanup != nil),
		zap.Int("cleanup_hour", s.CleanupHour))
	return nil
}

// Stop cancels the loops and waits for them to exit or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		loggerOrNop(s.Logger).Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) runCycles(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval())
	defer ticker.Stop()

	s.fire(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(ctx)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			loggerOrNop(s.Logger).Error("Scheduled cycle panicked", zap.Any("panic", r))
		}
	}()
	s.Cycle(ctx)
}

func (s *Scheduler) runCleanup(ctx context.Context) {
	defer s.wg.Done()
	log := loggerOrNop(s.Logger)

	for {
		wait := NextDailyRun(s.now(), s.CleanupHour).Sub(s.now())
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := s.Cleanup(ctx); err != nil {
			log.Error("Retention cleanup failed", zap.Error(err))
		}
	}
}

// NextDailyRun returns the next instant strictly after now at hour:00 in now's
// location.
func NextDailyRun(now time.Time, hour int) time.Time {
	if hour < 0 || hour > 23 {
		hour = 3
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s *Scheduler) interval() time.Duration {
	if s.Interval > 0 {
		return s.Interval
	}
	return DefaultInterval
}

func (s *Scheduler) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}
