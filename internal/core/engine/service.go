package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/cambiowatch/cambiowatch/internal/core"
)

// Service is the entry point used by the scheduler, the HTTP API and the CLI.
type Service struct {
	Retry  *Retry
	State  *State
	Store  Persistence
	Logger Logger

	group  singleflight.Group
	mu     sync.Mutex
	active *Cycle
}

// Snapshot returns the in-memory current state. It never blocks on a cycle.
func (s *Service) Snapshot() core.Snapshot {
	if s == nil || s.State == nil {
		return core.Snapshot{Rates: []core.RateObservation{}}
	}
	return s.State.Load()
}

// Refresh runs one retry-wrapped cycle and returns it at its provisional
// point. A call made while a cycle is still settling joins that cycle.
func (s *Service) Refresh(ctx context.Context) (*Cycle, bool, error) {
	if s == nil || s.Retry == nil {
		return nil, false, errors.New("service is not configured")
	}
	if c := s.inFlight(); c != nil {
		return c, true, nil
	}

	v, err, shared := s.group.Do("cycle", func() (any, error) {
		if c := s.inFlight(); c != nil {
			return c, nil
		}
		c, err := s.Retry.Do(ctx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.active = c
		s.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, shared, err
	}
	return v.(*Cycle), shared, nil
}

// RunCycle is the scheduler entry point. Failures are logged, never returned.
func (s *Service) RunCycle(ctx context.Context) {
	log := loggerOrNop(s.Logger)
	cycle, joined, err := s.Refresh(ctx)
	if err != nil {
		log.Error("Scheduled scrape failed", zap.Error(err))
		return
	}
	if joined {
		log.Info("Scheduled scrape joined running cycle", zap.String("cycle_id", cycle.ID))
		return
	}
	log.Info("Scheduled scrape started",
		zap.String("cycle_id", cycle.ID),
		zap.Int("provisional_rates", len(cycle.Provisional().Rates)))
}

// CurrentRates overlays the in-memory snapshot on the latest stored rate per
// provider, so callers get data even before the first cycle settles. Unknown
// providers are dropped.
func (s *Service) CurrentRates(ctx context.Context) core.Snapshot {
	snap := s.Snapshot()
	memory := knownOnly(snap.Rates)
	if s.Store == nil {
		snap.Rates = memory
		return snap
	}

	stored, err := s.Store.LatestPerProvider(ctx)
	if err != nil {
		loggerOrNop(s.Logger).Warn("Falling back to in-memory rates", zap.Error(err))
		snap.Rates = memory
		return snap
	}

	merged := mergeRates(knownOnly(stored), memory)
	snap.Rates = merged
	if latest := latestObservation(merged); latest != nil {
		snap.LastUpdate = latest
	}
	if len(merged) > 0 && snap.Pending {
		snap.Error = ""
		snap.Pending = false
	}
	return snap
}

// BestRates picks the highest buy and lowest sell quote from memory.
func (s *Service) BestRates() core.BestRates {
	snap := s.Snapshot()
	buy, sell := core.SelectBest(snap.Rates)
	return core.BestRates{BestBuy: buy, BestSell: sell, LastUpdate: snap.LastUpdate}
}

func (s *Service) inFlight() *Cycle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil
	}
	select {
	case <-s.active.Done():
		s.active = nil
		return nil
	default:
		return s.active
	}
}

func knownOnly(rates []core.RateObservation) []core.RateObservation {
	out := make([]core.RateObservation, 0, len(rates))
	for _, r := range rates {
		if r.Provider.Valid() {
			out = append(out, r)
		}
	}
	return out
}

// mergeRates keeps base order and lets overlay replace matching providers.
func mergeRates(base, overlay []core.RateObservation) []core.RateObservation {
	index := make(map[core.Provider]int, len(base)+len(overlay))
	out := make([]core.RateObservation, 0, len(base)+len(overlay))
	for _, list := range [][]core.RateObservation{base, overlay} {
		for _, r := range list {
			if i, ok := index[r.Provider]; ok {
				out[i] = r
				continue
			}
			index[r.Provider] = len(out)
			out = append(out, r)
		}
	}
	return out
}

func latestObservation(rates []core.RateObservation) *time.Time {
	var latest *time.Time
	for _, r := range rates {
		t := r.ObservedAt
		if latest == nil || t.After(*latest) {
			latest = &t
		}
	}
	return latest
}
