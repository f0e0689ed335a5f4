package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cambiowatch/cambiowatch/internal/core"
	"github.com/cambiowatch/cambiowatch/internal/core/extractor"
)

var (
	errBoom   = errors.New("boom")
	testEpoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
)

func obsFor(p core.Provider, buy, sell string) core.RateObservation {
	return core.RateObservation{
		Provider:   p,
		BuyRate:    decimal.RequireFromString(buy),
		SellRate:   decimal.RequireFromString(sell),
		ObservedAt: testEpoch,
	}
}

// latchExtractor blocks until released, then returns its canned outcome.
type latchExtractor struct {
	provider core.Provider
	release  chan struct{}
	obs      *core.RateObservation
	err      error
	panicMsg string
}

func newLatch(p core.Provider, buy, sell string) *latchExtractor {
	obs := obsFor(p, buy, sell)
	return &latchExtractor{provider: p, release: make(chan struct{}), obs: &obs}
}

func (l *latchExtractor) Provider() core.Provider { return l.provider }

func (l *latchExtractor) Extract(ctx context.Context, _ extractor.Session) (*core.RateObservation, error) {
	if l.release != nil {
		select {
		case <-l.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if l.panicMsg != "" {
		panic(l.panicMsg)
	}
	return l.obs, l.err
}

func (l *latchExtractor) open() { close(l.release) }

type fakeSession struct {
	closes atomic.Int32
}

func (s *fakeSession) NewPage() (extractor.Page, error) { return nil, errors.New("no pages in tests") }

func (s *fakeSession) Close() error {
	s.closes.Add(1)
	return nil
}

type fakeLauncher struct {
	mu       sync.Mutex
	launches int
	err      error
	session  *fakeSession
}

func (l *fakeLauncher) Launch(context.Context) (extractor.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches++
	if l.err != nil {
		return nil, l.err
	}
	if l.session == nil {
		l.session = &fakeSession{}
	}
	return l.session, nil
}

type memoryStore struct {
	mu      sync.Mutex
	batches [][]core.RateObservation
	latest  []core.RateObservation
	err     error
}

func (m *memoryStore) SaveObservations(_ context.Context, batch []core.RateObservation) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.batches = append(m.batches, append([]core.RateObservation(nil), batch...))
	return len(batch), nil
}

func (m *memoryStore) LatestPerProvider(context.Context) ([]core.RateObservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return append([]core.RateObservation(nil), m.latest...), nil
}

func (m *memoryStore) saved() []core.RateObservation {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.RateObservation
	for _, b := range m.batches {
		out = append(out, b...)
	}
	return out
}

type recordingPublisher struct {
	mu      sync.Mutex
	results []core.CycleResult
}

func (p *recordingPublisher) PublishCycle(_ context.Context, r core.CycleResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, r)
	return nil
}

func providersOf(rates []core.RateObservation) []core.Provider {
	out := make([]core.Provider, 0, len(rates))
	for _, r := range rates {
		out = append(out, r.Provider)
	}
	return out
}

// manualAfter hands out one channel per call and lets the test fire it.
type manualAfter struct {
	ch chan time.Time
}

func newManualAfter() *manualAfter {
	return &manualAfter{ch: make(chan time.Time, 1)}
}

func (m *manualAfter) After(time.Duration) <-chan time.Time { return m.ch }

func (m *manualAfter) fire() { m.ch <- testEpoch }
