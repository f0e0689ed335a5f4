package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cambiowatch/cambiowatch/internal/core"
	"github.com/cambiowatch/cambiowatch/internal/core/extractor"
)

func newTestOrchestrator(exts []extractor.Extractor, after *manualAfter) (*Orchestrator, *fakeLauncher, *memoryStore) {
	launcher := &fakeLauncher{}
	store := &memoryStore{}
	return &Orchestrator{
		Launcher:   launcher,
		Extractors: exts,
		State:      NewState(),
		Store:      store,
		Logger:     zap.NewNop(),
		Budget:     30 * time.Second,
		MinResults: 2,
		Clock:      func() time.Time { return testEpoch },
		After:      after.After,
		NewID:      func() string { return "cycle-1" },
	}, launcher, store
}

func waitForRates(t *testing.T, s *State, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(s.Load().Rates) == n },
		2*time.Second, 5*time.Millisecond)
}

// Latencies 1,2,35,40,3,50 seconds, released in that order.
func TestOrchestratorProgressiveScenario(t *testing.T) {
	ext := []*latchExtractor{
		newLatch(core.ProviderKambista, "3.71", "3.75"),     // 1s
		newLatch(core.ProviderTkambio, "3.70", "3.74"),      // 2s
		newLatch(core.ProviderTucambista, "3.72", "3.76"),   // 35s
		newLatch(core.ProviderRextie, "3.69", "3.73"),       // 40s
		newLatch(core.ProviderBloomberg, "3.715", "3.725"),  // 3s
		newLatch(core.ProviderWesternUnion, "3.60", "3.90"), // 50s
	}
	list := make([]extractor.Extractor, 0, len(ext))
	for _, e := range ext {
		list = append(list, e)
	}
	after := newManualAfter()
	orch, launcher, store := newTestOrchestrator(list, after)
	publisher := &recordingPublisher{}
	orch.Publisher = publisher

	type runResult struct {
		cycle *Cycle
		err   error
	}
	returned := make(chan runResult, 1)
	go func() {
		c, err := orch.Run(context.Background())
		returned <- runResult{c, err}
	}()

	ext[0].open()
	waitForRates(t, orch.State, 1)
	select {
	case <-returned:
		t.Fatal("returned before min results")
	default:
	}
	ext[1].open()

	var res runResult
	select {
	case res = <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return at the second arrival")
	}
	require.NoError(t, res.err)
	cycle := res.cycle

	provisional := cycle.Provisional()
	assert.Equal(t, []core.Provider{core.ProviderKambista, core.ProviderTkambio}, providersOf(provisional.Rates))
	assert.Empty(t, provisional.Error)
	assert.Len(t, store.saved(), 2, "provisional rates persisted immediately")

	ext[4].open()
	waitForRates(t, orch.State, 3)
	after.fire() // budget mark
	assert.Len(t, orch.State.Load().Rates, 3)
	assert.Len(t, cycle.Current().Rates, 3)
	select {
	case <-cycle.Done():
		t.Fatal("cycle done before stragglers settled")
	default:
	}

	ext[2].open()
	ext[3].open()
	ext[5].open()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	final, err := cycle.Wait(ctx)
	require.NoError(t, err)
	require.Len(t, final.Rates, 6)
	assert.True(t, final.AllSourcesSettled)
	assert.Empty(t, final.Error)
	assert.Equal(t, []core.Provider{core.ProviderKambista, core.ProviderTkambio, core.ProviderBloomberg},
		providersOf(final.Rates[:3]))

	assert.Len(t, orch.State.Load().Rates, 6)
	assert.Len(t, store.saved(), 6, "late arrivals persisted once")
	assert.Equal(t, int32(1), launcher.session.closes.Load())
	assert.Equal(t, 1, launcher.launches)
	require.Len(t, publisher.results, 1)
	assert.Len(t, publisher.results[0].Rates, 6)

	// Provisional view is frozen at the early return.
	assert.Len(t, cycle.Provisional().Rates, 2)
}

func TestOrchestratorBudgetElapses(t *testing.T) {
	fast := newLatch(core.ProviderKambista, "3.71", "3.75")
	slow := newLatch(core.ProviderRextie, "3.69", "3.73")
	after := newManualAfter()
	orch, launcher, _ := newTestOrchestrator([]extractor.Extractor{fast, slow}, after)

	returned := make(chan *Cycle, 1)
	go func() {
		c, err := orch.Run(context.Background())
		assert.NoError(t, err)
		returned <- c
	}()

	fast.open()
	waitForRates(t, orch.State, 1)
	after.fire()

	cycle := <-returned
	assert.Len(t, cycle.Provisional().Rates, 1)

	slow.open()
	<-cycle.Done()
	assert.Len(t, cycle.Current().Rates, 2)
	assert.Equal(t, int32(1), launcher.session.closes.Load())
}

func TestOrchestratorAllMiss(t *testing.T) {
	exts := []extractor.Extractor{
		&latchExtractor{provider: core.ProviderKambista},
		&latchExtractor{provider: core.ProviderRextie},
	}
	orch, launcher, store := newTestOrchestrator(exts, newManualAfter())
	orch.State.PublishRates([]core.RateObservation{obsFor(core.ProviderTkambio, "3.70", "3.74")}, testEpoch)

	cycle, err := orch.Run(context.Background())
	require.NoError(t, err)

	provisional := cycle.Provisional()
	assert.Empty(t, provisional.Rates)
	assert.Equal(t, PendingMessage, provisional.Error)

	final, err := cycle.Wait(context.Background())
	require.NoError(t, err)
	assert.Empty(t, final.Rates)
	assert.Equal(t, "no rates obtained from any source", final.Error)

	snap := orch.State.Load()
	assert.Equal(t, "no rates obtained from any source", snap.Error)
	assert.Len(t, snap.Rates, 1, "previous rates kept")
	assert.Empty(t, store.saved())
	assert.Equal(t, int32(1), launcher.session.closes.Load())
}

func TestOrchestratorFaultIsolation(t *testing.T) {
	ok1 := obsFor(core.ProviderKambista, "3.71", "3.75")
	ok2 := obsFor(core.ProviderRextie, "3.69", "3.73")
	exts := []extractor.Extractor{
		&latchExtractor{provider: core.ProviderKambista, obs: &ok1},
		&latchExtractor{provider: core.ProviderTkambio, err: errBoom},
		&latchExtractor{provider: core.ProviderTucambista, panicMsg: "selector exploded"},
		&latchExtractor{provider: core.ProviderRextie, obs: &ok2},
	}
	orch, _, _ := newTestOrchestrator(exts, newManualAfter())

	cycle, err := orch.Run(context.Background())
	require.NoError(t, err)
	final, err := cycle.Wait(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []core.Provider{core.ProviderKambista, core.ProviderRextie}, providersOf(final.Rates))
	assert.Empty(t, final.Error)
}

func TestOrchestratorHardTimeoutSettlesStragglers(t *testing.T) {
	ok := obsFor(core.ProviderKambista, "3.71", "3.75")
	stuck := newLatch(core.ProviderRextie, "3.69", "3.73")
	after := newManualAfter()
	orch, launcher, _ := newTestOrchestrator([]extractor.Extractor{
		&latchExtractor{provider: core.ProviderKambista, obs: &ok},
		stuck,
	}, after)
	orch.HardTimeout = 20 * time.Millisecond

	cycle, err := orch.Run(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	final, err := cycle.Wait(ctx)
	require.NoError(t, err)
	assert.Len(t, final.Rates, 1)
	assert.Equal(t, int32(1), launcher.session.closes.Load())
}

// deadlineExtractor records the deadline its context carries.
type deadlineExtractor struct {
	provider core.Provider
	deadline chan time.Duration
}

func (d *deadlineExtractor) Provider() core.Provider { return d.provider }

func (d *deadlineExtractor) Extract(ctx context.Context, _ extractor.Session) (*core.RateObservation, error) {
	dl, ok := ctx.Deadline()
	if !ok {
		d.deadline <- 0
	} else {
		d.deadline <- time.Until(dl)
	}
	obs := obsFor(d.provider, "3.71", "3.75")
	return &obs, nil
}

func TestOrchestratorZeroHardTimeoutStillBounded(t *testing.T) {
	for _, hard := range []time.Duration{0, -time.Second} {
		ex := &deadlineExtractor{provider: core.ProviderKambista, deadline: make(chan time.Duration, 1)}
		orch, _, _ := newTestOrchestrator([]extractor.Extractor{ex}, newManualAfter())
		orch.HardTimeout = hard

		cycle, err := orch.Run(context.Background())
		require.NoError(t, err)
		_, err = cycle.Wait(context.Background())
		require.NoError(t, err)

		got := <-ex.deadline
		assert.Greater(t, got, DefaultHardTimeout-5*time.Second, "hard timeout %s", hard)
		assert.LessOrEqual(t, got, DefaultHardTimeout, "hard timeout %s", hard)
	}
}

func TestEffectiveHardTimeout(t *testing.T) {
	assert.Equal(t, DefaultHardTimeout, EffectiveHardTimeout(0))
	assert.Equal(t, DefaultHardTimeout, EffectiveHardTimeout(-time.Minute))
	assert.Equal(t, 5*time.Second, EffectiveHardTimeout(5*time.Second))
}

func TestOrchestratorSameProviderKeepsOneSlot(t *testing.T) {
	first := newLatch(core.ProviderKambista, "3.71", "3.75")
	second := newLatch(core.ProviderKambista, "3.72", "3.76")
	other := newLatch(core.ProviderRextie, "3.69", "3.73")
	orch, _, store := newTestOrchestrator([]extractor.Extractor{first, second, other}, newManualAfter())

	type runResult struct {
		cycle *Cycle
		err   error
	}
	returned := make(chan runResult, 1)
	go func() {
		c, err := orch.Run(context.Background())
		returned <- runResult{c, err}
	}()

	first.open()
	waitForRates(t, orch.State, 1)
	second.open()
	require.Eventually(t, func() bool {
		rates := orch.State.Load().Rates
		return len(rates) == 1 && rates[0].BuyRate.Equal(decimal.RequireFromString("3.72"))
	}, 2*time.Second, 5*time.Millisecond)
	select {
	case <-returned:
		t.Fatal("a repeated provider counted as a second result")
	default:
	}

	other.open()
	var res runResult
	select {
	case res = <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return at the second distinct provider")
	}
	require.NoError(t, res.err)

	final, err := res.cycle.Wait(context.Background())
	require.NoError(t, err)
	require.Len(t, final.Rates, 2)
	assert.Equal(t, []core.Provider{core.ProviderKambista, core.ProviderRextie}, providersOf(final.Rates))
	assert.True(t, final.Rates[0].SellRate.Equal(decimal.RequireFromString("3.76")), "last write wins")
	saved := store.saved()
	require.Len(t, saved, 2, "the replaced observation is never persisted")
	assert.True(t, saved[0].BuyRate.Equal(decimal.RequireFromString("3.72")))
}

func TestOrchestratorCallerCancelDoesNotStopStragglers(t *testing.T) {
	slow := newLatch(core.ProviderRextie, "3.69", "3.73")
	orch, _, store := newTestOrchestrator([]extractor.Extractor{slow}, newManualAfter())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cycle, err := orch.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, cycle.Provisional().Rates)

	slow.open()
	final, err := cycle.Wait(context.Background())
	require.NoError(t, err)
	assert.Len(t, final.Rates, 1)
	assert.Len(t, store.saved(), 1)
}

func TestOrchestratorSessionFault(t *testing.T) {
	orch, _, _ := newTestOrchestrator([]extractor.Extractor{newLatch(core.ProviderRextie, "3.69", "3.73")}, newManualAfter())
	orch.Launcher = &fakeLauncher{err: errBoom}

	cycle, err := orch.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, cycle)

	var sessionErr *core.SessionError
	require.True(t, errors.As(err, &sessionErr))
	assert.ErrorIs(t, err, errBoom)
}

func TestOrchestratorPersistFailureKeepsCycleGoing(t *testing.T) {
	ok := obsFor(core.ProviderKambista, "3.71", "3.75")
	orch, _, store := newTestOrchestrator([]extractor.Extractor{
		&latchExtractor{provider: core.ProviderKambista, obs: &ok},
	}, newManualAfter())
	store.err = errBoom

	cycle, err := orch.Run(context.Background())
	require.NoError(t, err)
	final, err := cycle.Wait(context.Background())
	require.NoError(t, err)
	assert.Len(t, final.Rates, 1)
}

func TestOrchestratorRequiresExtractors(t *testing.T) {
	orch := &Orchestrator{Launcher: &fakeLauncher{}}
	_, err := orch.Run(context.Background())
	require.Error(t, err)
}
