package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"

	"github.com/cambiowatch/cambiowatch/internal/core"
	"github.com/cambiowatch/cambiowatch/internal/core/extractor"
	"github.com/cambiowatch/cambiowatch/internal/metrics"
)

const (
	DefaultBudget      = 30 * time.Second
	DefaultMinResults  = 2
	DefaultHardTimeout = 120 * time.Second
)

// Persistence is the durable sink for observations.
type Persistence interface {
	SaveObservations(ctx context.Context, batch []core.RateObservation) (int, error)
	LatestPerProvider(ctx context.Context) ([]core.RateObservation, error)
}

// Publisher forwards settled cycles downstream.
type Publisher interface {
	PublishCycle(ctx context.Context, result core.CycleResult) error
}

// Orchestrator runs every extractor against one shared session and returns as
// soon as enough sources answer or the budget elapses. Stragglers keep running
// in the background until they settle.
type Orchestrator struct {
	Launcher   extractor.Launcher
	Extractors []extractor.Extractor
	State      *State
	Store      Persistence
	Publisher  Publisher
	Logger     Logger

	Budget      time.Duration
	MinResults  int
	HardTimeout time.Duration

	Clock func() time.Time
	After func(d time.Duration) <-chan time.Time
	NewID func() string
}

type outcome struct {
	provider core.Provider
	obs      *core.RateObservation
	err      error
	elapsed  time.Duration
}

// Run executes one cycle. It fails only when the session cannot be acquired.
func (o *Orchestrator) Run(ctx context.Context) (*Cycle, error) {
	if o == nil || o.Launcher == nil {
		return nil, errors.New("orchestrator is not configured")
	}
	if len(o.Extractors) == 0 {
		return nil, errors.New("no extractors configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	log := loggerOrNop(o.Logger)

	session, err := o.Launcher.Launch(ctx)
	if err != nil {
		return nil, &core.SessionError{Err: err}
	}

	// Stragglers outlive the caller; only the hard timeout bounds them.
	bg := context.WithoutCancel(ctx)

	cycle := &Cycle{
		ID:        o.newID(),
		StartedAt: o.now(),
		done:      make(chan struct{}),
	}
	state := o.state()
	cycle.buffer = NewBuffer(func(rates []core.RateObservation) {
		state.PublishRates(rates, o.now())
	})

	log.Info("Scrape cycle started",
		zap.String("cycle_id", cycle.ID),
		zap.Int("sources", len(o.Extractors)))

	outcomes := make(chan outcome, len(o.Extractors))
	for _, ex := range o.Extractors {
		go func(ex extractor.Extractor) {
			outcomes <- o.runExtractor(bg, ex, session)
		}(ex)
	}

	ready := make(chan struct{})
	provisionalDone := make(chan struct{})
	go o.collect(bg, cycle, session, outcomes, ready, provisionalDone)

	select {
	case <-ready:
	case <-o.after(o.budget()):
	case <-ctx.Done():
	}

	provisional := cycle.buffer.Provisional(func() {
		state.MarkPending(o.now())
	})
	cycle.setProvisional(provisional)
	if len(provisional) > 0 {
		o.persist(bg, cycle, provisional)
	}
	close(provisionalDone)

	metrics.RecordProvisional(len(provisional), o.now().Sub(cycle.StartedAt))
	log.Info("Provisional rates ready",
		zap.String("cycle_id", cycle.ID),
		zap.Int("rates", len(provisional)),
		zap.Duration("elapsed", o.now().Sub(cycle.StartedAt)))

	return cycle, nil
}

// collect is the single writer of the cycle buffer.
func (o *Orchestrator) collect(ctx context.Context, cycle *Cycle, session extractor.Session, outcomes <-chan outcome, ready chan<- struct{}, provisionalDone <-chan struct{}) {
	log := loggerOrNop(o.Logger)
	total := len(o.Extractors)
	signalled := false
	signal := func() {
		if !signalled {
			signalled = true
			close(ready)
		}
	}

	for settled := 1; settled <= total; settled++ {
		out := <-outcomes
		o.record(cycle, out)
		if out.obs != nil {
			cycle.buffer.Append(*out.obs)
		}
		log.Debug("Source settled",
			zap.String("cycle_id", cycle.ID),
			zap.String("provider", string(out.provider)),
			zap.Int("settled", settled),
			zap.Int("total", total))

		if cycle.buffer.Len() >= o.minResults() {
			signal()
		}
	}
	signal()

	<-provisionalDone
	o.finish(ctx, cycle, session)
}

func (o *Orchestrator) finish(ctx context.Context, cycle *Cycle, session extractor.Session) {
	log := loggerOrNop(o.Logger)

	rates := cycle.buffer.Snapshot()
	errMsg := ""
	if len(rates) == 0 {
		errMsg = core.ErrNoRates.Error()
	}
	o.state().Finalize(rates, o.now(), errMsg)

	if late := cycle.buffer.Unpersisted(); len(late) > 0 {
		o.persist(ctx, cycle, late)
	}

	if err := session.Close(); err != nil {
		log.Warn("Failed to close browser session",
			zap.String("cycle_id", cycle.ID),
			zap.Error(err))
	}

	result := core.CycleResult{
		CycleID:           cycle.ID,
		StartedAt:         cycle.StartedAt,
		Rates:             rates,
		AllSourcesSettled: true,
		Error:             errMsg,
	}
	if o.Publisher != nil {
		if err := o.Publisher.PublishCycle(ctx, result); err != nil {
			log.Warn("Failed to publish cycle",
				zap.String("cycle_id", cycle.ID),
				zap.Error(err))
		}
	}

	status := "complete"
	if errMsg != "" {
		status = "empty"
	}
	elapsed := o.now().Sub(cycle.StartedAt)
	metrics.RecordCycle(status, elapsed)
	log.Info("Scrape cycle settled",
		zap.String("cycle_id", cycle.ID),
		zap.Int("rates", len(rates)),
		zap.Duration("elapsed", elapsed))

	cycle.finalize(result)
}

func (o *Orchestrator) runExtractor(ctx context.Context, ex extractor.Extractor, session extractor.Session) outcome {
	start := o.now()
	provider := ex.Provider()

	ctx, cancel := context.WithTimeout(ctx, o.hardTimeout())
	defer cancel()

	type result struct {
		obs *core.RateObservation
		err error
	}
	done := make(chan result, 1)
	go func() {
		var res result
		var pc panics.Catcher
		pc.Try(func() {
			res.obs, res.err = ex.Extract(ctx, session)
		})
		if r := pc.Recovered(); r != nil {
			res = result{err: r.AsError()}
		}
		done <- res
	}()

	out := outcome{provider: provider}
	select {
	case res := <-done:
		out.obs, out.err = res.obs, res.err
	case <-ctx.Done():
		out.err = fmt.Errorf("abandoned after %s: %w", o.now().Sub(start), ctx.Err())
	}
	out.elapsed = o.now().Sub(start)

	if out.err != nil {
		out.obs = nil
		out.err = &core.ExtractionError{Provider: provider, Err: out.err}
		return out
	}
	if out.obs != nil {
		obs := *out.obs
		if obs.Provider == "" {
			obs.Provider = provider
		}
		if obs.ObservedAt.IsZero() {
			obs.ObservedAt = o.now()
		}
		out.obs = &obs
		if !obs.BuyRate.IsPositive() || !obs.SellRate.IsPositive() {
			out.obs = nil
		}
	}
	return out
}

func (o *Orchestrator) record(cycle *Cycle, out outcome) {
	log := loggerOrNop(o.Logger)
	fields := []zap.Field{
		zap.String("cycle_id", cycle.ID),
		zap.String("provider", string(out.provider)),
		zap.Duration("elapsed", out.elapsed),
	}

	switch {
	case out.err != nil:
		metrics.RecordSourceOutcome(string(out.provider), metrics.OutcomeFault, out.elapsed)
		log.Warn("Source extraction failed", append(fields, zap.Error(out.err))...)
	case out.obs == nil:
		metrics.RecordSourceOutcome(string(out.provider), metrics.OutcomeMiss, out.elapsed)
		log.Info("Source returned no rates", fields...)
	default:
		metrics.RecordSourceOutcome(string(out.provider), metrics.OutcomeOK, out.elapsed)
		log.Info("Source rates received", append(fields,
			zap.String("buy", out.obs.BuyRate.String()),
			zap.String("sell", out.obs.SellRate.String()))...)
	}
}

func (o *Orchestrator) persist(ctx context.Context, cycle *Cycle, batch []core.RateObservation) {
	if o.Store == nil || len(batch) == 0 {
		return
	}
	n, err := o.Store.SaveObservations(ctx, batch)
	if err != nil {
		loggerOrNop(o.Logger).Error("Failed to persist rates",
			zap.String("cycle_id", cycle.ID),
			zap.Int("rates", len(batch)),
			zap.Error(err))
		return
	}
	cycle.buffer.MarkPersisted(batch)
	metrics.RecordPersisted(n)
}

func (o *Orchestrator) state() *State {
	if o.State == nil {
		o.State = NewState()
	}
	return o.State
}

func (o *Orchestrator) budget() time.Duration {
	if o.Budget > 0 {
		return o.Budget
	}
	return DefaultBudget
}

func (o *Orchestrator) minResults() int {
	if o.MinResults > 0 {
		return o.MinResults
	}
	return DefaultMinResults
}

func (o *Orchestrator) hardTimeout() time.Duration {
	return EffectiveHardTimeout(o.HardTimeout)
}

// EffectiveHardTimeout returns the per-extraction cap the orchestrator applies
// for a configured value. Zero or negative selects DefaultHardTimeout;
// extractions are never unbounded.
func EffectiveHardTimeout(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return DefaultHardTimeout
}

func (o *Orchestrator) after(d time.Duration) <-chan time.Time {
	if o.After != nil {
		return o.After(d)
	}
	return time.After(d)
}

func (o *Orchestrator) newID() string {
	if o.NewID != nil {
		return o.NewID()
	}
	return uuid.NewString()
}

func (o *Orchestrator) now() time.Time {
	if o != nil && o.Clock != nil {
		return o.Clock()
	}
	return time.Now().UTC()
}

// Cycle is a handle on a running scrape cycle.
type Cycle struct {
	ID        string
	StartedAt time.Time

	buffer *Buffer
	done   chan struct{}

	mu          sync.Mutex
	provisional []core.RateObservation
	final       *core.CycleResult
}

// Provisional returns the result handed back at the early-return point.
func (c *Cycle) Provisional() core.CycleResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	res := core.CycleResult{
		CycleID:   c.ID,
		StartedAt: c.StartedAt,
		Rates:     append([]core.RateObservation(nil), c.provisional...),
	}
	if len(res.Rates) == 0 {
		res.Error = PendingMessage
	}
	return res
}

// Current returns the live view, including stragglers that arrived after the
// provisional return.
func (c *Cycle) Current() core.CycleResult {
	c.mu.Lock()
	final := c.final
	c.mu.Unlock()
	if final != nil {
		return cloneResult(*final)
	}
	return core.CycleResult{
		CycleID:   c.ID,
		StartedAt: c.StartedAt,
		Rates:     c.buffer.Snapshot(),
	}
}

// Done is closed once every extractor has settled and the cycle is finalized.
func (c *Cycle) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the cycle is final or ctx ends.
func (c *Cycle) Wait(ctx context.Context) (core.CycleResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-c.done:
		return c.Current(), nil
	case <-ctx.Done():
		return c.Current(), ctx.Err()
	}
}

func (c *Cycle) setProvisional(rates []core.RateObservation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.provisional = rates
}

func (c *Cycle) finalize(result core.CycleResult) {
	c.mu.Lock()
	c.final = &result
	c.mu.Unlock()
	close(c.done)
}

func cloneResult(r core.CycleResult) core.CycleResult {
	r.Rates = append([]core.RateObservation(nil), r.Rates...)
	return r
}
