package engine

import (
	"sync"

	"github.com/cambiowatch/cambiowatch/internal/core"
)

// Buffer aggregates one cycle's observations, one slot per provider, in
// arrival order.
type Buffer struct {
	mu        sync.Mutex
	order     []core.Provider
	slots     map[core.Provider]core.RateObservation
	persisted map[core.Provider]core.RateObservation
	publish   func([]core.RateObservation)
}

// NewBuffer returns an empty buffer. publish, when set, receives the full
// snapshot after every accepted append.
func NewBuffer(publish func([]core.RateObservation)) *Buffer {
	return &Buffer{
		slots:     make(map[core.Provider]core.RateObservation),
		persisted: make(map[core.Provider]core.RateObservation),
		publish:   publish,
	}
}

// Append stores obs in its provider slot, replacing any earlier observation
// from the same cycle. Observations without positive rates are rejected.
func (b *Buffer) Append(obs core.RateObservation) bool {
	if !obs.BuyRate.IsPositive() || !obs.SellRate.IsPositive() || obs.Provider == "" {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.slots[obs.Provider]; !ok {
		b.order = append(b.order, obs.Provider)
	}
	b.slots[obs.Provider] = obs

	if b.publish != nil {
		b.publish(b.snapshotLocked())
	}
	return true
}

// Snapshot returns a point-in-time copy in arrival order.
func (b *Buffer) Snapshot() []core.RateObservation {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

// Provisional takes a snapshot and, if it is empty, runs onEmpty before any
// further append can publish.
func (b *Buffer) Provisional(onEmpty func()) []core.RateObservation {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap := b.snapshotLocked()
	if len(snap) == 0 && onEmpty != nil {
		onEmpty()
	}
	return snap
}

// Len reports how many providers have an observation.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}

// Unpersisted returns observations not yet handed to MarkPersisted.
func (b *Buffer) Unpersisted() []core.RateObservation {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]core.RateObservation, 0)
	for _, p := range b.order {
		obs := b.slots[p]
		if saved, ok := b.persisted[p]; ok && saved.ObservedAt.Equal(obs.ObservedAt) &&
			saved.BuyRate.Equal(obs.BuyRate) && saved.SellRate.Equal(obs.SellRate) {
			continue
		}
		out = append(out, obs)
	}
	return out
}

// MarkPersisted records that batch reached the persistence sink.
func (b *Buffer) MarkPersisted(batch []core.RateObservation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, obs := range batch {
		b.persisted[obs.Provider] = obs
	}
}

func (b *Buffer) snapshotLocked() []core.RateObservation {
	out := make([]core.RateObservation, 0, len(b.order))
	for _, p := range b.order {
		out = append(out, b.slots[p])
	}
	return out
}
