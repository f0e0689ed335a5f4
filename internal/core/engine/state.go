package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cambiowatch/cambiowatch/internal/core"
)

// PendingMessage marks a cycle whose early window closed with no rates yet.
const PendingMessage = "waiting for exchange rates"

// State holds the process-wide current snapshot. Readers load it without
// locking; writers replace it wholesale.
type State struct {
	current atomic.Pointer[core.Snapshot]

	writeMu sync.Mutex

	subMu  sync.Mutex
	nextID int
	subs   map[int]chan core.Snapshot
}

// NewState returns a State holding an empty snapshot.
func NewState() *State {
	s := &State{subs: make(map[int]chan core.Snapshot)}
	s.current.Store(&core.Snapshot{Rates: []core.RateObservation{}})
	return s
}

// Load returns a copy of the current snapshot.
func (s *State) Load() core.Snapshot {
	return cloneSnapshot(s.load())
}

func (s *State) load() *core.Snapshot {
	if snap := s.current.Load(); snap != nil {
		return snap
	}
	return &core.Snapshot{Rates: []core.RateObservation{}}
}

// PublishRates replaces the current rates with a fresh cycle view.
func (s *State) PublishRates(rates []core.RateObservation, at time.Time) {
	s.update(func(next *core.Snapshot) {
		next.Rates = append([]core.RateObservation(nil), rates...)
		next.LastUpdate = &at
		next.Error = ""
		next.Pending = false
	})
}

// MarkPending flags that a cycle is running but nothing has arrived. Prior
// rates are kept.
func (s *State) MarkPending(at time.Time) {
	s.update(func(next *core.Snapshot) {
		next.LastUpdate = &at
		next.Error = PendingMessage
		next.Pending = true
	})
}

// Finalize records the settled view of a cycle. An empty result keeps prior
// rates and reports errMsg.
func (s *State) Finalize(rates []core.RateObservation, at time.Time, errMsg string) {
	s.update(func(next *core.Snapshot) {
		if len(rates) > 0 {
			next.Rates = append([]core.RateObservation(nil), rates...)
		}
		next.LastUpdate = &at
		next.Error = errMsg
		next.Pending = false
	})
}

// Fail records a terminal cycle error without clearing rates.
func (s *State) Fail(errMsg string) {
	s.update(func(next *core.Snapshot) {
		next.Error = errMsg
		next.Pending = false
	})
}

// SetRetryAttempt exposes the current retry attempt (0 when idle).
func (s *State) SetRetryAttempt(attempt int) {
	s.update(func(next *core.Snapshot) {
		next.RetryAttempt = attempt
	})
}

// Subscribe returns a channel receiving the latest snapshot after each change.
// Slow receivers only see the most recent snapshot.
func (s *State) Subscribe() (<-chan core.Snapshot, func()) {
	ch := make(chan core.Snapshot, 1)

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	if s.subs == nil {
		s.subs = make(map[int]chan core.Snapshot)
	}
	s.subs[id] = ch
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

func (s *State) update(mutate func(next *core.Snapshot)) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := cloneSnapshot(s.load())
	mutate(&next)
	s.current.Store(&next)
	s.notify(next)
}

func (s *State) notify(snap core.Snapshot) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- cloneSnapshot(&snap):
		default:
		}
	}
}

func cloneSnapshot(src *core.Snapshot) core.Snapshot {
	out := *src
	out.Rates = append(make([]core.RateObservation, 0, len(src.Rates)), src.Rates...)
	if src.LastUpdate != nil {
		t := *src.LastUpdate
		out.LastUpdate = &t
	}
	return out
}
