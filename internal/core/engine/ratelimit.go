package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cambiowatch/cambiowatch/internal/core"
)

// QuotaLimiter enforces a fixed-window quota per key. It guards the manual
// refresh path, where each accepted call can launch a browser cycle.
type QuotaLimiter struct {
	Store  QuotaStore
	Limit  int
	Window time.Duration
	Clock  func() time.Time

	mu sync.Mutex
}

// QuotaStore stores quota state.
type QuotaStore interface {
	GetQuota(ctx context.Context, key string) (*core.QuotaState, error)
	UpdateQuota(ctx context.Context, key string, state *core.QuotaState) error
}

const (
	DefaultRefreshLimit  = 10
	DefaultRefreshWindow = 15 * time.Minute
)

// Take consumes one unit of quota for key. When the quota is spent it returns
// false and the wait until the window resets. Store errors fail open.
func (q *QuotaLimiter) Take(ctx context.Context, key string) (bool, time.Duration, error) {
	if q == nil || q.Store == nil {
		return true, 0, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	state, err := q.Store.GetQuota(ctx, key)
	if err != nil {
		return true, 0, err
	}
	now := q.now()
	if state == nil {
		state = &core.QuotaState{WindowStart: now}
	}

	if state.BlockedUntil != nil && now.Before(*state.BlockedUntil) {
		return false, state.BlockedUntil.Sub(now), nil
	}

	windowEnd := state.WindowStart.Add(q.window())
	if !now.Before(windowEnd) {
		state.Count = 0
		state.WindowStart = now
		state.BlockedUntil = nil
		windowEnd = now.Add(q.window())
	}

	if state.Count >= q.limit() {
		state.BlockedUntil = &windowEnd
		if err := q.Store.UpdateQuota(ctx, key, state); err != nil {
			return false, windowEnd.Sub(now), err
		}
		return false, windowEnd.Sub(now), nil
	}

	state.Count++
	if err := q.Store.UpdateQuota(ctx, key, state); err != nil {
		return true, 0, err
	}
	return true, 0, nil
}

// Remaining reports how many calls key may still make in its window.
func (q *QuotaLimiter) Remaining(ctx context.Context, key string) (int, error) {
	if q == nil || q.Store == nil {
		return q.limit(), nil
	}
	state, err := q.Store.GetQuota(ctx, strings.TrimSpace(key))
	if err != nil {
		return 0, err
	}
	if state == nil || !q.now().Before(state.WindowStart.Add(q.window())) {
		return q.limit(), nil
	}
	if left := q.limit() - state.Count; left > 0 {
		return left, nil
	}
	return 0, nil
}

func (q *QuotaLimiter) limit() int {
	if q != nil && q.Limit > 0 {
		return q.Limit
	}
	return DefaultRefreshLimit
}

func (q *QuotaLimiter) window() time.Duration {
	if q != nil && q.Window > 0 {
		return q.Window
	}
	return DefaultRefreshWindow
}

func (q *QuotaLimiter) now() time.Time {
	if q != nil && q.Clock != nil {
		return q.Clock()
	}
	return time.Now().UTC()
}

// MemoryQuotaStore keeps quota state in process memory.
type MemoryQuotaStore struct {
	mu    sync.Mutex
	state map[string]core.QuotaState
}

func (m *MemoryQuotaStore) GetQuota(_ context.Context, key string) (*core.QuotaState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.state[key]
	if !ok {
		return nil, nil
	}
	return &value, nil
}

func (m *MemoryQuotaStore) UpdateQuota(_ context.Context, key string, state *core.QuotaState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		m.state = make(map[string]core.QuotaState)
	}
	m.state[key] = *state
	return nil
}
