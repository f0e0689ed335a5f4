package engine

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cambiowatch/cambiowatch/internal/core"
)

func TestStateLoadIsIdempotent(t *testing.T) {
	s := NewState()
	s.PublishRates([]core.RateObservation{obsFor(core.ProviderRextie, "3.70", "3.74")}, testEpoch)

	first := s.Load()
	second := s.Load()
	assert.Equal(t, first, second)

	first.Rates[0].Provider = core.ProviderSunat
	assert.Equal(t, core.ProviderRextie, s.Load().Rates[0].Provider)
}

func TestStatePendingKeepsRates(t *testing.T) {
	s := NewState()
	s.PublishRates([]core.RateObservation{obsFor(core.ProviderRextie, "3.70", "3.74")}, testEpoch)
	s.MarkPending(testEpoch)

	snap := s.Load()
	assert.True(t, snap.Pending)
	assert.Equal(t, PendingMessage, snap.Error)
	assert.Len(t, snap.Rates, 1)

	s.Finalize(nil, testEpoch, core.ErrNoRates.Error())
	snap = s.Load()
	assert.False(t, snap.Pending)
	assert.Equal(t, "no rates obtained from any source", snap.Error)
	assert.Len(t, snap.Rates, 1, "prior rates survive an empty cycle")

	s.Fail("Error after 4 attempts: boom")
	assert.Len(t, s.Load().Rates, 1)
}

func TestStateRetryAttempt(t *testing.T) {
	s := NewState()
	s.SetRetryAttempt(2)
	assert.Equal(t, 2, s.Load().RetryAttempt)
	s.PublishRates(nil, testEpoch)
	assert.Equal(t, 2, s.Load().RetryAttempt)
}

func TestStateConcurrentReadersNeverSeeTornLists(t *testing.T) {
	s := NewState()
	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 500; i++ {
			rate := decimal.NewFromInt(int64(i))
			batch := make([]core.RateObservation, 0, 3)
			for _, p := range []core.Provider{core.ProviderKambista, core.ProviderRextie, core.ProviderTkambio} {
				batch = append(batch, core.RateObservation{Provider: p, BuyRate: rate, SellRate: rate})
			}
			s.PublishRates(batch, testEpoch)
		}
		close(stop)
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := s.Load()
				if len(snap.Rates) == 0 {
					continue
				}
				if !assert.Len(t, snap.Rates, 3) {
					return
				}
				for _, r := range snap.Rates {
					if !assert.True(t, r.BuyRate.Equal(snap.Rates[0].BuyRate)) {
						return
					}
				}
			}
		}()
	}
	wg.Wait()
}

func TestStateSubscribeLatestWins(t *testing.T) {
	s := NewState()
	ch, cancel := s.Subscribe()

	s.PublishRates([]core.RateObservation{obsFor(core.ProviderRextie, "3.70", "3.74")}, testEpoch)
	s.PublishRates([]core.RateObservation{
		obsFor(core.ProviderRextie, "3.70", "3.74"),
		obsFor(core.ProviderKambista, "3.71", "3.75"),
	}, testEpoch)

	snap := <-ch
	assert.Len(t, snap.Rates, 2)

	cancel()
	_, open := <-ch
	require.False(t, open)
	cancel()
}
