package engine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cambiowatch/cambiowatch/internal/core"
)

func TestBufferArrivalOrderAndDedupe(t *testing.T) {
	var published [][]core.RateObservation
	b := NewBuffer(func(r []core.RateObservation) { published = append(published, r) })

	require.True(t, b.Append(obsFor(core.ProviderRextie, "3.70", "3.74")))
	require.True(t, b.Append(obsFor(core.ProviderKambista, "3.71", "3.75")))
	require.True(t, b.Append(obsFor(core.ProviderRextie, "3.72", "3.76")))

	snap := b.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, []core.Provider{core.ProviderRextie, core.ProviderKambista}, providersOf(snap))
	assert.True(t, snap[0].BuyRate.Equal(decimal.RequireFromString("3.72")), "last write wins")
	assert.Equal(t, 2, b.Len())
	assert.Len(t, published, 3)
	assert.Len(t, published[0], 1)
}

func TestBufferRejectsInvalid(t *testing.T) {
	b := NewBuffer(nil)
	assert.False(t, b.Append(obsFor(core.ProviderRextie, "0", "3.74")))
	assert.False(t, b.Append(core.RateObservation{BuyRate: decimal.NewFromInt(3), SellRate: decimal.NewFromInt(4)}))
	assert.Equal(t, 0, b.Len())
}

func TestBufferSnapshotIsCopy(t *testing.T) {
	b := NewBuffer(nil)
	b.Append(obsFor(core.ProviderRextie, "3.70", "3.74"))
	snap := b.Snapshot()
	snap[0].Provider = core.ProviderSunat
	assert.Equal(t, core.ProviderRextie, b.Snapshot()[0].Provider)
}

func TestBufferUnpersisted(t *testing.T) {
	b := NewBuffer(nil)
	b.Append(obsFor(core.ProviderRextie, "3.70", "3.74"))
	b.Append(obsFor(core.ProviderKambista, "3.71", "3.75"))
	b.MarkPersisted(b.Snapshot())
	assert.Empty(t, b.Unpersisted())

	b.Append(obsFor(core.ProviderTkambio, "3.69", "3.73"))
	b.Append(obsFor(core.ProviderRextie, "3.72", "3.76"))
	late := b.Unpersisted()
	assert.Equal(t, []core.Provider{core.ProviderRextie, core.ProviderTkambio}, providersOf(late))
}

func TestBufferProvisionalRunsOnEmpty(t *testing.T) {
	b := NewBuffer(nil)
	called := 0
	assert.Empty(t, b.Provisional(func() { called++ }))
	assert.Equal(t, 1, called)

	b.Append(obsFor(core.ProviderRextie, "3.70", "3.74"))
	assert.Len(t, b.Provisional(func() { called++ }), 1)
	assert.Equal(t, 1, called)
}
