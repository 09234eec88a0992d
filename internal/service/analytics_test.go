package service

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/canopy-dev/canopy"
)

func TestBoundedCounter_BumpAccumulatesCount(t *testing.T) {
	b := newBoundedCounter()
	b.bump("Hello")
	b.bump("Hello")
	b.bump("World")

	got := b.snapshot()
	assert.Equal(t, uint64(2), got["Hello"])
	assert.Equal(t, uint64(1), got["World"])
}

func TestBoundedCounter_IgnoresEmptyKey(t *testing.T) {
	b := newBoundedCounter()
	b.bump("")
	assert.Empty(t, b.snapshot())
}

func TestBoundedCounter_EvictsLeastRecentlyBumpedPastCap(t *testing.T) {
	b := newBoundedCounter()
	for i := 0; i < analyticsCap; i++ {
		b.bump(fmt.Sprintf("key-%d", i))
	}
	// Touch key-1 so it's no longer the least-recently-bumped.
	b.bump("key-1")

	b.bump("overflow")

	got := b.snapshot()
	_, stillPresent := got["key-1"]
	assert.True(t, stillPresent, "a recently re-bumped key must survive eviction")
	_, evicted := got["key-0"]
	assert.False(t, evicted, "the least-recently-bumped key must be evicted once the cap is exceeded")
	_, added := got["overflow"]
	assert.True(t, added)
	assert.Len(t, got, analyticsCap, "count must stay at the cap, not grow past it")
}

func TestAnalytics_RecordQuery_TracksSymbolPatternAndRepo(t *testing.T) {
	a := newAnalytics()
	a.recordQuery("repo1", canopy.QueryParams{Symbol: "Foo", Pattern: "TODO"})
	a.recordQuery("repo1", canopy.QueryParams{Symbol: "Foo"})

	snap := a.snapshot()
	assert.Equal(t, uint64(2), snap.TopSymbols["Foo"])
	assert.Equal(t, uint64(1), snap.TopPatterns["TODO"])
	assert.Equal(t, uint64(2), snap.RequestsByRepo["repo1"])
}
