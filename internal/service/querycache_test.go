package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canopy-dev/canopy"
)

func TestCacheKeyFor_DiffersOnParams(t *testing.T) {
	k1, ok := cacheKeyFor("repo1", canopy.QueryParams{Symbol: "Foo"}, 1)
	require.True(t, ok)
	k2, ok := cacheKeyFor("repo1", canopy.QueryParams{Symbol: "Bar"}, 1)
	require.True(t, ok)
	assert.NotEqual(t, k1, k2)
}

func TestCacheKeyFor_DiffersOnGeneration(t *testing.T) {
	k1, ok := cacheKeyFor("repo1", canopy.QueryParams{Symbol: "Foo"}, 1)
	require.True(t, ok)
	k2, ok := cacheKeyFor("repo1", canopy.QueryParams{Symbol: "Foo"}, 2)
	require.True(t, ok)
	assert.NotEqual(t, k1, k2, "a generation bump must change the cache key so old entries are orphaned")
}

func TestQueryCache_PutThenGet_RoundTrips(t *testing.T) {
	c := newQueryCache()
	key, ok := cacheKeyFor("repo1", canopy.QueryParams{Symbol: "Foo"}, 1)
	require.True(t, ok)

	_, hit := c.get(key)
	assert.False(t, hit, "empty cache must miss")

	want := canopy.QueryResult{TotalMatches: 3}
	c.put(key, want)

	got, hit := c.get(key)
	require.True(t, hit)
	assert.Equal(t, want, got)
}

func TestQueryCache_Put_SkipsAutoExpandedResults(t *testing.T) {
	c := newQueryCache()
	key, ok := cacheKeyFor("repo1", canopy.QueryParams{Symbol: "Foo"}, 1)
	require.True(t, ok)

	c.put(key, canopy.QueryResult{AutoExpanded: true, TotalMatches: 1})

	_, hit := c.get(key)
	assert.False(t, hit, "auto-expanded results embed client-specific content and must never be cached")
}

func TestQueryCache_PurgeGeneration_DropsOnlyOlderGenerations(t *testing.T) {
	c := newQueryCache()
	oldKey, _ := cacheKeyFor("repo1", canopy.QueryParams{Symbol: "Foo"}, 1)
	newKey, _ := cacheKeyFor("repo1", canopy.QueryParams{Symbol: "Foo"}, 2)
	otherRepoKey, _ := cacheKeyFor("repo2", canopy.QueryParams{Symbol: "Foo"}, 1)

	c.put(oldKey, canopy.QueryResult{TotalMatches: 1})
	c.put(newKey, canopy.QueryResult{TotalMatches: 2})
	c.put(otherRepoKey, canopy.QueryResult{TotalMatches: 3})

	c.purgeGeneration("repo1", 2)

	_, hit := c.get(oldKey)
	assert.False(t, hit, "generation 1 entry must be purged once generation 2 is current")
	_, hit = c.get(newKey)
	assert.True(t, hit, "generation 2 entry must survive its own purge")
	_, hit = c.get(otherRepoKey)
	assert.True(t, hit, "a different repo's entries must be untouched")
}
