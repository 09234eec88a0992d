package service

import (
	"encoding/json"
	"sync"

	"github.com/canopy-dev/canopy"
)

// queryCache caches QueryResults per (repo_id, cache_key=json(QueryParams),
// generation), matching canopy-service/src/routes.rs's get_cached_query /
// insert_cached_query: embedding the generation in the key means a reindex's
// generation bump orphans stale entries automatically (a stale key just
// never hits again) rather than requiring active invalidation. Orphaned
// buckets are dropped in bulk on a successful reindex (see purgeGeneration)
// so memory doesn't grow unbounded across many reindexes of a long-lived
// shard.
type queryCache struct {
	mu      sync.Mutex
	entries map[queryCacheKey]canopy.QueryResult
}

type queryCacheKey struct {
	repoID     string
	paramsJSON string
	generation canopy.Generation
}

func newQueryCache() *queryCache {
	return &queryCache{entries: map[queryCacheKey]canopy.QueryResult{}}
}

// cacheKeyFor derives the (repo_id, cache_key, generation) triple for
// params. json.Marshal errors are treated as "not cacheable" rather than
// propagated, since a params struct with no unsupported field ever fails to
// marshal in practice.
func cacheKeyFor(repoID string, params canopy.QueryParams, generation canopy.Generation) (queryCacheKey, bool) {
	b, err := json.Marshal(params)
	if err != nil {
		return queryCacheKey{}, false
	}
	return queryCacheKey{repoID: repoID, paramsJSON: string(b), generation: generation}, true
}

func (c *queryCache) get(key queryCacheKey) (canopy.QueryResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	result, ok := c.entries[key]
	return result, ok
}

// put stores result unless it was auto-expanded — an auto-expanded result
// embeds file content inline, so caching it would serve stale content past
// the handle's own generation staleness check (routes.rs excludes the same
// case for the same reason).
func (c *queryCache) put(key queryCacheKey, result canopy.QueryResult) {
	if result.AutoExpanded {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = result
}

// purgeGeneration drops every cached entry for repoID whose generation is
// older than current, so a reindex doesn't leave behind an ever-growing set
// of unreachable per-generation buckets.
func (c *queryCache) purgeGeneration(repoID string, current canopy.Generation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if key.repoID == repoID && key.generation < current {
			delete(c.entries, key)
		}
	}
}
