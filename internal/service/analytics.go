package service

import (
	"sync"

	"github.com/canopy-dev/canopy"
)

// analyticsCap bounds each boundedCounter at 512 distinct keys (spec D.4),
// evicting the least-recently-bumped key once the cap is hit. The original
// canopy-service/src/metrics.rs keeps these as plain unbounded HashMaps;
// a long-lived service process fielding arbitrary query text has no such
// luxury, so this is a from-scratch bound rather than a translation.
const analyticsCap = 512

// boundedCounter is a key->count map capped at analyticsCap keys. Every
// bump also touches the key's position in an LRU-by-write order list, so
// eviction always drops the key that has gone the longest without being
// bumped again, not an arbitrary one.
type boundedCounter struct {
	mu     sync.Mutex
	counts map[string]uint64
	order  []string // least-recently-bumped first
}

func newBoundedCounter() *boundedCounter {
	return &boundedCounter{counts: map[string]uint64{}}
}

func (b *boundedCounter) bump(key string) {
	if key == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.counts[key]; ok {
		b.counts[key]++
		b.touch(key)
		return
	}
	if len(b.counts) >= analyticsCap {
		oldest := b.order[0]
		b.order = b.order[1:]
		delete(b.counts, oldest)
	}
	b.counts[key] = 1
	b.order = append(b.order, key)
}

// touch moves key to the back of the order list (most-recently-bumped).
func (b *boundedCounter) touch(key string) {
	for i, k := range b.order {
		if k == key {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	b.order = append(b.order, key)
}

func (b *boundedCounter) snapshot() map[string]uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]uint64, len(b.counts))
	for k, v := range b.counts {
		out[k] = v
	}
	return out
}

// analytics tracks the cross-repo counters spec D.4's /status response
// exposes: which symbols and patterns are queried most, and which repos see
// the most query traffic.
type analytics struct {
	topSymbols     *boundedCounter
	topPatterns    *boundedCounter
	requestsByRepo *boundedCounter
}

func newAnalytics() *analytics {
	return &analytics{
		topSymbols:     newBoundedCounter(),
		topPatterns:    newBoundedCounter(),
		requestsByRepo: newBoundedCounter(),
	}
}

func (a *analytics) recordQuery(repoID string, params canopy.QueryParams) {
	a.requestsByRepo.bump(repoID)
	a.topSymbols.bump(params.Symbol)
	a.topPatterns.bump(params.Pattern)
}

// AnalyticsSnapshot is the JSON shape /status exposes for global analytics.
type AnalyticsSnapshot struct {
	TopSymbols     map[string]uint64 `json:"top_symbols"`
	TopPatterns    map[string]uint64 `json:"top_patterns"`
	RequestsByRepo map[string]uint64 `json:"requests_by_repo"`
}

func (a *analytics) snapshot() AnalyticsSnapshot {
	return AnalyticsSnapshot{
		TopSymbols:     a.topSymbols.snapshot(),
		TopPatterns:    a.topPatterns.snapshot(),
		RequestsByRepo: a.requestsByRepo.snapshot(),
	}
}
