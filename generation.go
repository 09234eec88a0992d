package canopy

import "fmt"

// Generation is a per-repo monotonic counter advanced on each successful
// reindex, used by the service to detect stale handle expansion (spec I4).
type Generation uint64

// Next returns the next generation. Generations never decrease (spec
// invariant 6): callers should only ever persist the result of Next.
func (g Generation) Next() Generation { return g + 1 }

func (g Generation) String() string { return fmt.Sprintf("%d", uint64(g)) }

// ShardStatus is the lifecycle state of a service-managed repo shard.
type ShardStatus string

const (
	StatusUnindexed ShardStatus = "unindexed"
	StatusIndexing  ShardStatus = "indexing"
	StatusReady     ShardStatus = "ready"
	StatusError     ShardStatus = "error"
)
