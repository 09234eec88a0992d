package pipeline

import (
	"context"
	"time"

	"github.com/canopy-dev/canopy/internal/store"
	"github.com/canopy-dev/canopy/internal/symcache"
)

// ParallelThreshold is the candidate-set size at or above which Run uses
// the bounded worker-pool path instead of indexing files one at a time on
// the calling goroutine. Below it, the overhead of spinning up workers and
// a writer goroutine outweighs the parallelism gained.
const ParallelThreshold = 64

// Options configures a Run.
type Options struct {
	TTL          time.Duration
	ChunkLines   int
	ChunkOverlap int
	PreviewBytes int
	// Generation is stamped onto every file record written this run, so
	// the engine can detect which files were last touched by an older
	// reindex generation.
	Generation uint64
}

// Stats summarizes what a Run did.
type Stats struct {
	Indexed   int
	Skipped   int
	Removed   int
	Errors    []error
	Cancelled bool
}

// Run indexes candidatePaths against s, skipping files whose stored
// metadata is already current, removing files that no longer exist, and
// applying every committed batch's symbol deltas to cache. It dispatches
// to the sequential or parallel path based on the size of the work that
// survives the skip policy.
func Run(ctx context.Context, s *store.Store, cache *symcache.Cache, candidatePaths []string, opts Options) (Stats, error) {
	known, err := s.BatchLoadMetadata(candidatePaths)
	if err != nil {
		return Stats{}, err
	}

	now := time.Now()
	var toIndex, toRemove []string
	stats := Stats{}
	for _, path := range candidatePaths {
		if ctx.Err() != nil {
			stats.Cancelled = true
			break
		}
		meta, isKnown := known[path]
		decision, err := ShouldIndex(s, path, meta, isKnown, now, opts.TTL)
		if err != nil {
			stats.Errors = append(stats.Errors, err)
			continue
		}
		switch decision {
		case NeedsIndex:
			toIndex = append(toIndex, path)
		case Missing:
			if isKnown {
				toRemove = append(toRemove, path)
			}
		case UpToDate:
			stats.Skipped++
		}
	}

	if len(toRemove) > 0 {
		if err := removeFiles(s, cache, toRemove); err != nil {
			return stats, err
		}
		stats.Removed = len(toRemove)
	}

	if len(toIndex) == 0 {
		return stats, nil
	}

	var runErrs []error
	var cancelled bool
	if len(toIndex) >= ParallelThreshold {
		runErrs, cancelled = runParallel(ctx, s, cache, toIndex, opts)
	} else {
		runErrs, cancelled = runSequential(ctx, s, cache, toIndex, opts)
	}
	stats.Cancelled = stats.Cancelled || cancelled
	stats.Errors = append(stats.Errors, runErrs...)
	stats.Indexed = len(toIndex) - len(runErrs)
	return stats, nil
}

func removeFiles(s *store.Store, cache *symcache.Cache, paths []string) error {
	batch, err := s.BeginBatch()
	if err != nil {
		return err
	}
	for _, p := range paths {
		if err := batch.RemoveFile(p); err != nil {
			_ = batch.Abort()
			return err
		}
	}
	if err := batch.Commit(); err != nil {
		return err
	}
	cache.ApplyBatch(nil, batch.Removed(), nil)
	return nil
}
