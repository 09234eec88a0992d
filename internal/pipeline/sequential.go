package pipeline

import (
	"context"
	"fmt"

	"github.com/canopy-dev/canopy/internal/store"
	"github.com/canopy-dev/canopy/internal/symcache"
)

// runSequential indexes paths one at a time on the calling goroutine,
// committing every MaxFilesPerTx files. Used for small candidate sets
// (below ParallelThreshold) and for dirty-file overlays, where the
// worker-pool setup cost isn't worth paying.
func runSequential(ctx context.Context, s *store.Store, cache *symcache.Cache, paths []string, opts Options) ([]error, bool) {
	var errs []error
	var cancelled bool
	batch, err := s.BeginBatch()
	if err != nil {
		return []error{err}, false
	}

	pendingAdds := make(map[string][]symcache.Location)
	for _, path := range paths {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		ex, err := extractFile(path, opts)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := batch.UpsertFile(ex.meta, ex.content, ex.nodes, ex.refs); err != nil {
			errs = append(errs, fmt.Errorf("pipeline: upsert %s: %w", path, err))
			continue
		}
		for name, locs := range ex.symLocs {
			pendingAdds[name] = append(pendingAdds[name], locs...)
		}
		if batch.Full() {
			touched, removed := batch.Touched(), batch.Removed()
			if err := batch.Commit(); err != nil {
				errs = append(errs, err)
			} else {
				cache.ApplyBatch(touched, removed, pendingAdds)
			}
			pendingAdds = make(map[string][]symcache.Location)
			batch, err = s.BeginBatch()
			if err != nil {
				errs = append(errs, err)
				return errs, cancelled
			}
		}
	}

	touched, removed := batch.Touched(), batch.Removed()
	if len(touched) == 0 && len(removed) == 0 {
		_ = batch.Abort()
		return errs, cancelled
	}
	if err := batch.Commit(); err != nil {
		errs = append(errs, err)
		return errs, cancelled
	}
	cache.ApplyBatch(touched, removed, pendingAdds)
	return errs, cancelled
}
