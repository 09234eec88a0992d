package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/canopy-dev/canopy/internal/store"
	"github.com/canopy-dev/canopy/internal/symcache"
)

// channelCapacity bounds the MPSC channel between parse workers and the
// single writer, so a slow writer applies backpressure to fast workers
// instead of letting parsed-but-uncommitted files pile up in memory
// without bound.
const channelCapacity = 64

// writeJob is one worker's completed extraction, headed for the writer.
type writeJob struct {
	path string
	ex   extracted
	err  error
}

// runParallel indexes paths across a bounded worker pool: N parse workers
// feed a single writer goroutine over a capacity-limited channel, and the
// writer commits every MaxFilesPerTx files. Every stage checks ctx before
// starting its next unit of work, so cancellation stops new work promptly
// without corrupting an in-flight transaction.
func runParallel(ctx context.Context, s *store.Store, cache *symcache.Cache, paths []string, opts Options) ([]error, bool) {
	numWorkers := runtime.NumCPU()
	if numWorkers > len(paths) {
		numWorkers = len(paths)
	}
	if numWorkers < 1 {
		numWorkers = 1
	}

	pathCh := make(chan string, channelCapacity)
	jobCh := make(chan writeJob, channelCapacity)

	var workerWG sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		workerWG.Add(1)
		go func() {
			defer workerWG.Done()
			for path := range pathCh {
				if ctx.Err() != nil {
					return
				}
				ex, err := extractFile(path, opts)
				jobCh <- writeJob{path: path, ex: ex, err: err}
			}
		}()
	}

	go func() {
		defer close(pathCh)
		for _, p := range paths {
			if ctx.Err() != nil {
				return
			}
			pathCh <- p
		}
	}()

	go func() {
		workerWG.Wait()
		close(jobCh)
	}()

	errs := runWriter(s, cache, jobCh)
	return errs, ctx.Err() != nil
}

// runWriter is the pipeline's single DB writer: it owns the only store.Batch
// in flight at a time and applies symbol-cache deltas only after each
// batch's commit succeeds.
func runWriter(s *store.Store, cache *symcache.Cache, jobCh <-chan writeJob) []error {
	var errs []error
	batch, err := s.BeginBatch()
	if err != nil {
		// Drain jobCh so workers don't block forever on a full channel.
		for range jobCh {
		}
		return []error{err}
	}
	pendingAdds := make(map[string][]symcache.Location)

	flush := func() {
		touched, removed := batch.Touched(), batch.Removed()
		if len(touched) == 0 && len(removed) == 0 {
			_ = batch.Abort()
			return
		}
		if err := batch.Commit(); err != nil {
			errs = append(errs, err)
			return
		}
		cache.ApplyBatch(touched, removed, pendingAdds)
	}

	for job := range jobCh {
		if job.err != nil {
			errs = append(errs, fmt.Errorf("pipeline: extract %s: %w", job.path, job.err))
			continue
		}
		if err := batch.UpsertFile(job.ex.meta, job.ex.content, job.ex.nodes, job.ex.refs); err != nil {
			errs = append(errs, fmt.Errorf("pipeline: upsert %s: %w", job.path, err))
			continue
		}
		for name, locs := range job.ex.symLocs {
			pendingAdds[name] = append(pendingAdds[name], locs...)
		}
		if batch.Full() {
			flush()
			pendingAdds = make(map[string][]symcache.Location)
			batch, err = s.BeginBatch()
			if err != nil {
				errs = append(errs, err)
				for range jobCh {
				}
				return errs
			}
		}
	}
	flush()
	return errs
}
