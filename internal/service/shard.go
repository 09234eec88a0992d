package service

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/canopy-dev/canopy"
)

// Status mirrors canopy.ShardStatus's four states, re-exported here so
// callers of this package don't need to import the root package just to
// spell the enum.
type Status = canopy.ShardStatus

const (
	StatusUnindexed = canopy.StatusUnindexed
	StatusIndexing  = canopy.StatusIndexing
	StatusReady     = canopy.StatusReady
	StatusError     = canopy.StatusError
)

// Shard is one repo's engine plus the state a ShardManager needs to
// serialize reindexing and stamp query results: `Unindexed → Indexing →
// Ready`, with a parallel `Error` terminal re-enterable via reindex
// (spec §4.9).
type Shard struct {
	mu sync.RWMutex

	ID     string
	Name   string
	Root   string
	DBPath string
	// basePath is the shard's original index.db path, immutable after
	// AddRepo. shadowPath derives every generation's file from this rather
	// than from the current (post-promote) DBPath, so filenames stay
	// index.db.gen3 instead of accreting a .gen suffix per past reindex.
	basePath   string
	Status     Status
	Generation canopy.Generation
	CommitSHA  string
	LastError  string

	engine     *canopy.Engine
	engineOpts []canopy.Option

	// indexing guards single-flight reindex: at most one is in flight per
	// shard, and a concurrent caller observes the in-flight generation
	// instead of starting a second one (spec I5).
	indexing bool
}

// Snapshot is a point-in-time, lock-free copy of a Shard's public fields,
// safe to hand to an HTTP handler or /status response.
type Snapshot struct {
	ID         string            `json:"repo_id"`
	Name       string            `json:"name"`
	Root       string            `json:"root"`
	Status     Status            `json:"status"`
	Generation canopy.Generation `json:"generation"`
	CommitSHA  string            `json:"commit_sha,omitempty"`
	LastError  string            `json:"last_error,omitempty"`
	Indexing   bool              `json:"indexing"`
}

func (s *Shard) snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		ID: s.ID, Name: s.Name, Root: s.Root, Status: s.Status,
		Generation: s.Generation, CommitSHA: s.CommitSHA, LastError: s.LastError,
		Indexing: s.indexing,
	}
}

// beginIndexing claims the single-flight guard. ok=false means a reindex
// is already running; the caller should report already_indexing with the
// shard's current generation.
func (s *Shard) beginIndexing() (ok bool, currentGen canopy.Generation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexing {
		return false, s.Generation
	}
	s.indexing = true
	s.Status = StatusIndexing
	return true, s.Generation
}

// finishIndexing releases the single-flight guard and, on success,
// advances the generation and promotes the shard to Ready — generations
// never decrease (spec invariant I6), so this always sets, never resets.
func (s *Shard) finishIndexing(commitSHA string, err error) canopy.Generation {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexing = false
	if err != nil {
		s.Status = StatusError
		s.LastError = err.Error()
		return s.Generation
	}
	s.Generation = s.Generation.Next()
	s.CommitSHA = commitSHA
	s.Status = StatusReady
	s.LastError = ""
	return s.Generation
}

func (s *Shard) currentGeneration() canopy.Generation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Generation
}

// currentEngine returns the shard's live engine pointer under the read
// lock, for callers (Reindex's snapshot step) that need it without racing
// a concurrent promote().
func (s *Shard) currentEngine() *canopy.Engine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// query executes params against the shard's engine and stamps every
// returned handle with {source=service, commit_sha, generation}, per
// spec §4.9's query contract. The read lock is held for the whole call, not
// just the pointer capture: a concurrent reindex's promote() takes the
// write lock only to swap the engine pointer, and Go's sync.RWMutex won't
// grant that write lock until every in-flight query here has returned, so a
// query can never observe a store a reindex is mutating mid-batch-commit.
func (s *Shard) query(params canopy.QueryParams) (canopy.QueryResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result, err := s.engine.Query(params)
	if err != nil {
		return canopy.QueryResult{}, err
	}
	for i := range result.Handles {
		result.Handles[i].Source = canopy.SourceService
		result.Handles[i].Generation = s.Generation
		result.Handles[i].CommitSHA = s.CommitSHA
	}
	return result, nil
}

// expand fetches content for handleID, failing with ErrStaleGeneration if
// requestedGen is older than the shard's current generation (spec I4). Held
// under the same full-duration read lock as query, for the same reason.
func (s *Shard) expand(ctx context.Context, handleID, filePath string, span canopy.Span, requestedGen canopy.Generation) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if requestedGen != 0 && requestedGen < s.Generation {
		return "", canopy.StaleGenerationError(uint64(s.Generation), uint64(requestedGen))
	}
	return s.engine.Expand(handleID, filePath, span)
}

// shadowPath names the temporary index file a reindex builds into before
// promote() makes it live, keyed by the generation it will become so
// concurrent reindex attempts (blocked by the single-flight guard anyway)
// can never collide on the same file.
func (s *Shard) shadowPath(nextGen canopy.Generation) string {
	return fmt.Sprintf("%s.gen%d", s.basePath, nextGen)
}

// promote swaps the shard's live engine for newEngine, atomically from the
// point of view of query/expand: it holds the write lock only for the
// pointer-and-metadata swap itself, per spec §4.9's "exclusive access only
// while swapping the ready index pointer." The old engine and its file are
// released and removed after the swap, once no reader can still be using
// them.
func (s *Shard) promote(newEngine *canopy.Engine, newDBPath, commitSHA string) canopy.Generation {
	s.mu.Lock()
	oldEngine := s.engine
	oldDBPath := s.DBPath
	s.engine = newEngine
	s.DBPath = newDBPath
	s.indexing = false
	s.Generation = s.Generation.Next()
	s.CommitSHA = commitSHA
	s.Status = StatusReady
	s.LastError = ""
	gen := s.Generation
	s.mu.Unlock()

	_ = oldEngine.Close()
	_ = os.Remove(oldDBPath)
	return gen
}

// abortIndexing releases the single-flight guard after a failed reindex,
// recording the error without touching the still-live engine.
func (s *Shard) abortIndexing(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexing = false
	s.Status = StatusError
	s.LastError = err.Error()
}
