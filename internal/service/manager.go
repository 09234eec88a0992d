package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/canopy-dev/canopy"
)

// Manager is the shard manager: it owns one Shard (and one canopy.Engine)
// per registered repo, behind a map guarded by its own lock — the map
// lock only ever protects the map itself, never a shard's own state, so
// registering a new repo never blocks a query against an existing one
// (spec §4.9's "different shards are independent").
type Manager struct {
	mu     sync.RWMutex
	shards map[string]*Shard

	dataDir    string
	engineOpts []canopy.Option

	cache     *queryCache
	analytics *analytics
}

// NewManager creates a shard manager persisting each repo's index under
// dataDir/<repo_id>/index.db.
func NewManager(dataDir string, engineOpts ...canopy.Option) *Manager {
	return &Manager{
		shards:     map[string]*Shard{},
		dataDir:    dataDir,
		engineOpts: engineOpts,
		cache:      newQueryCache(),
		analytics:  newAnalytics(),
	}
}

// AddRepo registers root (which must be a VCS root) and opens its engine.
// A path already registered returns the existing shard's id rather than a
// duplicate (spec §4.9: "duplicate paths return the same id").
func (m *Manager) AddRepo(root, name string) (repoID string, err error) {
	root, err = filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("canopy: resolve repo root: %w", err)
	}
	if !isVCSRoot(root) {
		return "", canopy.ErrNotRepo
	}

	repoID = repoIDFor(root)

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.shards[repoID]; ok {
		return s.ID, nil
	}

	if name == "" {
		name = filepath.Base(root)
	}
	dbPath := filepath.Join(m.dataDir, repoID, "index.db")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return "", fmt.Errorf("canopy: create shard dir: %w", err)
	}
	engine, err := canopy.Open(dbPath, m.engineOpts...)
	if err != nil {
		return "", fmt.Errorf("canopy: open shard engine: %w", err)
	}

	m.shards[repoID] = &Shard{
		ID: repoID, Name: name, Root: root, DBPath: dbPath, basePath: dbPath,
		Status: StatusUnindexed, engine: engine, engineOpts: m.engineOpts,
	}
	return repoID, nil
}

func (m *Manager) shard(repoID string) (*Shard, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.shards[repoID]
	return s, ok
}

// ReindexResult is the outcome of a Reindex call.
type ReindexResult struct {
	Generation canopy.Generation
	Status     Status
	CommitSHA  string
}

// Reindex runs a full (or glob-scoped) reindex of repoID's tree. Single
// flight: a concurrent call while one is already running returns
// already_indexing with the shard's current generation instead of
// queuing a second pass (spec I5).
//
// Per spec §4.9, the shard takes exclusive access only while swapping the
// ready index pointer: indexing itself runs against a temporary generation
// (a VACUUM INTO snapshot of the live database, opened as its own Engine)
// entirely outside any lock, so concurrent queries keep serving the old,
// unmutated generation for the full duration of the reindex. Only the
// near-instantaneous pointer swap in Shard.promote takes the write lock.
func (m *Manager) Reindex(ctx context.Context, repoID, glob string) (ReindexResult, error) {
	s, ok := m.shard(repoID)
	if !ok {
		return ReindexResult{}, canopy.NotFoundError("unknown repo: " + repoID)
	}

	ok, gen := s.beginIndexing()
	if !ok {
		return ReindexResult{Generation: gen, Status: StatusIndexing}, canopy.ErrAlreadyIndexing
	}

	shadowPath := s.shadowPath(gen.Next())
	if err := s.currentEngine().SnapshotTo(shadowPath); err != nil {
		s.abortIndexing(err)
		return ReindexResult{Generation: gen, Status: StatusError}, err
	}
	shadowEngine, err := canopy.Open(shadowPath, s.engineOpts...)
	if err != nil {
		os.Remove(shadowPath)
		s.abortIndexing(err)
		return ReindexResult{Generation: gen, Status: StatusError}, err
	}

	if glob != "" {
		_, err = shadowEngine.IndexGlob(ctx, s.Root, glob)
	} else {
		_, err = shadowEngine.IndexDirectory(ctx, s.Root, "")
	}
	if err != nil {
		shadowEngine.Close()
		os.Remove(shadowPath)
		s.abortIndexing(err)
		return ReindexResult{Generation: gen, Status: StatusError}, err
	}

	commitSHA := headSHA(s.Root)
	newGen := s.promote(shadowEngine, shadowPath, commitSHA)
	m.cache.purgeGeneration(repoID, newGen)
	recordReindex()
	return ReindexResult{Generation: newGen, Status: StatusReady, CommitSHA: commitSHA}, nil
}

// Query runs params against repoID's shard, stamping every handle with
// service provenance. Results are cached per (repo_id, params, generation)
// so repeat queries against an unchanged index skip re-execution entirely
// (spec D.3); a reindex's generation bump naturally orphans stale entries
// since they're keyed on the generation that produced them.
func (m *Manager) Query(repoID string, params canopy.QueryParams) (canopy.QueryResult, error) {
	start := time.Now()
	s, ok := m.shard(repoID)
	if !ok {
		return canopy.QueryResult{}, canopy.NotFoundError("unknown repo: " + repoID)
	}

	m.analytics.recordQuery(repoID, params)

	key, cacheable := cacheKeyFor(repoID, params, s.currentGeneration())
	if cacheable {
		if cached, ok := m.cache.get(key); ok {
			recordQuery(float64(time.Since(start).Milliseconds()), true)
			return cached, nil
		}
	}

	result, err := s.query(params)
	recordQuery(float64(time.Since(start).Milliseconds()), false)
	if err == nil && cacheable {
		m.cache.put(key, result)
	}
	return result, err
}

// EvidencePack runs params through the shard's engine and packs the
// result, per spec §4.6.
func (m *Manager) EvidencePack(repoID string, params canopy.QueryParams, planOverride *bool) (canopy.PlanResult, error) {
	s, ok := m.shard(repoID)
	if !ok {
		return canopy.PlanResult{}, canopy.NotFoundError("unknown repo: " + repoID)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	plan, err := s.engine.PlanEvidencePack(params, planOverride)
	if err != nil {
		return canopy.PlanResult{}, err
	}
	recordEvidencePack()
	return plan, nil
}

// ExpandRequest names one handle to fetch content for, with the client's
// last-known generation for staleness checking.
type ExpandRequest struct {
	ID         string            `json:"id"`
	FilePath   string            `json:"file_path"`
	Span       canopy.Span       `json:"span"`
	Generation canopy.Generation `json:"generation,omitempty"`
}

// ExpandContent pairs an expand request with its resolved content.
type ExpandContent struct {
	HandleID string `json:"handle_id"`
	Content  string `json:"content"`
}

// Expand fetches content for every handle in reqs. If any requested
// generation is older than the shard's current generation, the whole
// call fails with stale_generation (spec §4.9).
func (m *Manager) Expand(ctx context.Context, repoID string, reqs []ExpandRequest) ([]ExpandContent, error) {
	s, ok := m.shard(repoID)
	if !ok {
		return nil, canopy.NotFoundError("unknown repo: " + repoID)
	}
	out := make([]ExpandContent, 0, len(reqs))
	for _, r := range reqs {
		content, err := s.expand(ctx, r.ID, r.FilePath, r.Span, r.Generation)
		if err != nil {
			return nil, err
		}
		out = append(out, ExpandContent{HandleID: r.ID, Content: content})
	}
	recordExpand()
	return out, nil
}

// ListRepos returns a snapshot of every registered shard.
func (m *Manager) ListRepos() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Snapshot, 0, len(m.shards))
	for _, s := range m.shards {
		out = append(out, s.snapshot())
	}
	return out
}

// Status returns one shard's snapshot.
func (m *Manager) Status(repoID string) (Snapshot, bool) {
	s, ok := m.shard(repoID)
	if !ok {
		return Snapshot{}, false
	}
	return s.snapshot(), true
}

// Analytics returns the cross-repo top_symbols/top_patterns/requests_by_repo
// counters (spec D.4), exposed at /status when no repo_id is given.
func (m *Manager) Analytics() AnalyticsSnapshot {
	return m.analytics.snapshot()
}

// Close releases every shard's engine.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for _, s := range m.shards {
		if err := s.engine.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func isVCSRoot(path string) bool {
	info, err := os.Stat(filepath.Join(path, ".git"))
	return err == nil && (info.IsDir() || info.Mode().IsRegular()) // regular file: worktree's .git pointer
}

// repoIDFor derives a stable, filesystem-safe shard id from a repo's
// absolute path, so re-adding the same path always resolves to the same
// shard directory.
func repoIDFor(absPath string) string {
	sum := sha256.Sum256([]byte(absPath))
	return hex.EncodeToString(sum[:8])
}

func headSHA(root string) string {
	cmd := exec.Command("git", "rev-parse", "HEAD")
	cmd.Dir = root
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
