package canopy

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/canopy-dev/canopy/internal/pipeline"
	"github.com/canopy-dev/canopy/internal/predict"
	"github.com/canopy-dev/canopy/internal/store"
	"github.com/canopy-dev/canopy/internal/symcache"
)

// IndexStats reports one indexing pass's outcome.
type IndexStats = pipeline.Stats

// predictorThreshold is the candidate-file count above which a first index
// of a repo is scoped by the predictor's keyword→glob table instead of
// indexing everything (spec §4.7).
const predictorThreshold = 1000

// defaultIgnorePatterns lists directories that are never worth indexing;
// it is the engine's ignore list unless WithIgnorePatterns replaces it.
var defaultIgnorePatterns = []string{
	"node_modules/**", ".git/**", "target/**", "dist/**", "build/**", "__pycache__/**",
}

// Engine orchestrates a single repo's store, symbol cache, and indexing
// pipeline behind the query and evidence-pack surface. It owns exactly one
// SQLite database and is safe for concurrent use by multiple goroutines
// (queries take the store's read path; indexing serializes through the
// store's single writer).
type Engine struct {
	store *store.Store
	cache *symcache.Cache

	tokenizer      string
	chunkLines     int
	chunkOverlap   int
	previewBytes   int
	ttl            time.Duration
	ignorePatterns []string
	maxHandles     int
	maxPerFile     int
	generation     uint64

	recent *RecentExpands
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithTokenizer selects the FTS5 tokenizer (default "unicode61").
func WithTokenizer(name string) Option {
	return func(e *Engine) { e.tokenizer = name }
}

// WithChunking sets the fallback chunker's window and overlap, in lines
// (defaults 50/10).
func WithChunking(lines, overlap int) Option {
	return func(e *Engine) { e.chunkLines, e.chunkOverlap = lines, overlap }
}

// WithPreviewBytes sets the handle preview length (default 100).
func WithPreviewBytes(n int) Option {
	return func(e *Engine) { e.previewBytes = n }
}

// WithTTL sets how long a file whose mtime and size still match its stored
// metadata is trusted without a content-hash re-check; once the stored
// mtime is older than ttl, each scan re-verifies the file by hash. The
// default 0 turns that check off: a matching mtime and size always count
// as up to date.
func WithTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.ttl = ttl }
}

// WithIgnorePatterns overrides the default ignore-glob list used by the
// filesystem-walk discovery fallback.
func WithIgnorePatterns(patterns []string) Option {
	return func(e *Engine) { e.ignorePatterns = patterns }
}

// WithEvidenceDefaults overrides max_handles/max_per_file for EvidencePack
// (defaults DefaultMaxHandles/DefaultMaxPerFile).
func WithEvidenceDefaults(maxHandles, maxPerFile int) Option {
	return func(e *Engine) { e.maxHandles, e.maxPerFile = maxHandles, maxPerFile }
}

// Open creates or opens the SQLite-backed index at dbPath and warms the
// symbol cache from its current contents.
func Open(dbPath string, opts ...Option) (*Engine, error) {
	e := &Engine{
		tokenizer:      "unicode61",
		chunkLines:     50,
		chunkOverlap:   10,
		previewBytes:   100,
		ignorePatterns: defaultIgnorePatterns,
		maxHandles:     DefaultMaxHandles,
		maxPerFile:     DefaultMaxPerFile,
		recent:         NewRecentExpands(),
	}
	for _, opt := range opts {
		opt(e)
	}

	s, err := store.Open(dbPath, e.tokenizer)
	if err != nil {
		return nil, fmt.Errorf("canopy: open store: %w", err)
	}
	e.store = s
	e.cache = symcache.New()

	if err := e.warmCache(); err != nil {
		s.Close()
		return nil, err
	}
	return e, nil
}

// warmCache preloads the symbol cache from every currently indexed node,
// per spec §4.4's "preloaded at open" requirement.
func (e *Engine) warmCache() error {
	paths, err := e.store.AllFilePaths()
	if err != nil {
		return fmt.Errorf("canopy: warm cache: %w", err)
	}
	adds := map[string][]symcache.Location{}
	for _, path := range paths {
		nodes, err := e.store.NodesInFile(path)
		if err != nil {
			return fmt.Errorf("canopy: warm cache %s: %w", path, err)
		}
		for _, n := range nodes {
			if n.Name == "" {
				continue
			}
			adds[n.Name] = append(adds[n.Name], symcache.Location{
				FilePath: n.FilePath, HandleID: n.HandleID, NodeType: n.NodeType,
			})
		}
	}
	e.cache.ApplyBatch(nil, nil, adds)
	return nil
}

// Close releases the Engine's database resources.
func (e *Engine) Close() error { return e.store.Close() }

// Store returns the underlying store, for callers (the service layer,
// cmd/canopy status) that need it directly.
func (e *Engine) Store() *store.Store { return e.store }

// SnapshotTo copies the engine's index to a fresh file at destPath, safe to
// call while the engine continues serving queries.
func (e *Engine) SnapshotTo(destPath string) error { return e.store.SnapshotTo(destPath) }

// IndexDirectory discovers files under root (git-aware, falling back to a
// gitignore-respecting walk) and indexes them. When the candidate set
// exceeds predictorThreshold and query is non-empty, the predictor scopes
// discovery to keyword-matched globs instead of indexing the whole tree.
func (e *Engine) IndexDirectory(ctx context.Context, root string, query string) (pipeline.Stats, error) {
	paths, err := pipeline.DiscoverFiles(root, nil, e.ignorePatterns)
	if err != nil {
		return pipeline.Stats{}, fmt.Errorf("canopy: discover files: %w", err)
	}

	if len(paths) > predictorThreshold && query != "" {
		globs := predict.PredictGlobs(query, extensionsOf(paths))
		scoped := paths[:0:0]
		for _, p := range paths {
			if predict.MatchesAny(p, globs) {
				scoped = append(scoped, p)
			}
		}
		if len(scoped) > 0 {
			paths = scoped
		}
	}

	return e.IndexPaths(ctx, paths)
}

// extensionsOf collects the distinct file extensions (without the leading
// dot) present in paths, so the predictor's glob patterns are scoped to
// extensions this repo actually has instead of requiring a caller-supplied
// list it has no way to know in advance.
func extensionsOf(paths []string) []string {
	seen := map[string]bool{}
	var exts []string
	for _, p := range paths {
		ext := strings.TrimPrefix(filepath.Ext(p), ".")
		if ext == "" || seen[ext] {
			continue
		}
		seen[ext] = true
		exts = append(exts, ext)
	}
	return exts
}

// IndexGlob discovers files under root matching glob and indexes only
// those, for a caller-scoped reindex (spec §4.9's reindex glob parameter).
func (e *Engine) IndexGlob(ctx context.Context, root, glob string) (pipeline.Stats, error) {
	paths, err := pipeline.DiscoverFiles(root, []string{glob}, e.ignorePatterns)
	if err != nil {
		return pipeline.Stats{}, fmt.Errorf("canopy: discover files: %w", err)
	}
	return e.IndexPaths(ctx, paths)
}

// IndexPaths runs the indexing pipeline over an explicit path list, e.g.
// the dirty-file subset a remote-mode query indexes locally before merge.
func (e *Engine) IndexPaths(ctx context.Context, paths []string) (pipeline.Stats, error) {
	e.generation++
	opts := pipeline.Options{
		TTL:          e.ttl,
		ChunkLines:   e.chunkLines,
		ChunkOverlap: e.chunkOverlap,
		PreviewBytes: e.previewBytes,
		Generation:   e.generation,
	}
	return pipeline.Run(ctx, e.store, e.cache, paths, opts)
}

// Query compiles and executes params against the current index.
func (e *Engine) Query(params QueryParams) (QueryResult, error) {
	q, err := Compile(params)
	if err != nil {
		return QueryResult{}, err
	}
	return RunQuery(q, e.store, e.cache, runQueryOptions{
		PreviewBytes: e.previewBytes,
		ExpandBudget: params.ExpandBudget,
		QueryText:    queryParamsText(params),
	})
}

// QuerySExpr compiles and executes an s-expression query.
func (e *Engine) QuerySExpr(expr string, expandBudget int) (QueryResult, error) {
	q, err := CompileSExpr(expr)
	if err != nil {
		return QueryResult{}, err
	}
	return RunQuery(q, e.store, e.cache, runQueryOptions{
		PreviewBytes: e.previewBytes,
		ExpandBudget: expandBudget,
		QueryText:    expr,
	})
}

// EvidencePack runs params and packs the result per spec §4.6, recording
// feedback (a query_event plus one query_handle row per packed handle).
func (e *Engine) EvidencePack(params QueryParams) (EvidencePack, error) {
	result, err := e.Query(params)
	if err != nil {
		return EvidencePack{}, err
	}
	pack, err := BuildEvidencePack(result, queryParamsText(params), e.store, params.Glob, e.recent.IDs(), e.maxHandles, e.maxPerFile)
	if err != nil {
		return EvidencePack{}, err
	}
	e.recordQueryFeedback(pack)
	return pack, nil
}

// PlanEvidencePack runs the iterative plan=true evidence-planning loop
// (spec §4.6's "optional server-side planning"). With planning off it runs
// the seed query alone, plus a pattern-split retry when the seed found no
// handles.
func (e *Engine) PlanEvidencePack(params QueryParams, planOverride *bool) (PlanResult, error) {
	plan, err := PlanEvidence(params, planOverride, e.store, e.maxHandles, e.maxPerFile, e.Query)
	if err != nil {
		return PlanResult{}, err
	}
	e.recordQueryFeedback(plan.Pack)
	return plan, nil
}

func (e *Engine) recordQueryFeedback(pack EvidencePack) {
	fingerprint := fingerprintQuery(pack.QueryText)
	queryID, err := e.store.RecordQuery(fingerprint, pack.QueryText, "", time.Now().Unix())
	if err != nil {
		return // feedback logging never fails a query
	}
	for _, h := range pack.Handles {
		_ = e.store.RecordQueryHandle(queryID, h.ID, string(h.NodeType), "", time.Now().Unix())
	}
}

// Expand fetches full content for handleID and records an accept-feedback
// event. Local mode always accepts (spec §4.6's "true by default").
func (e *Engine) Expand(handleID, filePath string, span Span) (string, error) {
	content, err := e.store.GetContent(filePath, span.Start, span.End)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrHandleNotFound, handleID)
	}
	e.recent.Record(handleID)
	_ = e.store.RecordExpand(handleID, true, time.Now().Unix())
	return content, nil
}

// Supersede marks handleID as not-accepted after all, per spec §4.6's
// "false if the handle is later superseded in the same session".
func (e *Engine) Supersede(handleID string) error {
	return e.store.RecordExpand(handleID, false, time.Now().Unix())
}

// fingerprintQuery derives a short, stable identifier for a query's text,
// used to correlate feedback rows without storing the raw query twice.
func fingerprintQuery(text string) string {
	terms := splitTerms(text)
	if len(terms) == 0 {
		return "empty"
	}
	out := terms[0]
	for _, t := range terms[1:] {
		out += "+" + t
	}
	if len(out) > 64 {
		out = out[:64]
	}
	return out
}
