package canopy

import (
	"context"
	"fmt"
	"time"
)

// RuntimeMode selects how a Runtime resolves a query: entirely against a
// local Engine, entirely against a remote service, or both with a local
// dirty-file overlay merged into the service's result.
type RuntimeMode string

const (
	ModeLocal  RuntimeMode = "local"
	ModeRemote RuntimeMode = "remote"
	ModeAuto   RuntimeMode = "auto"
)

// ensureReadyTimeout bounds how long Runtime waits for a freshly-registered
// repo's first index to finish before giving up.
const ensureReadyTimeout = 300 * time.Second

// Runtime is the mode orchestrator shared by the CLI and the MCP tool
// server: local mode drives the pipeline and query engine directly, remote
// mode issues requests to a shared service, and auto merges a client-side
// dirty overlay into the service's response (spec §4.8).
type Runtime struct {
	mode    RuntimeMode
	engine  *Engine
	service *ServiceClient

	repoPath string
	repoID   string
}

// NewLocalRuntime drives engine directly; no service is consulted.
func NewLocalRuntime(engine *Engine, repoPath string) *Runtime {
	return &Runtime{mode: ModeLocal, engine: engine, repoPath: repoPath}
}

// NewRemoteRuntime queries service exclusively; mode determines whether the
// local dirty overlay also runs (ModeAuto) or not (ModeRemote).
func NewRemoteRuntime(mode RuntimeMode, engine *Engine, service *ServiceClient, repoPath string) *Runtime {
	return &Runtime{mode: mode, engine: engine, service: service, repoPath: repoPath}
}

// Query executes params according to the runtime's mode.
func (r *Runtime) Query(ctx context.Context, params QueryParams) (QueryResult, error) {
	switch r.mode {
	case ModeLocal:
		return r.engine.Query(params)
	case ModeRemote:
		return r.queryRemote(ctx, params)
	case ModeAuto:
		return r.queryAuto(ctx, params)
	default:
		return QueryResult{}, fmt.Errorf("canopy: unknown runtime mode %q", r.mode)
	}
}

func (r *Runtime) queryRemote(ctx context.Context, params QueryParams) (QueryResult, error) {
	repoID, err := r.ensureRepo(ctx)
	if err != nil {
		return QueryResult{}, err
	}
	result, err := r.service.Query(ctx, repoID, params)
	if IsErrorCode(err, "not_found") {
		repoID, err = r.service.InvalidateAndResolve(ctx, r.repoPath)
		if err != nil {
			return QueryResult{}, err
		}
		r.repoID = repoID
		if err := r.service.EnsureReady(ctx, repoID, ensureReadyTimeout); err != nil {
			return QueryResult{}, err
		}
		return r.service.Query(ctx, repoID, params)
	}
	return result, err
}

// queryAuto runs the (a)-(e) sequence spec §4.8 describes: query the
// service, detect local dirty files, index only the dirty subset, query
// the local index over that subset, then merge — dropping every service
// handle whose file appears in the dirty set.
func (r *Runtime) queryAuto(ctx context.Context, params QueryParams) (QueryResult, error) {
	serviceResult, err := r.queryRemote(ctx, params)
	if err != nil {
		// Per spec §5's cancellation/timeout note: a service failure falls
		// back to local-only, with every returned handle source=local.
		return r.engine.Query(params)
	}

	dirty, err := DetectDirty(r.repoPath)
	if err != nil || len(dirty) == 0 {
		return serviceResult, nil
	}

	dirtyPaths := DirtyPathSet(dirty)
	pathsToIndex := DirtyPaths(dirty, false)
	if len(pathsToIndex) > 0 {
		if _, err := r.engine.IndexPaths(ctx, pathsToIndex); err != nil {
			return serviceResult, nil
		}
	}

	localResult, err := r.engine.Query(params)
	if err != nil {
		return serviceResult, nil
	}

	limit := params.Limit
	if limit <= 0 {
		limit = 16
	}
	return MergeResults(localResult, serviceResult, dirtyPaths, limit), nil
}

// EvidencePack builds a pack for params, using the service's server-side
// packer in remote/auto modes to keep the payload small, and the local
// packer otherwise.
func (r *Runtime) EvidencePack(ctx context.Context, params QueryParams, plan *bool) (PlanResult, error) {
	if r.mode == ModeLocal {
		return r.engine.PlanEvidencePack(params, plan)
	}

	repoID, err := r.ensureRepo(ctx)
	if err != nil {
		return PlanResult{}, err
	}
	packed, err := r.service.EvidencePack(ctx, repoID, params, plan)
	if err == nil || r.mode == ModeRemote {
		return packed, err
	}

	// auto mode: server-side pack skips the dirty overlay entirely, so on
	// failure (or to stay correct under I5's merge invariant) fall back to
	// a local query plus local pack over the merged result.
	result, qerr := r.queryAuto(ctx, params)
	if qerr != nil {
		return PlanResult{}, qerr
	}
	pack, err := BuildEvidencePack(result, queryParamsText(params), r.engine.store, params.Glob, r.engine.recent.IDs(), r.engine.maxHandles, r.engine.maxPerFile)
	if err != nil {
		return PlanResult{}, err
	}
	return PlanResult{Pack: pack, QueryText: pack.QueryText}, nil
}

// Expand fetches content for handleID, routing to the engine or the
// service depending on the handle's recorded source.
func (r *Runtime) Expand(ctx context.Context, h Handle) (string, error) {
	if h.Source != SourceService || r.service == nil {
		return r.engine.Expand(h.ID, h.FilePath, h.Span)
	}
	repoID, err := r.ensureRepo(ctx)
	if err != nil {
		return "", err
	}
	contents, err := r.service.Expand(ctx, repoID, []ExpandHandle{
		{ID: h.ID, FilePath: h.FilePath, Span: h.Span, Generation: h.Generation},
	})
	if err != nil {
		return "", err
	}
	content, ok := contents[h.ID]
	if !ok {
		return "", ErrHandleNotFound
	}
	return content, nil
}

// Index runs a full or glob-scoped index/reindex according to mode.
func (r *Runtime) Index(ctx context.Context, glob string) (generation Generation, status string, err error) {
	if r.mode == ModeLocal {
		if glob != "" {
			_, err = r.engine.IndexGlob(ctx, r.repoPath, glob)
		} else {
			_, err = r.engine.IndexDirectory(ctx, r.repoPath, "")
		}
		return 0, "indexed", err
	}
	repoID, err := r.ensureRepo(ctx)
	if err != nil {
		return 0, "", err
	}
	gen, status, _, err := r.service.Reindex(ctx, repoID, glob)
	return gen, status, err
}

func (r *Runtime) ensureRepo(ctx context.Context) (string, error) {
	if r.repoID != "" {
		return r.repoID, nil
	}
	repoID, err := r.service.ResolveRepoID(ctx, r.repoPath)
	if err != nil {
		return "", err
	}
	if err := r.service.EnsureReady(ctx, repoID, ensureReadyTimeout); err != nil {
		return "", err
	}
	r.repoID = repoID
	return repoID, nil
}
