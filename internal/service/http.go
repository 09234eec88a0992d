package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/canopy-dev/canopy"
)

// Server wires a Manager behind the HTTP surface spec §6 describes:
// /repos/add, /reindex, /query, /evidence_pack, /expand, /status, /metrics.
type Server struct {
	mgr    *Manager
	logger *slog.Logger
	mux    *http.ServeMux
}

// NewServer builds the request router for mgr. Pass nil for logger to get
// slog.Default().
func NewServer(mgr *Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{mgr: mgr, logger: logger, mux: http.NewServeMux()}
	s.mux.HandleFunc("/repos/add", s.handleAddRepo)
	s.mux.HandleFunc("/reindex", s.handleReindex)
	s.mux.HandleFunc("/query", s.handleQuery)
	s.mux.HandleFunc("/evidence_pack", s.handleEvidencePack)
	s.mux.HandleFunc("/expand", s.handleExpand)
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.Handle("/metrics", promhttp.Handler())
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type addRepoRequest struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

type addRepoResponse struct {
	RepoID string `json:"repo_id"`
}

func (s *Server) handleAddRepo(w http.ResponseWriter, r *http.Request) {
	var req addRepoRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	repoID, err := s.mgr.AddRepo(req.Path, req.Name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, addRepoResponse{RepoID: repoID})
}

type reindexRequest struct {
	RepoID string `json:"repo_id"`
	Glob   string `json:"glob"`
}

type reindexResponse struct {
	Generation canopy.Generation `json:"generation"`
	Status     string            `json:"status"`
	CommitSHA  string            `json:"commit_sha,omitempty"`
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	var req reindexRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := s.mgr.Reindex(r.Context(), req.RepoID, req.Glob)
	if err != nil && !errors.Is(err, canopy.ErrAlreadyIndexing) {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reindexResponse{
		Generation: result.Generation, Status: string(result.Status), CommitSHA: result.CommitSHA,
	})
}

type queryRequest struct {
	RepoID string             `json:"repo_id"`
	Params canopy.QueryParams `json:"params"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := s.mgr.Query(req.RepoID, req.Params)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type evidencePackRequest struct {
	RepoID string             `json:"repo_id"`
	Params canopy.QueryParams `json:"params"`
	Plan   *bool              `json:"plan,omitempty"`
}

func (s *Server) handleEvidencePack(w http.ResponseWriter, r *http.Request) {
	var req evidencePackRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	plan, err := s.mgr.EvidencePack(req.RepoID, req.Params, req.Plan)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

type expandRequestBody struct {
	RepoID  string          `json:"repo_id"`
	Handles []ExpandRequest `json:"handles"`
}

type expandResponse struct {
	Contents []ExpandContent `json:"contents"`
}

func (s *Server) handleExpand(w http.ResponseWriter, r *http.Request) {
	var req expandRequestBody
	if !decodeJSON(w, r, &req) {
		return
	}
	contents, err := s.mgr.Expand(r.Context(), req.RepoID, req.Handles)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, expandResponse{Contents: contents})
}

// globalStatusResponse is the /status body when no repo_id is given: every
// registered shard's snapshot plus the cross-repo analytics counters (spec
// D.4).
type globalStatusResponse struct {
	Repos     []Snapshot        `json:"repos"`
	Analytics AnalyticsSnapshot `json:"analytics"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	repoID := r.URL.Query().Get("repo_id")
	if repoID == "" {
		writeJSON(w, http.StatusOK, globalStatusResponse{
			Repos:     s.mgr.ListRepos(),
			Analytics: s.mgr.Analytics(),
		})
		return
	}
	snap, ok := s.mgr.Status(repoID)
	if !ok {
		s.writeError(w, canopy.NotFoundError("unknown repo: "+repoID))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, Envelope{Code: "bad_request", Message: err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError translates a domain error into the {code, message, hint}
// envelope and matching HTTP status, per spec §6.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var coded *canopy.CodedError
	if errors.As(err, &coded) {
		writeJSON(w, statusForCode(coded.Code), Envelope{
			Code: coded.Code, Message: coded.Message, Hint: coded.Hint,
		})
		return
	}
	switch {
	case errors.Is(err, canopy.ErrNotRepo):
		writeJSON(w, http.StatusBadRequest, notRepo(err.Error()))
	case errors.Is(err, canopy.ErrAlreadyIndexing):
		writeJSON(w, http.StatusConflict, alreadyIndexing())
	default:
		s.logger.Error("service.internal_error", "error", err)
		writeJSON(w, http.StatusInternalServerError, internalError(err))
	}
}

func statusForCode(code string) int {
	switch code {
	case "not_found":
		return http.StatusNotFound
	case "stale_generation":
		return http.StatusConflict
	case "already_indexing":
		return http.StatusConflict
	case "not_repo":
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ListenAndServe starts s on addr, matching the teacher CLI's pattern of a
// plain http.Server rather than a router framework.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s}
	s.logger.Info("service.http.start", "addr", addr)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
