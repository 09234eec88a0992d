package canopy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ServiceClient talks to a running canopy service over HTTP, caching the
// repo_id resolved for each canonical local path so a caller doesn't
// re-register on every call.
type ServiceClient struct {
	baseURL string
	http    *http.Client

	mu           sync.Mutex
	repoIDByPath map[string]string
}

// NewServiceClient builds a client for baseURL (trailing slash trimmed).
func NewServiceClient(baseURL string) *ServiceClient {
	return &ServiceClient{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		http:         &http.Client{Timeout: 30 * time.Second},
		repoIDByPath: map[string]string{},
	}
}

// ResolveRepoID resolves repoPath to a service repo_id, registering it via
// /repos/add on first use and caching the result.
func (c *ServiceClient) ResolveRepoID(ctx context.Context, repoPath string) (string, error) {
	canonical, err := filepath.Abs(repoPath)
	if err != nil {
		return "", fmt.Errorf("canopy: resolve repo path: %w", err)
	}

	c.mu.Lock()
	if id, ok := c.repoIDByPath[canonical]; ok {
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	id, err := c.addRepo(ctx, canonical)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.repoIDByPath[canonical] = id
	c.mu.Unlock()
	return id, nil
}

// InvalidateAndResolve drops a stale cache entry (e.g. after a not_found
// response) and re-registers repoPath.
func (c *ServiceClient) InvalidateAndResolve(ctx context.Context, repoPath string) (string, error) {
	canonical, err := filepath.Abs(repoPath)
	if err != nil {
		return "", fmt.Errorf("canopy: resolve repo path: %w", err)
	}
	c.mu.Lock()
	delete(c.repoIDByPath, canonical)
	c.mu.Unlock()
	return c.ResolveRepoID(ctx, repoPath)
}

func (c *ServiceClient) addRepo(ctx context.Context, canonicalPath string) (string, error) {
	var resp struct {
		RepoID string `json:"repo_id"`
	}
	err := c.doJSON(ctx, "POST", "/repos/add", struct {
		Path string `json:"path"`
	}{Path: canonicalPath}, &resp)
	return resp.RepoID, err
}

// EnsureReady polls /status until repoID's shard is ready, errors, or
// timeout elapses.
func (c *ServiceClient) EnsureReady(ctx context.Context, repoID string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		var snap struct {
			Status    string `json:"status"`
			LastError string `json:"last_error"`
		}
		if err := c.doJSON(ctx, "GET", "/status?repo_id="+repoID, nil, &snap); err != nil {
			return err
		}
		switch snap.Status {
		case "ready":
			return nil
		case "error":
			return fmt.Errorf("canopy: repo %s indexing failed: %s", repoID, snap.LastError)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("canopy: repo %s still indexing after %s", repoID, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// Query runs params against repoID on the service.
func (c *ServiceClient) Query(ctx context.Context, repoID string, params QueryParams) (QueryResult, error) {
	var result QueryResult
	err := c.doJSON(ctx, "POST", "/query", struct {
		RepoID string      `json:"repo_id"`
		Params QueryParams `json:"params"`
	}{RepoID: repoID, Params: params}, &result)
	return result, err
}

// EvidencePack runs params through the service's evidence packer.
func (c *ServiceClient) EvidencePack(ctx context.Context, repoID string, params QueryParams, plan *bool) (PlanResult, error) {
	var result PlanResult
	err := c.doJSON(ctx, "POST", "/evidence_pack", struct {
		RepoID string      `json:"repo_id"`
		Params QueryParams `json:"params"`
		Plan   *bool       `json:"plan,omitempty"`
	}{RepoID: repoID, Params: params, Plan: plan}, &result)
	return result, err
}

// ExpandHandle names one handle to expand and the caller's last-known
// generation.
type ExpandHandle struct {
	ID         string     `json:"id"`
	FilePath   string     `json:"file_path"`
	Span       Span       `json:"span"`
	Generation Generation `json:"generation,omitempty"`
}

// Expand fetches content for handles from repoID's shard.
func (c *ServiceClient) Expand(ctx context.Context, repoID string, handles []ExpandHandle) (map[string]string, error) {
	var resp struct {
		Contents []struct {
			HandleID string `json:"handle_id"`
			Content  string `json:"content"`
		} `json:"contents"`
	}
	err := c.doJSON(ctx, "POST", "/expand", struct {
		RepoID  string         `json:"repo_id"`
		Handles []ExpandHandle `json:"handles"`
	}{RepoID: repoID, Handles: handles}, &resp)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(resp.Contents))
	for _, item := range resp.Contents {
		out[item.HandleID] = item.Content
	}
	return out, nil
}

// Reindex triggers a reindex of repoID, optionally scoped to glob.
func (c *ServiceClient) Reindex(ctx context.Context, repoID, glob string) (generation Generation, status string, commitSHA string, err error) {
	var resp struct {
		Generation Generation `json:"generation"`
		Status     string     `json:"status"`
		CommitSHA  string     `json:"commit_sha"`
	}
	err = c.doJSON(ctx, "POST", "/reindex", struct {
		RepoID string `json:"repo_id"`
		Glob   string `json:"glob,omitempty"`
	}{RepoID: repoID, Glob: glob}, &resp)
	return resp.Generation, resp.Status, resp.CommitSHA, err
}

// ServiceError is the decoded {code, message, hint} envelope a service
// error response carries.
type ServiceError struct {
	Code    string
	Message string
	Hint    string
}

func (e *ServiceError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("canopy: service error %s: %s (%s)", e.Code, e.Message, e.Hint)
	}
	return fmt.Sprintf("canopy: service error %s: %s", e.Code, e.Message)
}

// IsErrorCode reports whether err is a *ServiceError with the given code.
func IsErrorCode(err error, code string) bool {
	se, ok := err.(*ServiceError)
	return ok && se.Code == code
}

func (c *ServiceClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("canopy: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("canopy: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &ServiceError{Code: "connection_error", Message: err.Error(), Hint: "is the canopy service running?"}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var envelope ServiceError
		_ = json.NewDecoder(resp.Body).Decode(&envelope)
		if envelope.Code == "" {
			envelope.Code = "internal_error"
		}
		return &envelope
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ServiceError{Code: "parse_error", Message: err.Error(), Hint: "unexpected response from service"}
	}
	return nil
}
