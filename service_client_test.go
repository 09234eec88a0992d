package canopy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceClient_ResolveRepoID_CachesAfterFirstAdd(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		require.Equal(t, "/repos/add", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{"repo_id": "repo-1"})
	}))
	defer srv.Close()

	c := NewServiceClient(srv.URL)
	id1, err := c.ResolveRepoID(context.Background(), "/tmp/repo")
	require.NoError(t, err)
	id2, err := c.ResolveRepoID(context.Background(), "/tmp/repo")
	require.NoError(t, err)

	assert.Equal(t, "repo-1", id1)
	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, calls, "second resolve must hit the cache, not /repos/add again")
}

func TestServiceClient_InvalidateAndResolve_ReRegisters(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(map[string]string{"repo_id": "repo-1"})
	}))
	defer srv.Close()

	c := NewServiceClient(srv.URL)
	_, err := c.ResolveRepoID(context.Background(), "/tmp/repo")
	require.NoError(t, err)
	_, err = c.InvalidateAndResolve(context.Background(), "/tmp/repo")
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
}

func TestServiceClient_Query_DecodesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/query", r.URL.Path)
		var body struct {
			RepoID string      `json:"repo_id"`
			Params QueryParams `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "repo-1", body.RepoID)
		_ = json.NewEncoder(w).Encode(QueryResult{Handles: []Handle{{ID: "h1"}}})
	}))
	defer srv.Close()

	c := NewServiceClient(srv.URL)
	result, err := c.Query(context.Background(), "repo-1", QueryParams{Symbol: "authenticate"})
	require.NoError(t, err)
	require.Len(t, result.Handles, 1)
	assert.Equal(t, "h1", result.Handles[0].ID)
}

func TestServiceClient_ErrorResponse_DecodesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(ServiceError{Code: "not_found", Message: "no such repo", Hint: "add it first"})
	}))
	defer srv.Close()

	c := NewServiceClient(srv.URL)
	_, err := c.Query(context.Background(), "repo-1", QueryParams{Symbol: "authenticate"})
	require.Error(t, err)
	assert.True(t, IsErrorCode(err, "not_found"))
	assert.Contains(t, err.Error(), "add it first")
}

func TestServiceClient_ConnectionError_YieldsConnectionErrorCode(t *testing.T) {
	c := NewServiceClient("http://127.0.0.1:1")
	_, err := c.Query(context.Background(), "repo-1", QueryParams{Symbol: "authenticate"})
	require.Error(t, err)
	assert.True(t, IsErrorCode(err, "connection_error"))
}

func TestServiceClient_EnsureReady_ReturnsOnReadyStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	}))
	defer srv.Close()

	c := NewServiceClient(srv.URL)
	err := c.EnsureReady(context.Background(), "repo-1", 0)
	require.NoError(t, err)
}

func TestServiceClient_EnsureReady_ErrorStatusReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "last_error": "boom"})
	}))
	defer srv.Close()

	c := NewServiceClient(srv.URL)
	err := c.EnsureReady(context.Background(), "repo-1", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
