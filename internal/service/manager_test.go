package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canopy-dev/canopy"
)

// fakeRepo creates a directory that passes isVCSRoot and holds one file.
func fakeRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n\nfunc Hello() {}\n"), 0o644))
	return root
}

func TestManager_AddRepo_RejectsNonVCSRoot(t *testing.T) {
	mgr := NewManager(t.TempDir())
	defer mgr.Close()

	_, err := mgr.AddRepo(t.TempDir(), "")
	assert.ErrorIs(t, err, canopy.ErrNotRepo)
}

func TestManager_AddRepo_DuplicatePathReturnsSameID(t *testing.T) {
	mgr := NewManager(t.TempDir())
	defer mgr.Close()
	root := fakeRepo(t)

	id1, err := mgr.AddRepo(root, "")
	require.NoError(t, err)
	id2, err := mgr.AddRepo(root, "")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestManager_AddRepo_DefaultsNameToBase(t *testing.T) {
	mgr := NewManager(t.TempDir())
	defer mgr.Close()
	root := fakeRepo(t)

	id, err := mgr.AddRepo(root, "")
	require.NoError(t, err)
	snap, ok := mgr.Status(id)
	require.True(t, ok)
	assert.Equal(t, filepath.Base(root), snap.Name)
}

func TestManager_Reindex_UnknownRepoIsNotFound(t *testing.T) {
	mgr := NewManager(t.TempDir())
	defer mgr.Close()
	_, err := mgr.Reindex(context.Background(), "nope", "")
	var coded *canopy.CodedError
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, "not_found", coded.Code)
}

func TestManager_Reindex_ThenQueryFindsSymbol(t *testing.T) {
	mgr := NewManager(t.TempDir())
	defer mgr.Close()
	root := fakeRepo(t)

	id, err := mgr.AddRepo(root, "")
	require.NoError(t, err)

	res, err := mgr.Reindex(context.Background(), id, "")
	require.NoError(t, err)
	assert.Equal(t, StatusReady, res.Status)
	assert.Equal(t, canopy.Generation(1), res.Generation)

	qr, err := mgr.Query(id, canopy.QueryParams{Symbol: "Hello"})
	require.NoError(t, err)
	require.Len(t, qr.Handles, 1)
	assert.Equal(t, canopy.SourceService, qr.Handles[0].Source)
	assert.Equal(t, canopy.Generation(1), qr.Handles[0].Generation)
}

func TestManager_Reindex_SingleFlightRejectsConcurrentCall(t *testing.T) {
	mgr := NewManager(t.TempDir())
	defer mgr.Close()
	root := fakeRepo(t)
	id, err := mgr.AddRepo(root, "")
	require.NoError(t, err)

	s, ok := mgr.shard(id)
	require.True(t, ok)
	ok2, _ := s.beginIndexing()
	require.True(t, ok2)
	defer s.finishIndexing("", nil)

	_, err = mgr.Reindex(context.Background(), id, "")
	assert.ErrorIs(t, err, canopy.ErrAlreadyIndexing)
}

func TestManager_Expand_FailsWholeCallOnStaleGeneration(t *testing.T) {
	mgr := NewManager(t.TempDir())
	defer mgr.Close()
	root := fakeRepo(t)
	id, err := mgr.AddRepo(root, "")
	require.NoError(t, err)
	_, err = mgr.Reindex(context.Background(), id, "") // generation -> 1
	require.NoError(t, err)

	qr, err := mgr.Query(id, canopy.QueryParams{Symbol: "Hello"})
	require.NoError(t, err)
	require.NotEmpty(t, qr.Handles)
	h := qr.Handles[0]
	require.Equal(t, canopy.Generation(1), h.Generation)

	_, err = mgr.Reindex(context.Background(), id, "") // generation -> 2, h.Generation is now stale
	require.NoError(t, err)

	_, err = mgr.Expand(context.Background(), id, []ExpandRequest{
		{ID: h.ID, FilePath: h.FilePath, Span: h.Span, Generation: h.Generation},
	})
	assert.ErrorIs(t, err, canopy.ErrStaleGeneration)
}

func TestManager_Expand_SucceedsWithCurrentGeneration(t *testing.T) {
	mgr := NewManager(t.TempDir())
	defer mgr.Close()
	root := fakeRepo(t)
	id, err := mgr.AddRepo(root, "")
	require.NoError(t, err)
	_, err = mgr.Reindex(context.Background(), id, "")
	require.NoError(t, err)

	qr, err := mgr.Query(id, canopy.QueryParams{Symbol: "Hello"})
	require.NoError(t, err)
	require.NotEmpty(t, qr.Handles)
	h := qr.Handles[0]

	out, err := mgr.Expand(context.Background(), id, []ExpandRequest{
		{ID: h.ID, FilePath: h.FilePath, Span: h.Span, Generation: h.Generation},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Content, "Hello")
}

func TestManager_Query_PopulatesQueryCache(t *testing.T) {
	mgr := NewManager(t.TempDir())
	defer mgr.Close()
	root := fakeRepo(t)
	id, err := mgr.AddRepo(root, "")
	require.NoError(t, err)
	_, err = mgr.Reindex(context.Background(), id, "")
	require.NoError(t, err)

	params := canopy.QueryParams{Symbol: "Hello"}
	first, err := mgr.Query(id, params)
	require.NoError(t, err)

	s, ok := mgr.shard(id)
	require.True(t, ok)
	key, cacheable := cacheKeyFor(id, params, s.currentGeneration())
	require.True(t, cacheable)
	cached, hit := mgr.cache.get(key)
	require.True(t, hit, "a successful query must populate the cache")
	assert.Equal(t, first, cached)

	second, err := mgr.Query(id, params)
	require.NoError(t, err)
	assert.Equal(t, first, second, "a repeat query must return the cached result")
}

func TestManager_Reindex_PurgesStaleGenerationCacheEntries(t *testing.T) {
	mgr := NewManager(t.TempDir())
	defer mgr.Close()
	root := fakeRepo(t)
	id, err := mgr.AddRepo(root, "")
	require.NoError(t, err)
	_, err = mgr.Reindex(context.Background(), id, "")
	require.NoError(t, err)

	params := canopy.QueryParams{Symbol: "Hello"}
	_, err = mgr.Query(id, params)
	require.NoError(t, err)
	staleKey, _ := cacheKeyFor(id, params, 1)
	_, hit := mgr.cache.get(staleKey)
	require.True(t, hit)

	_, err = mgr.Reindex(context.Background(), id, "")
	require.NoError(t, err)

	_, hit = mgr.cache.get(staleKey)
	assert.False(t, hit, "reindex must purge cache entries keyed on the now-superseded generation")
}

func TestManager_Reindex_Twice_SecondSwapAlsoSucceeds(t *testing.T) {
	mgr := NewManager(t.TempDir())
	defer mgr.Close()
	root := fakeRepo(t)
	id, err := mgr.AddRepo(root, "")
	require.NoError(t, err)

	res1, err := mgr.Reindex(context.Background(), id, "")
	require.NoError(t, err)
	assert.Equal(t, canopy.Generation(1), res1.Generation)

	require.NoError(t, os.WriteFile(filepath.Join(root, "extra.go"), []byte("package main\n\nfunc Extra() {}\n"), 0o644))

	res2, err := mgr.Reindex(context.Background(), id, "")
	require.NoError(t, err)
	assert.Equal(t, canopy.Generation(2), res2.Generation)

	qr, err := mgr.Query(id, canopy.QueryParams{Symbol: "Extra"})
	require.NoError(t, err)
	assert.NotEmpty(t, qr.Handles, "the shadow index built by the second reindex must reflect the new file")
}

func TestManager_Query_RecordsAnalytics(t *testing.T) {
	mgr := NewManager(t.TempDir())
	defer mgr.Close()
	root := fakeRepo(t)
	id, err := mgr.AddRepo(root, "")
	require.NoError(t, err)
	_, err = mgr.Reindex(context.Background(), id, "")
	require.NoError(t, err)

	_, err = mgr.Query(id, canopy.QueryParams{Symbol: "Hello"})
	require.NoError(t, err)

	snap := mgr.Analytics()
	assert.Equal(t, uint64(1), snap.TopSymbols["Hello"])
	assert.Equal(t, uint64(1), snap.RequestsByRepo[id])
}

func TestManager_ListRepos_ReturnsEveryShard(t *testing.T) {
	mgr := NewManager(t.TempDir())
	defer mgr.Close()
	r1, r2 := fakeRepo(t), fakeRepo(t)
	id1, err := mgr.AddRepo(r1, "")
	require.NoError(t, err)
	id2, err := mgr.AddRepo(r2, "")
	require.NoError(t, err)

	snaps := mgr.ListRepos()
	ids := make([]string, len(snaps))
	for i, s := range snaps {
		ids[i] = s.ID
	}
	assert.ElementsMatch(t, []string{id1, id2}, ids)
}
