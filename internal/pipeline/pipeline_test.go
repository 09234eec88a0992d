package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canopy-dev/canopy/internal/store"
	"github.com/canopy-dev/canopy/internal/symcache"
)

func newPipelineTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "pipeline.db"), "unicode61")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func writeGoFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRun_PreCancelledContextReportsCancelledAndCommitsNothing(t *testing.T) {
	s := newPipelineTestStore(t)
	cache := symcache.New()
	dir := t.TempDir()
	path := writeGoFile(t, dir, "a.go", "package a\nfunc A() {}\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := Run(ctx, s, cache, []string{path}, Options{})
	require.NoError(t, err)
	assert.True(t, stats.Cancelled)
	assert.Equal(t, 0, stats.Indexed)

	_, ok, err := s.GetFileMeta(path)
	require.NoError(t, err)
	assert.False(t, ok, "a pre-cancelled run must not have indexed anything")
}

func TestRun_IndexesAndSkipsOnSecondPass(t *testing.T) {
	s := newPipelineTestStore(t)
	cache := symcache.New()
	dir := t.TempDir()
	path := writeGoFile(t, dir, "a.go", "package a\nfunc A() {}\n")

	stats, err := Run(context.Background(), s, cache, []string{path}, Options{Generation: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Indexed)
	assert.False(t, stats.Cancelled)

	stats, err = Run(context.Background(), s, cache, []string{path}, Options{Generation: 2})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Indexed)
	assert.Equal(t, 1, stats.Skipped)
}

func TestRun_MissingFileIsRemoved(t *testing.T) {
	s := newPipelineTestStore(t)
	cache := symcache.New()
	dir := t.TempDir()
	path := writeGoFile(t, dir, "a.go", "package a\nfunc A() {}\n")

	_, err := Run(context.Background(), s, cache, []string{path}, Options{Generation: 1})
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))
	stats, err := Run(context.Background(), s, cache, []string{path}, Options{Generation: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Removed)

	_, ok, err := s.GetFileMeta(path)
	require.NoError(t, err)
	assert.False(t, ok)
}
