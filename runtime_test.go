package canopy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRuntimeTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "auth.go"), []byte("package a\nfunc authenticate() {}\n"), 0o644))
	e, err := Open(filepath.Join(t.TempDir(), "runtime.db"))
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e, dir
}

func TestRuntime_LocalMode_QueryDelegatesToEngine(t *testing.T) {
	e, dir := newRuntimeTestEngine(t)
	_, err := e.IndexDirectory(context.Background(), dir, "")
	require.NoError(t, err)

	r := NewLocalRuntime(e, dir)
	result, err := r.Query(context.Background(), QueryParams{Symbol: "authenticate", Kind: KindDefinition})
	require.NoError(t, err)
	require.Len(t, result.Handles, 1)
}

func TestRuntime_LocalMode_IndexRunsDirectoryIndex(t *testing.T) {
	e, dir := newRuntimeTestEngine(t)
	r := NewLocalRuntime(e, dir)

	_, status, err := r.Index(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "indexed", status)

	result, err := e.Query(QueryParams{Symbol: "authenticate", Kind: KindDefinition})
	require.NoError(t, err)
	assert.Len(t, result.Handles, 1)
}

func TestRuntime_UnknownMode_QueryReturnsError(t *testing.T) {
	e, dir := newRuntimeTestEngine(t)
	r := &Runtime{mode: RuntimeMode("bogus"), engine: e, repoPath: dir}

	_, err := r.Query(context.Background(), QueryParams{Symbol: "authenticate"})
	assert.Error(t, err)
}

func TestRuntime_Expand_LocalSourceUsesEngineDirectly(t *testing.T) {
	e, dir := newRuntimeTestEngine(t)
	_, err := e.IndexDirectory(context.Background(), dir, "")
	require.NoError(t, err)

	r := NewLocalRuntime(e, dir)
	result, err := r.Query(context.Background(), QueryParams{Symbol: "authenticate", Kind: KindDefinition})
	require.NoError(t, err)
	require.Len(t, result.Handles, 1)

	content, err := r.Expand(context.Background(), result.Handles[0])
	require.NoError(t, err)
	assert.Contains(t, content, "authenticate")
}
