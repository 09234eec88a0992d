package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canopy-dev/canopy"
)

func TestFindRepoRoot_DirectGitDir(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))

	assert.Equal(t, root, findRepoRoot(root))
}

func TestFindRepoRoot_NestedSubdirectory(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	deep := filepath.Join(root, "sub", "deep")
	require.NoError(t, os.MkdirAll(deep, 0o755))

	assert.Equal(t, root, findRepoRoot(deep))
}

func TestFindRepoRoot_NoGitAncestor(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	assert.Equal(t, dir, findRepoRoot(dir))
}

func TestQueryArgs_ToParams_MapsDefinitionKind(t *testing.T) {
	args := QueryArgs{Symbol: "authenticate", Kind: "definition"}
	p := args.toParams()
	assert.Equal(t, "authenticate", p.Symbol)
	assert.Equal(t, canopy.KindDefinition, p.Kind)
}

func TestQueryArgs_ToParams_MapsReferenceKind(t *testing.T) {
	args := QueryArgs{Symbol: "authenticate", Kind: "reference"}
	p := args.toParams()
	assert.Equal(t, canopy.KindReference, p.Kind)
}

func TestQueryArgs_ToParams_UnknownKindLeavesZeroValue(t *testing.T) {
	args := QueryArgs{Pattern: "TODO", Kind: "fuzzy"}
	p := args.toParams()
	assert.Equal(t, canopy.QueryKind(""), p.Kind)
	assert.Equal(t, "TODO", p.Pattern)
}

func TestErrorResult_SetsIsErrorAndMessage(t *testing.T) {
	res := errorResult(assertError("boom"))
	assert.True(t, res.IsError)
	require.Len(t, res.Content, 1)
}

func TestTextResult_WrapsPlainText(t *testing.T) {
	res := textResult("indexed: generation=1 status=indexed")
	require.Len(t, res.Content, 1)
}

func TestJSONResult_MarshalsValue(t *testing.T) {
	res := jsonResult(map[string]string{"ok": "true"})
	require.Len(t, res.Content, 1)
}

func TestEngineFor_CachesByRepoRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))

	s := &toolServer{engines: map[string]*canopy.Engine{}}
	e1, repoRoot1, err := s.engineFor(root)
	require.NoError(t, err)
	t.Cleanup(func() { e1.Close() })

	e2, repoRoot2, err := s.engineFor(root)
	require.NoError(t, err)

	assert.Same(t, e1, e2)
	assert.Equal(t, repoRoot1, repoRoot2)
}

func assertError(msg string) error {
	return &canopy.CodedError{Code: "test", Message: msg}
}
