package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

func TestValidateFormat_AcceptsJSONAndText(t *testing.T) {
	assert.NoError(t, validateFormat("json"))
	assert.NoError(t, validateFormat("text"))
}

func TestValidateFormat_RejectsUnknownFormat(t *testing.T) {
	assert.Error(t, validateFormat("yaml"))
}

func TestResolveTargetDir_DefaultsToCurrentDirectory(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	got, err := resolveTargetDir(nil)
	require.NoError(t, err)

	wantAbs, err := filepath.Abs(dir)
	require.NoError(t, err)
	assert.Equal(t, wantAbs, got)
}

func TestResolveTargetDir_RejectsNonDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := resolveTargetDir([]string{file})
	assert.Error(t, err)
}

func TestResolveTargetDir_RejectsMissingPath(t *testing.T) {
	_, err := resolveTargetDir([]string{filepath.Join(t.TempDir(), "does-not-exist")})
	assert.Error(t, err)
}

func TestResolveDBPath_DefaultsUnderDotCanopy(t *testing.T) {
	flagDB = ""
	got := resolveDBPath("/repo")
	assert.Equal(t, filepath.Join("/repo", ".canopy", "index.db"), got)
}

func TestResolveDBPath_RelativeFlagJoinsRepoRoot(t *testing.T) {
	flagDB = "custom.db"
	defer func() { flagDB = "" }()
	assert.Equal(t, filepath.Join("/repo", "custom.db"), resolveDBPath("/repo"))
}

func TestResolveDBPath_AbsoluteFlagIsUsedVerbatim(t *testing.T) {
	flagDB = "/elsewhere/index.db"
	defer func() { flagDB = "" }()
	assert.Equal(t, "/elsewhere/index.db", resolveDBPath("/repo"))
}
