package predict

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPredictGlobs_EmptyExtensionsYieldsNoGlobs(t *testing.T) {
	globs := PredictGlobs("authentication flow", nil)
	assert.Empty(t, globs, "an empty extensions list can't produce any concrete glob patterns")
}

func TestPredictGlobs_MatchesKeywordGroupAndScopesToExtensions(t *testing.T) {
	globs := PredictGlobs("how does the auth middleware work", []string{"go", "ts"})

	assert.Contains(t, globs, "**/auth/**/*.go")
	assert.Contains(t, globs, "**/auth/**/*.ts")
	assert.Contains(t, globs, "**/middleware/**/*.go")
}

func TestPredictGlobs_UnmatchedQueryFallsBackToSrcAndPackages(t *testing.T) {
	globs := PredictGlobs("something entirely unrelated to any group", []string{"py"})
	assert.Contains(t, globs, "src/**/*.py")
	assert.Contains(t, globs, "packages/**/*.py")
}

func TestPredictGlobs_AlwaysIncludesEntryPoints(t *testing.T) {
	globs := PredictGlobs("auth", []string{"go"})
	assert.Contains(t, globs, "**/main.go")
	assert.Contains(t, globs, "**/server.go")
}

func TestMatchesAny_UsesDoublestarSemantics(t *testing.T) {
	globs := []string{"**/auth/**/*.go"}
	assert.True(t, MatchesAny("src/auth/login.go", globs))
	assert.False(t, MatchesAny("src/db/query.go", globs))
}
