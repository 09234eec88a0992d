package canopy

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canopy-dev/canopy/internal/store"
)

func newTestEvidenceStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), "unicode61")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSplitTerms_LowercasesAndDedupes(t *testing.T) {
	terms := splitTerms("Auth Auth_Token, validateToken!")
	assert.Equal(t, []string{"auth", "auth_token", "validatetoken"}, terms)
}

func TestBuildEvidencePack_RanksByRelevanceAndCapsPerFile(t *testing.T) {
	s := newTestEvidenceStore(t)

	result := QueryResult{
		TotalMatches: 3,
		Handles: []Handle{
			{ID: "h1", FilePath: "/auth.go", NodeType: NodeFunction, Preview: "func validateToken()", LineRange: LineRange{Start: 1, End: 3}, Tokens: 5},
			{ID: "h2", FilePath: "/auth.go", NodeType: NodeFunction, Preview: "func refreshToken()", LineRange: LineRange{Start: 20, End: 25}, Tokens: 5},
			{ID: "h3", FilePath: "/auth.go", NodeType: NodeFunction, Preview: "func unrelatedHelper()", LineRange: LineRange{Start: 40, End: 45}, Tokens: 5},
			{ID: "h4", FilePath: "/other.go", NodeType: NodeParagraph, Preview: "some prose about tokens", LineRange: LineRange{Start: 1, End: 2}, Tokens: 5},
		},
	}

	pack, err := BuildEvidencePack(result, "validate token", s, "", nil, 8, 2)
	require.NoError(t, err)

	assert.LessOrEqual(t, len(pack.Handles), 8)
	countPerFile := map[string]int{}
	for _, h := range pack.Handles {
		countPerFile[h.FilePath]++
	}
	for f, c := range countPerFile {
		assert.LessOrEqualf(t, c, 2, "file %s exceeded maxPerFile", f)
	}
	require.NotEmpty(t, pack.Handles)
	assert.Equal(t, "h1", pack.Handles[0].ID, "most lexically relevant + highest type prior should rank first")
}

func TestBuildEvidencePack_SuppressesNearDuplicateSpans(t *testing.T) {
	s := newTestEvidenceStore(t)
	result := QueryResult{
		Handles: []Handle{
			{ID: "h1", FilePath: "/a.go", NodeType: NodeFunction, LineRange: LineRange{Start: 10, End: 15}, Tokens: 3},
			{ID: "h2", FilePath: "/a.go", NodeType: NodeFunction, LineRange: LineRange{Start: 16, End: 20}, Tokens: 3}, // within nearbyLineGap of h1
		},
	}
	pack, err := BuildEvidencePack(result, "", s, "", nil, 8, 8)
	require.NoError(t, err)
	assert.Len(t, pack.Handles, 1, "h2 sits within the near-duplicate gap of h1 and should be suppressed")
}

func TestBuildEvidencePack_EmptyResultYieldsLowConfidenceGuidance(t *testing.T) {
	s := newTestEvidenceStore(t)
	pack, err := BuildEvidencePack(QueryResult{}, "nothing", s, "", nil, 8, 2)
	require.NoError(t, err)
	assert.Equal(t, "low", pack.Guidance.ConfidenceBand)
	assert.False(t, pack.Guidance.StopQuerying)
	assert.Equal(t, 0, pack.SelectedCount)
}

func TestBuildEvidencePack_HighConfidenceAcrossMultipleFiles(t *testing.T) {
	s := newTestEvidenceStore(t)
	result := QueryResult{
		Handles: []Handle{
			{ID: "h1", FilePath: "/a.go", NodeType: NodeFunction, Preview: "func handleAuth()", Tokens: 3},
			{ID: "h2", FilePath: "/b.go", NodeType: NodeFunction, Preview: "func handleAuth2()", Tokens: 3},
			{ID: "h3", FilePath: "/c.go", NodeType: NodeMethod, Preview: "func handleAuth3()", Tokens: 3},
		},
	}
	pack, err := BuildEvidencePack(result, "handleAuth", s, "", nil, 8, 2)
	require.NoError(t, err)
	assert.Equal(t, "high", pack.Guidance.ConfidenceBand)
	assert.True(t, pack.Guidance.StopQuerying)
}

func TestReorderExpandSuggestions_MovesSeenIDsToEnd(t *testing.T) {
	pack := &EvidencePack{ExpandSuggestion: []string{"h1", "h2", "h3"}}
	ReorderExpandSuggestions(pack, map[string]bool{"h1": true})
	assert.Equal(t, []string{"h2", "h3", "h1"}, pack.ExpandSuggestion)
}

func TestReorderExpandSuggestions_NoopWhenNothingRecent(t *testing.T) {
	pack := &EvidencePack{ExpandSuggestion: []string{"h1", "h2"}}
	ReorderExpandSuggestions(pack, nil)
	assert.Equal(t, []string{"h1", "h2"}, pack.ExpandSuggestion)
}

func TestRecentExpands_EvictsOldestPastCapacity(t *testing.T) {
	r := NewRecentExpands()
	for i := 0; i < recentlyExpandedLimit+5; i++ {
		r.Record(string(rune('a' + i%26)))
	}
	assert.Len(t, r.IDs(), recentlyExpandedLimit)
}

func TestPatternFallback_SplitsMultiWordPattern(t *testing.T) {
	p := QueryParams{Pattern: "validate token"}
	fallback, ok := patternFallback(p)
	require.True(t, ok)
	assert.Equal(t, []string{"validate", "token"}, fallback.Patterns)
	assert.Equal(t, MatchAny, fallback.Match)
	assert.Empty(t, fallback.Pattern)
}

func TestPatternFallback_NoSplitForSingleWord(t *testing.T) {
	_, ok := patternFallback(QueryParams{Pattern: "validate"})
	assert.False(t, ok)
}

func TestPatternFallback_NoSplitWhenSymbolSet(t *testing.T) {
	_, ok := patternFallback(QueryParams{Pattern: "validate token", Symbol: "Foo"})
	assert.False(t, ok)
}

func TestExtractSymbolCandidates_PrefersCamelCaseAndExcludesQueryTerms(t *testing.T) {
	handles := []Handle{
		{Preview: "func validateAuthToken(req Request) error { return checkToken(req) }"},
	}
	got := extractSymbolCandidates(handles, "validate checkToken", 5)
	assert.Contains(t, got, "validateAuthToken")
	assert.NotContains(t, got, "checkToken", "identifiers shorter or lower-weighted may be excluded by the limit, but query terms must never surface")
}

func TestSymbolFollowup_CapsLimitAndForcesDefinitionKind(t *testing.T) {
	seed := QueryParams{Limit: 50, Glob: "*.go"}
	fu := symbolFollowup(seed, "Foo")
	assert.Equal(t, "Foo", fu.Symbol)
	assert.Equal(t, KindDefinition, fu.Kind)
	assert.Equal(t, "*.go", fu.Glob)
	assert.Equal(t, 12, fu.Limit)
}

func TestPlanEvidence_SingleStepWhenForcedOff(t *testing.T) {
	s := newTestEvidenceStore(t)
	off := false
	calls := 0
	run := func(p QueryParams) (QueryResult, error) {
		calls++
		return QueryResult{Handles: []Handle{{ID: "h1", FilePath: "/a.go", Tokens: 1}}, TotalMatches: 1}, nil
	}
	result, err := PlanEvidence(QueryParams{Symbol: "Foo"}, &off, s, 8, 2, run)
	require.NoError(t, err)
	assert.Equal(t, 1, result.PlanSteps)
	assert.False(t, result.PlanningEnabled)
	assert.Equal(t, 1, calls)
}

func TestPlanEvidence_PropagatesRunError(t *testing.T) {
	s := newTestEvidenceStore(t)
	boom := assert.AnError
	_, err := PlanEvidence(QueryParams{Symbol: "Foo"}, nil, s, 8, 2, func(QueryParams) (QueryResult, error) {
		return QueryResult{}, boom
	})
	assert.ErrorIs(t, err, boom)
}
