package canopy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeResults_DropsServiceHandlesInDirtyFiles(t *testing.T) {
	local := QueryResult{Handles: []Handle{
		{ID: "l1", FilePath: "/a.go", Span: Span{Start: 0, End: 10}, Tokens: 5},
	}}
	service := QueryResult{Handles: []Handle{
		{ID: "s1", FilePath: "/a.go", Span: Span{Start: 20, End: 30}, Tokens: 5},
		{ID: "s2", FilePath: "/b.go", Span: Span{Start: 0, End: 10}, Tokens: 5},
	}}
	dirty := map[string]bool{"/a.go": true}

	got := MergeResults(local, service, dirty, 0)

	ids := make([]string, len(got.Handles))
	for i, h := range got.Handles {
		ids[i] = h.ID
	}
	assert.ElementsMatch(t, []string{"l1", "s2"}, ids, "s1 is in a dirty file and must be dropped even though it doesn't overlap l1's span")
}

func TestMergeResults_TiesSortByFileThenSpanStart(t *testing.T) {
	local := QueryResult{Handles: []Handle{
		{ID: "z", FilePath: "/b.go", Span: Span{Start: 0, End: 5}},
	}}
	service := QueryResult{Handles: []Handle{
		{ID: "a", FilePath: "/a.go", Span: Span{Start: 10, End: 15}},
		{ID: "b", FilePath: "/a.go", Span: Span{Start: 0, End: 5}},
	}}

	got := MergeResults(local, service, nil, 0)

	ids := make([]string, len(got.Handles))
	for i, h := range got.Handles {
		ids[i] = h.ID
	}
	assert.Equal(t, []string{"b", "a", "z"}, ids, "equal (zero) scores fall back to file then span order")
}

func TestMergeResults_SortsByScoreDescFirst(t *testing.T) {
	local := QueryResult{Handles: []Handle{
		{ID: "low", FilePath: "/a.go", Span: Span{Start: 0, End: 5}, Score: 0.2},
	}}
	service := QueryResult{Handles: []Handle{
		{ID: "high", FilePath: "/z.go", Span: Span{Start: 100, End: 105}, Score: 0.9},
		{ID: "mid", FilePath: "/b.go", Span: Span{Start: 0, End: 5}, Score: 0.5},
	}}

	got := MergeResults(local, service, nil, 0)

	ids := make([]string, len(got.Handles))
	for i, h := range got.Handles {
		ids[i] = h.ID
	}
	assert.Equal(t, []string{"high", "mid", "low"}, ids, "score descending must win over file/span order")
}

func TestMergeResults_TruncatesToLimitAndSetsFlag(t *testing.T) {
	local := QueryResult{Handles: []Handle{
		{ID: "l1", FilePath: "/a.go"},
		{ID: "l2", FilePath: "/b.go"},
	}}
	service := QueryResult{Handles: []Handle{
		{ID: "s1", FilePath: "/c.go"},
	}}

	got := MergeResults(local, service, nil, 2)

	assert.Len(t, got.Handles, 2)
	assert.True(t, got.Truncated)
}

func TestMergeResults_PropagatesTruncatedFromEitherSide(t *testing.T) {
	local := QueryResult{Truncated: true}
	service := QueryResult{}

	got := MergeResults(local, service, nil, 0)
	assert.True(t, got.Truncated)
}

func TestMergeResults_RefHandlesShareTheLimitAfterHandles(t *testing.T) {
	local := QueryResult{Handles: []Handle{{ID: "l1", FilePath: "/a.go"}}}
	service := QueryResult{RefHandles: []RefHandle{
		{FilePath: "/a.go", Name: "x"},
		{FilePath: "/b.go", Name: "y"},
	}}

	got := MergeResults(local, service, nil, 2)

	assert.Len(t, got.Handles, 1)
	assert.Len(t, got.RefHandles, 1, "only one ref_handle slot remains after the one handle")
	assert.True(t, got.Truncated)
}

func TestMergeResults_TotalTokensSumsMergedHandles(t *testing.T) {
	local := QueryResult{Handles: []Handle{{ID: "l1", FilePath: "/a.go", Tokens: 3}}}
	service := QueryResult{Handles: []Handle{{ID: "s1", FilePath: "/b.go", Tokens: 4}}}

	got := MergeResults(local, service, nil, 0)
	assert.Equal(t, 7, got.TotalTokens)
}
