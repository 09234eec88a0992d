package canopy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_EmptyParamsIsParseError(t *testing.T) {
	_, err := Compile(QueryParams{})
	assert.ErrorIs(t, err, ErrQueryParse)
}

func TestCompile_SinglePatternWrapsInLimit(t *testing.T) {
	q, err := Compile(QueryParams{Pattern: "hello"})
	require.NoError(t, err)
	assert.Equal(t, opLimit, q.Op)
	assert.Equal(t, 16, q.N, "default limit is 16")
	require.Len(t, q.Sub, 1)
	assert.Equal(t, opText, q.Sub[0].Op)
	assert.Equal(t, "hello", q.Sub[0].Pattern)
}

func TestCompile_SymbolWithKindReference(t *testing.T) {
	q, err := Compile(QueryParams{Symbol: "Foo", Kind: KindReference})
	require.NoError(t, err)
	assert.Equal(t, opReferences, q.Sub[0].Op)
	assert.Equal(t, "Foo", q.Sub[0].Name)
}

func TestCompile_SymbolWithKindDefinition(t *testing.T) {
	q, err := Compile(QueryParams{Symbol: "Foo", Kind: KindDefinition})
	require.NoError(t, err)
	assert.Equal(t, opDefinition, q.Sub[0].Op)
}

func TestCompile_ParentAndSymbolBecomeChildrenNamed(t *testing.T) {
	q, err := Compile(QueryParams{Parent: "Auth", Symbol: "validate"})
	require.NoError(t, err)
	assert.Equal(t, opChildrenNamed, q.Sub[0].Op)
	assert.Equal(t, "Auth", q.Sub[0].ParentName)
	assert.Equal(t, "validate", q.Sub[0].ChildName)
}

func TestCompile_MultiplePatternsUnionByDefault(t *testing.T) {
	q, err := Compile(QueryParams{Patterns: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, opUnion, q.Sub[0].Op)
	assert.Len(t, q.Sub[0].Sub, 2)
}

func TestCompile_MatchAllIntersects(t *testing.T) {
	q, err := Compile(QueryParams{Patterns: []string{"a", "b"}, Match: MatchAll})
	require.NoError(t, err)
	assert.Equal(t, opIntersect, q.Sub[0].Op)
}

func TestCompile_GlobWrapsInInFile(t *testing.T) {
	q, err := Compile(QueryParams{Pattern: "hello", Glob: "**/*.go"})
	require.NoError(t, err)
	inFile := q.Sub[0]
	assert.Equal(t, opInFile, inFile.Op)
	assert.Equal(t, "**/*.go", inFile.Glob)
}

func TestCompile_RespectsExplicitLimit(t *testing.T) {
	q, err := Compile(QueryParams{Pattern: "x", Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, q.N)
}

func TestCompileSExpr_SimpleText(t *testing.T) {
	q, err := CompileSExpr(`(text "hello world")`)
	require.NoError(t, err)
	assert.Equal(t, opText, q.Op)
	assert.Equal(t, "hello world", q.Pattern)
}

func TestCompileSExpr_NestedUnionInFileLimit(t *testing.T) {
	q, err := CompileSExpr(`(limit 8 (in_file "**/auth/**" (union (symbol "Login") (text "session"))))`)
	require.NoError(t, err)
	assert.Equal(t, opLimit, q.Op)
	assert.Equal(t, 8, q.N)
	inFile := q.Sub[0]
	assert.Equal(t, opInFile, inFile.Op)
	assert.Equal(t, "**/auth/**", inFile.Glob)
	union := inFile.Sub[0]
	assert.Equal(t, opUnion, union.Op)
	require.Len(t, union.Sub, 2)
	assert.Equal(t, opSymbol, union.Sub[0].Op)
	assert.Equal(t, opText, union.Sub[1].Op)
}

func TestCompileSExpr_ChildrenNamed(t *testing.T) {
	q, err := CompileSExpr(`(children_named "Auth" "validate")`)
	require.NoError(t, err)
	assert.Equal(t, opChildrenNamed, q.Op)
	assert.Equal(t, "Auth", q.ParentName)
	assert.Equal(t, "validate", q.ChildName)
}

func TestCompileSExpr_UnknownOperatorErrors(t *testing.T) {
	_, err := CompileSExpr(`(bogus "x")`)
	assert.ErrorIs(t, err, ErrQueryParse)
}

func TestCompileSExpr_UnterminatedStringErrors(t *testing.T) {
	_, err := CompileSExpr(`(text "unterminated)`)
	assert.True(t, errors.Is(err, ErrQueryParse))
}

func TestCompileSExpr_TrailingInputErrors(t *testing.T) {
	_, err := CompileSExpr(`(text "a") (text "b")`)
	assert.ErrorIs(t, err, ErrQueryParse)
}

func TestCompileSExpr_MissingCloseParenErrors(t *testing.T) {
	_, err := CompileSExpr(`(text "a"`)
	assert.ErrorIs(t, err, ErrQueryParse)
}
