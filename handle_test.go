package canopy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewHandleID_StableAndFormatted(t *testing.T) {
	id1 := NewHandleID("/a.go", Span{Start: 0, End: 10}, "Foo")
	id2 := NewHandleID("/a.go", Span{Start: 0, End: 10}, "Foo")
	assert.Equal(t, id1, id2, "handle ids are a pure function of (path, span, name)")
	assert.Len(t, id1, 25)
	assert.Equal(t, byte('h'), id1[0])
}

func TestNewHandleID_DiffersOnSpanOrName(t *testing.T) {
	base := NewHandleID("/a.go", Span{Start: 0, End: 10}, "Foo")
	otherSpan := NewHandleID("/a.go", Span{Start: 0, End: 11}, "Foo")
	otherName := NewHandleID("/a.go", Span{Start: 0, End: 10}, "Bar")
	assert.NotEqual(t, base, otherSpan)
	assert.NotEqual(t, base, otherName)
}

func TestCollapsePreview_CollapsesWhitespaceAndTruncates(t *testing.T) {
	got := CollapsePreview([]byte("func   Foo() {\n\treturn 1\n}"), 100)
	assert.Equal(t, "func Foo() { return 1 }", got)
}

func TestCollapsePreview_TruncatesToN(t *testing.T) {
	got := CollapsePreview([]byte("0123456789"), 5)
	assert.Equal(t, "01234", got)
}

func TestCollapsePreview_DefaultsWhenNNonPositive(t *testing.T) {
	long := make([]byte, 200)
	for i := range long {
		long[i] = 'x'
	}
	got := CollapsePreview(long, 0)
	assert.Len(t, got, 100)
}

func TestNewHandle_PopulatesDerivedFields(t *testing.T) {
	h := NewHandle("/a.go", NodeFunction, Span{Start: 0, End: 13}, LineRange{Start: 1, End: 1}, "Foo", 4, 100, []byte("func Foo() {}"))
	assert.Equal(t, "/a.go", h.FilePath)
	assert.Equal(t, NodeFunction, h.NodeType)
	assert.Equal(t, 4, h.Tokens)
	assert.Equal(t, "func Foo() {}", h.Preview)
	assert.Equal(t, SourceLocal, h.Source)
	assert.Equal(t, NewHandleID("/a.go", Span{Start: 0, End: 13}, "Foo"), h.ID)
}
