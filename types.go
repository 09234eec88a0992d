package canopy

import "fmt"

// NodeType enumerates the kinds of node the parser can produce.
type NodeType string

const (
	NodeFunction  NodeType = "function"
	NodeClass     NodeType = "class"
	NodeStruct    NodeType = "struct"
	NodeMethod    NodeType = "method"
	NodeSection   NodeType = "section"
	NodeCodeBlock NodeType = "code_block"
	NodeParagraph NodeType = "paragraph"
	NodeChunk     NodeType = "chunk"
)

// RefType enumerates the kinds of reference the parser can produce.
type RefType string

const (
	RefCall    RefType = "call"
	RefImport  RefType = "import"
	RefTypeRef RefType = "type_ref"
)

// Span is a byte range within a file, end-exclusive.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (s Span) Len() int { return s.End - s.Start }

// LineRange is a 1-indexed inclusive line range for display.
type LineRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (l LineRange) String() string { return fmt.Sprintf("%d-%d", l.Start, l.End) }

// Node is a typed slice of a file produced by the parser: a definition, a
// reference, a markdown section/code block/paragraph, or a fallback chunk.
type Node struct {
	Type      NodeType
	Span      Span
	Lines     LineRange
	Tokens    int
	Name      string // optional
	Parent    string // optional: enclosing class/struct name
	Qualifier string // optional: e.g. receiver/module qualifying a reference
}

// RefNode is the reference-shaped output of the parser: a call, import, or
// type reference found while walking a file.
type RefNode struct {
	Span      Span
	Lines     LineRange
	Name      string
	Qualifier string
	RefType   RefType
}

// HandleSource identifies where a handle in a merged/remote result came
// from.
type HandleSource string

const (
	SourceLocal   HandleSource = "local"
	SourceService HandleSource = "service"
)
