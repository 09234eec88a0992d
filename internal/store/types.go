package store

// FileMeta is the subset of a files row the pipeline's skip policy needs.
type FileMeta struct {
	Path    string
	MTime   int64
	Size    int64
	Hash    string
	LastGen uint64
}

// NodeRow is a stored node, materialized back out of the nodes table (plus
// its FTS shadow) for the query engine to turn into a Handle.
type NodeRow struct {
	FilePath  string
	NodeType  string
	Name      string
	Parent    string
	Qualifier string
	SpanStart int
	SpanEnd   int
	LineStart int
	LineEnd   int
	Tokens    int
	HandleID  string
}

// RefRow is a stored reference, materialized into a RefHandle by the query
// engine.
type RefRow struct {
	FilePath       string
	SpanStart      int
	SpanEnd        int
	LineStart      int
	LineEnd        int
	Name           string
	Qualifier      string
	RefType        string
	SourceHandleID string
}

// PendingNode is a node awaiting insertion, produced by the parser and
// staged by a Batch before commit.
type PendingNode struct {
	NodeType  string
	Name      string
	Parent    string
	Qualifier string
	SpanStart int
	SpanEnd   int
	LineStart int
	LineEnd   int
	Tokens    int
	HandleID  string
	Content   string // raw text of the span, for the fts_content table
}

// PendingRef mirrors PendingNode for references.
type PendingRef struct {
	SpanStart      int
	SpanEnd        int
	LineStart      int
	LineEnd        int
	Name           string
	Qualifier      string
	RefType        string
	SourceHandleID string
}

// Filter narrows a query to a specific candidate set of files. A nil Paths
// means no narrowing.
type Filter struct {
	Paths []string
}
