package canopy

import (
	"strings"
	"unicode"

	"github.com/canopy-dev/canopy/internal/handleid"
)

// Handle is a stable, content-derived reference to a node: the unit of
// retrieval. Its id is a pure function of (file path, byte span, name), so
// two nodes sharing that triple share an id (spec invariant I3).
type Handle struct {
	ID        string    `json:"id"`
	FilePath  string    `json:"file_path"`
	NodeType  NodeType  `json:"node_type"`
	Span      Span      `json:"span"`
	LineRange LineRange `json:"line_range"`
	Tokens    int       `json:"token_count"`
	Preview   string    `json:"preview"`
	Content   string    `json:"content,omitempty"` // populated only when the query auto-expanded

	// Score is the lexical-relevance ranking score computed at query time
	// (see scoreHandle); merge uses it as the primary sort key when
	// combining local and service results (spec §4.8).
	Score float64 `json:"score"`

	// Populated only in service mode.
	Source     HandleSource `json:"source,omitempty"`
	CommitSHA  string       `json:"commit_sha,omitempty"`
	Generation Generation   `json:"generation,omitempty"`
}

// RefHandle is the reference-shaped counterpart of Handle, produced by
// kind=reference queries.
type RefHandle struct {
	FilePath     string    `json:"file_path"`
	Span         Span      `json:"span"`
	LineRange    LineRange `json:"line_range"`
	Name         string    `json:"name"`
	Qualifier    string    `json:"qualifier,omitempty"`
	RefType      RefType   `json:"ref_type"`
	SourceHandle string    `json:"source_handle,omitempty"` // id of the enclosing definition node, if known
	Preview      string    `json:"preview"`
}

// NewHandleID derives the 25-character stable id: 'h' followed by 24
// lowercase hex characters, from a sha256 digest of the UTF-8 encoded
// triple (path, "start-end", name-or-empty). Truncated to 96 bits — spec
// requires collision resistance over realistic corpora, not cryptographic
// strength, so 12 bytes is ample headroom.
func NewHandleID(filePath string, span Span, name string) string {
	return handleid.New(filePath, span.Start, span.End, name)
}

// CollapsePreview returns the first n bytes of content with all whitespace
// runs collapsed to a single space, trimmed. Used for the ≤100-byte preview
// carried on every handle and for the fuzzy-match display in feedback logs.
func CollapsePreview(content []byte, n int) string {
	if n <= 0 {
		n = 100
	}
	if len(content) > n {
		content = content[:n]
	}
	var b strings.Builder
	lastSpace := true
	for _, r := range string(content) {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteByte(' ')
			}
			lastSpace = true
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return strings.TrimSpace(b.String())
}

// NewHandle builds a Handle from a node's already-known fields plus the raw
// content bytes of its span, computing the id and preview itself. The token
// count is left to the caller (token estimation depends on process state —
// see internal/parse's estimator).
func NewHandle(filePath string, nodeType NodeType, span Span, lines LineRange, name string, tokens int, previewBytes int, content []byte) Handle {
	return Handle{
		ID:        NewHandleID(filePath, span, name),
		FilePath:  filePath,
		NodeType:  nodeType,
		Span:      span,
		LineRange: lines,
		Tokens:    tokens,
		Preview:   CollapsePreview(content, previewBytes),
		Source:    SourceLocal,
	}
}
