package canopy

import (
	"github.com/hbollon/go-edlib"

	"github.com/canopy-dev/canopy/internal/store"
	"github.com/canopy-dev/canopy/internal/symcache"
)

// QueryResult is the response envelope returned by both local and service
// query execution (spec §6's "query response envelope").
type QueryResult struct {
	Handles      []Handle    `json:"handles"`
	RefHandles   []RefHandle `json:"ref_handles"`
	TotalTokens  int         `json:"total_tokens"`
	TotalMatches int         `json:"total_matches"`
	Truncated    bool        `json:"truncated"`

	AutoExpanded      bool     `json:"auto_expanded,omitempty"`
	ExpandedHandleIDs []string `json:"expanded_handle_ids,omitempty"`
	ExpandNote        string   `json:"expand_note,omitempty"`

	// SuggestedSymbol is a fuzzy "did you mean" candidate populated only
	// when a symbol/definition lookup matched nothing at all.
	SuggestedSymbol string `json:"suggested_symbol,omitempty"`
}

// runQueryOptions carries the knobs execution needs beyond the compiled
// Query tree itself.
type runQueryOptions struct {
	PreviewBytes int
	ExpandBudget int

	// QueryText feeds scoreHandle's lexical-relevance term match, so a
	// plain query (not just an evidence pack) carries a real Score on
	// every handle for merge.go to sort by (spec §4.8).
	QueryText string
}

// RunQuery executes q against s and cache, materializing handles and
// applying the final limit, dedup, and optional auto-expansion.
func RunQuery(q *Query, s *store.Store, cache *symcache.Cache, opts runQueryOptions) (QueryResult, error) {
	limit := 16
	if q.Op == opLimit {
		limit = q.N
	}

	set, err := execute(q, s, cache, store.Filter{})
	if err != nil {
		return QueryResult{}, err
	}

	sortedNodes := sortNodeRows(set.nodeIDs, set.nodes)
	sortedRefs := sortRefRows(set.refOrder, set.refs)
	totalMatches := len(sortedNodes) + len(sortedRefs)

	truncated := false
	if len(sortedNodes) > limit {
		sortedNodes = sortedNodes[:limit]
		truncated = true
	}
	remaining := limit - len(sortedNodes)
	if remaining < 0 {
		remaining = 0
	}
	if len(sortedRefs) > remaining {
		if remaining < len(sortedRefs) {
			truncated = true
		}
		sortedRefs = sortedRefs[:remaining]
	}

	terms := splitTerms(opts.QueryText)
	handles := make([]Handle, 0, len(sortedNodes))
	totalTokens := 0
	for _, n := range sortedNodes {
		content, cerr := s.GetContent(n.FilePath, n.SpanStart, n.SpanEnd)
		var preview string
		if cerr == nil {
			preview = CollapsePreview([]byte(content), opts.PreviewBytes)
		}
		h := Handle{
			ID:        n.HandleID,
			FilePath:  n.FilePath,
			NodeType:  NodeType(n.NodeType),
			Span:      Span{Start: n.SpanStart, End: n.SpanEnd},
			LineRange: LineRange{Start: n.LineStart, End: n.LineEnd},
			Tokens:    n.Tokens,
			Preview:   preview,
			Source:    SourceLocal,
		}
		h.Score = scoreHandle(h, terms, s, "", nil)
		handles = append(handles, h)
		totalTokens += n.Tokens
	}

	refHandles := make([]RefHandle, 0, len(sortedRefs))
	for _, r := range sortedRefs {
		content, cerr := s.GetContent(r.FilePath, r.SpanStart, r.SpanEnd)
		var preview string
		if cerr == nil {
			preview = CollapsePreview([]byte(content), opts.PreviewBytes)
		}
		refHandles = append(refHandles, RefHandle{
			FilePath:     r.FilePath,
			Span:         Span{Start: r.SpanStart, End: r.SpanEnd},
			LineRange:    LineRange{Start: r.LineStart, End: r.LineEnd},
			Name:         r.Name,
			Qualifier:    r.Qualifier,
			RefType:      RefType(r.RefType),
			SourceHandle: r.SourceHandleID,
			Preview:      preview,
		})
	}

	result := QueryResult{
		Handles:      handles,
		RefHandles:   refHandles,
		TotalTokens:  totalTokens,
		TotalMatches: totalMatches,
		Truncated:    truncated,
	}

	if opts.ExpandBudget > 0 && totalTokens <= opts.ExpandBudget {
		for i := range result.Handles {
			content, err := s.GetContent(result.Handles[i].FilePath, result.Handles[i].Span.Start, result.Handles[i].Span.End)
			if err != nil {
				result.ExpandNote = "content unavailable for one or more handles"
				continue
			}
			result.Handles[i].Content = content
			result.ExpandedHandleIDs = append(result.ExpandedHandleIDs, result.Handles[i].ID)
		}
		if result.ExpandNote == "" {
			result.AutoExpanded = true
		}
	} else if opts.ExpandBudget > 0 {
		result.ExpandNote = "expand budget too small for the full result set; call expand() on individual handles"
	}

	if len(result.Handles) == 0 && len(result.RefHandles) == 0 {
		if name := symbolNameOf(q); name != "" {
			if suggestion, ok := suggestSymbol(name, s); ok {
				result.SuggestedSymbol = suggestion
			}
		}
	}

	return result, nil
}

// symbolNameOf returns the symbol/definition name a query tree targets, if
// its root (after peeling limit/in_file wrappers) is a single symbol-shaped
// leaf, so a total miss can offer a fuzzy suggestion.
func symbolNameOf(q *Query) string {
	for q != nil {
		switch q.Op {
		case opLimit, opInFile:
			if len(q.Sub) != 1 {
				return ""
			}
			q = q.Sub[0]
		case opSymbol, opDefinition:
			return q.Name
		default:
			return ""
		}
	}
	return ""
}

// suggestSymbol finds the closest known symbol name to name by Jaro-Winkler
// similarity, returning it only if the similarity clears a threshold high
// enough to be a plausible typo rather than an unrelated name.
func suggestSymbol(name string, s *store.Store) (string, bool) {
	names, err := s.AllSymbolNames()
	if err != nil || len(names) == 0 {
		return "", false
	}
	best := ""
	bestScore := float32(0)
	for _, candidate := range names {
		score, err := edlib.StringsSimilarity(name, candidate, edlib.JaroWinkler)
		if err != nil {
			continue
		}
		if score > bestScore {
			bestScore = score
			best = candidate
		}
	}
	if bestScore < 0.75 {
		return "", false
	}
	return best, true
}
