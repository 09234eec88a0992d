package canopy

import (
	"fmt"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/canopy-dev/canopy/internal/store"
	"github.com/canopy-dev/canopy/internal/symcache"
)

// execSet accumulates matched nodes and refs during tree evaluation,
// keyed for O(1) dedup by handle id (nodes) or composite ref key (refs).
type execSet struct {
	nodes    map[string]store.NodeRow
	nodeIDs  []string // insertion order, for stable tie-breaking before sort
	refs     map[string]store.RefRow
	refOrder []string
}

func newExecSet() *execSet {
	return &execSet{nodes: map[string]store.NodeRow{}, refs: map[string]store.RefRow{}}
}

func (s *execSet) addNode(n store.NodeRow) {
	if _, ok := s.nodes[n.HandleID]; !ok {
		s.nodeIDs = append(s.nodeIDs, n.HandleID)
	}
	s.nodes[n.HandleID] = n
}

func refKey(r store.RefRow) string {
	return fmt.Sprintf("%s\x00%d\x00%d\x00%s\x00%s", r.FilePath, r.SpanStart, r.SpanEnd, r.Name, r.RefType)
}

func (s *execSet) addRef(r store.RefRow) {
	k := refKey(r)
	if _, ok := s.refs[k]; !ok {
		s.refOrder = append(s.refOrder, k)
	}
	s.refs[k] = r
}

func (s *execSet) merge(other *execSet) {
	for _, id := range other.nodeIDs {
		s.addNode(other.nodes[id])
	}
	for _, k := range other.refOrder {
		s.addRef(other.refs[k])
	}
}

// intersectSets keeps only nodes/refs present in every set.
func intersectSets(sets []*execSet) *execSet {
	if len(sets) == 0 {
		return newExecSet()
	}
	out := newExecSet()
	for _, id := range sets[0].nodeIDs {
		inAll := true
		for _, s := range sets[1:] {
			if _, ok := s.nodes[id]; !ok {
				inAll = false
				break
			}
		}
		if inAll {
			out.addNode(sets[0].nodes[id])
		}
	}
	for _, k := range sets[0].refOrder {
		inAll := true
		for _, s := range sets[1:] {
			if _, ok := s.refs[k]; !ok {
				inAll = false
				break
			}
		}
		if inAll {
			out.addRef(sets[0].refs[k])
		}
	}
	return out
}

// execCandidateCap bounds how many rows a single leaf query pulls from the
// store before deduplication and the final limit are applied, so a very
// broad text() term can't force the engine to materialize the entire
// table before trimming it back down.
const execCandidateCap = 1000

// execute evaluates q against s and cache, narrowed to filter, returning
// the matched nodes and refs before final limiting/materialization.
func execute(q *Query, s *store.Store, cache *symcache.Cache, filter store.Filter) (*execSet, error) {
	switch q.Op {
	case opText:
		rows, err := s.SearchText(q.Pattern, execCandidateCap, filter)
		if err != nil {
			return nil, err
		}
		out := newExecSet()
		for _, r := range rows {
			out.addNode(r)
		}
		return out, nil

	case opSymbol:
		out, err := executeSymbolLookup(q.Name, s, cache, filter)
		if err != nil {
			return nil, err
		}
		textRows, err := s.SearchText(q.Name, execCandidateCap, filter)
		if err != nil {
			return nil, err
		}
		for _, r := range textRows {
			out.addNode(r)
		}
		return out, nil

	case opDefinition:
		return executeSymbolLookup(q.Name, s, cache, filter)

	case opReferences:
		refs, err := s.RefsOf(q.Name, filter)
		if err != nil {
			return nil, err
		}
		out := newExecSet()
		for _, r := range refs {
			if q.Qualifier != "" && r.Qualifier != q.Qualifier {
				continue
			}
			out.addRef(r)
		}
		return out, nil

	case opSection:
		rows, err := s.SearchSymbolFTS(q.Heading, execCandidateCap, filter)
		if err != nil {
			return nil, err
		}
		out := newExecSet()
		for _, r := range rows {
			if r.NodeType == "section" {
				out.addNode(r)
			}
		}
		if len(out.nodes) == 0 {
			// FTS may not tokenize a multi-word heading well; fall back to
			// an exact match against section names.
			exact, err := s.ExactSymbol(q.Heading, filter)
			if err != nil {
				return nil, err
			}
			for _, r := range exact {
				if r.NodeType == "section" {
					out.addNode(r)
				}
			}
		}
		return out, nil

	case opFile:
		rows, err := s.NodesInFile(q.FilePath)
		if err != nil {
			return nil, err
		}
		out := newExecSet()
		for _, r := range rows {
			out.addNode(r)
		}
		return out, nil

	case opParent:
		rows, err := s.NodesByParentName(q.Name, filter)
		if err != nil {
			return nil, err
		}
		out := newExecSet()
		for _, r := range rows {
			out.addNode(r)
		}
		return out, nil

	case opChildrenNamed:
		rows, err := s.NodesByParentAndChildName(q.ParentName, q.ChildName, filter)
		if err != nil {
			return nil, err
		}
		out := newExecSet()
		for _, r := range rows {
			out.addNode(r)
		}
		return out, nil

	case opInFile:
		narrowed, err := narrowFilter(s, filter, q.Glob)
		if err != nil {
			return nil, err
		}
		return execute(q.Sub[0], s, cache, narrowed)

	case opUnion:
		out := newExecSet()
		for _, sub := range q.Sub {
			r, err := execute(sub, s, cache, filter)
			if err != nil {
				return nil, err
			}
			out.merge(r)
		}
		return out, nil

	case opIntersect:
		var sets []*execSet
		for _, sub := range q.Sub {
			r, err := execute(sub, s, cache, filter)
			if err != nil {
				return nil, err
			}
			sets = append(sets, r)
		}
		return intersectSets(sets), nil

	case opLimit:
		return execute(q.Sub[0], s, cache, filter)

	default:
		return nil, fmt.Errorf("%w: unknown op %q", ErrQueryParse, q.Op)
	}
}

// executeSymbolLookup consults the symbol cache first and reads each hit's
// full node row (span, lines, tokens) from the store's rows for its file; a
// miss (or a filter the cache can't answer precisely) falls back to the
// store's exact-match index. opSymbol (kind=any) additionally unions this with FTS-text
// results, matching spec's "if kind=any also union with FTS-text results";
// opDefinition (kind=definition) does not.
func executeSymbolLookup(name string, s *store.Store, cache *symcache.Cache, filter store.Filter) (*execSet, error) {
	out := newExecSet()

	locs := cache.ExactSymbol(name)
	if len(locs) > 0 {
		byFile := map[string]bool{}
		for _, p := range filter.Paths {
			byFile[p] = true
		}
		for _, loc := range locs {
			if len(filter.Paths) > 0 && !byFile[loc.FilePath] {
				continue
			}
			rows, err := s.NodesInFile(loc.FilePath)
			if err != nil {
				return nil, err
			}
			for _, r := range rows {
				if r.HandleID == loc.HandleID {
					out.addNode(r)
				}
			}
		}
	}

	if len(out.nodes) == 0 {
		rows, err := s.ExactSymbol(name, filter)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			out.addNode(r)
		}
	}
	return out, nil
}

// narrowFilter intersects filter's candidate paths (or, if empty, every
// indexed file) with everything matching glob.
func narrowFilter(s *store.Store, filter store.Filter, glob string) (store.Filter, error) {
	var candidates []string
	if len(filter.Paths) > 0 {
		candidates = filter.Paths
	} else {
		all, err := s.AllFilePaths()
		if err != nil {
			return store.Filter{}, err
		}
		candidates = all
	}
	var matched []string
	for _, p := range candidates {
		ok, err := doublestar.Match(glob, p)
		if err != nil {
			return store.Filter{}, fmt.Errorf("%w: %v", ErrGlobPattern, err)
		}
		if ok {
			matched = append(matched, p)
		}
	}
	return store.Filter{Paths: matched}, nil
}

// sortNodeRows orders matches by (file path ascending, span_start
// ascending), the tie-break the engine uses within a single query.
func sortNodeRows(ids []string, nodes map[string]store.NodeRow) []store.NodeRow {
	rows := make([]store.NodeRow, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, nodes[id])
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].FilePath != rows[j].FilePath {
			return rows[i].FilePath < rows[j].FilePath
		}
		return rows[i].SpanStart < rows[j].SpanStart
	})
	return rows
}

func sortRefRows(order []string, refs map[string]store.RefRow) []store.RefRow {
	rows := make([]store.RefRow, 0, len(order))
	for _, k := range order {
		rows = append(rows, refs[k])
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].FilePath != rows[j].FilePath {
			return rows[i].FilePath < rows[j].FilePath
		}
		return rows[i].SpanStart < rows[j].SpanStart
	})
	return rows
}
