package parse

import (
	"context"
	"fmt"
	"sort"

	sitter "github.com/smacker/go-tree-sitter"
)

// ParsedNode is a definition extracted from source, independent of the
// storage layer's row shape so this package stays free of any dependency
// on canopy's root package (which is what computes handle ids).
type ParsedNode struct {
	NodeType  string // function, method, class, struct
	Name      string
	Parent    string // enclosing definition's name, if any
	Qualifier string // dotted path from file root to this def
	SpanStart int
	SpanEnd   int
	LineStart int
	LineEnd   int
	Content   []byte
}

// ParsedRef is a reference extracted from source.
type ParsedRef struct {
	RefType        string // call, import, type_ref
	Name           string
	Qualifier      string
	SpanStart      int
	SpanEnd        int
	LineStart      int
	LineEnd        int
	SourceNodeName string // name of the enclosing ParsedNode, if any
}

// Result is the full extraction output for one file.
type Result struct {
	Nodes []ParsedNode
	Refs  []ParsedRef
}

// rawCapture is one query match before it's classified as a def or a ref
// and turned into a ParsedNode/ParsedRef.
type rawCapture struct {
	capName   string
	node      *sitter.Node
	name      string
	qualifier string
	startByte uint32
	endByte   uint32
}

// ExtractTreeSitter parses src under lang's grammar and runs its query,
// producing definitions and references. Overlapping definition captures
// (e.g. a method matched by both a method rule and a generic type rule)
// are deduplicated by keeping the outermost span, following the same
// dedup-by-containment rule the corpus's chunkers use.
func ExtractTreeSitter(spec *LanguageSpec, path string, src []byte) (Result, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(spec.Language)
	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return Result{}, fmt.Errorf("parse: %s: parse %s: %w", spec.Name, path, err)
	}
	defer tree.Close()

	q, err := sitter.NewQuery([]byte(spec.Query), spec.Language)
	if err != nil {
		return Result{}, fmt.Errorf("parse: %s: compile query: %w", spec.Name, err)
	}
	defer q.Close()

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(q, tree.RootNode())

	var defs, refs []rawCapture

	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		var target *rawCapture
		var nameStr, qualifierStr string
		for _, c := range m.Captures {
			capName := q.CaptureNameForId(c.Index)
			switch capName {
			case "name":
				nameStr = c.Node.Content(src)
			case "qualifier":
				qualifierStr = c.Node.Content(src)
			default:
				target = &rawCapture{
					capName:   capName,
					node:      c.Node,
					startByte: c.Node.StartByte(),
					endByte:   c.Node.EndByte(),
				}
			}
		}
		if target == nil {
			continue
		}
		target.name = nameStr
		target.qualifier = qualifierStr
		if isDefCapture(target.capName) {
			defs = append(defs, *target)
		} else if isRefCapture(target.capName) {
			refs = append(refs, *target)
		}
	}

	sort.Slice(defs, func(i, j int) bool {
		if defs[i].startByte != defs[j].startByte {
			return defs[i].startByte < defs[j].startByte
		}
		return (defs[i].endByte - defs[i].startByte) > (defs[j].endByte - defs[j].startByte)
	})

	var deduped []rawCapture
	var lastEnd uint32
	for _, d := range defs {
		if len(deduped) == 0 || d.startByte >= lastEnd {
			deduped = append(deduped, d)
			if d.endByte > lastEnd {
				lastEnd = d.endByte
			}
		}
	}

	var nodes []ParsedNode
	for _, d := range deduped {
		parent, qualifier := enclosingName(deduped, d)
		nodes = append(nodes, ParsedNode{
			NodeType:  defNodeType(d.capName),
			Name:      d.name,
			Parent:    parent,
			Qualifier: qualifier,
			SpanStart: int(d.startByte),
			SpanEnd:   int(d.endByte),
			LineStart: int(d.node.StartPoint().Row) + 1,
			LineEnd:   int(d.node.EndPoint().Row) + 1,
			Content:   src[d.startByte:d.endByte],
		})
	}

	var parsedRefs []ParsedRef
	for _, r := range refs {
		if r.name == "" {
			continue
		}
		enclosing, _ := enclosingName(deduped, r)
		parsedRefs = append(parsedRefs, ParsedRef{
			RefType:        refRefType(r.capName),
			Name:           r.name,
			Qualifier:      r.qualifier,
			SpanStart:      int(r.startByte),
			SpanEnd:        int(r.endByte),
			LineStart:      int(r.node.StartPoint().Row) + 1,
			LineEnd:        int(r.node.EndPoint().Row) + 1,
			SourceNodeName: enclosing,
		})
	}

	return Result{Nodes: nodes, Refs: parsedRefs}, nil
}

func isDefCapture(name string) bool {
	return len(name) > 4 && name[:4] == "def."
}

func isRefCapture(name string) bool {
	return len(name) > 4 && name[:4] == "ref."
}

func defNodeType(capName string) string {
	switch capName {
	case "def.function":
		return "function"
	case "def.method":
		return "method"
	case "def.struct":
		return "struct"
	case "def.class":
		return "class"
	default:
		return "function"
	}
}

func refRefType(capName string) string {
	switch capName {
	case "ref.call":
		return "call"
	case "ref.import":
		return "import"
	case "ref.type":
		return "type_ref"
	default:
		return "call"
	}
}

// enclosingName finds the tightest def in defs whose span contains
// target's span, returning its name as both parent and a dotted
// qualifier. defs must already be sorted and deduplicated by
// ExtractTreeSitter's containment pass.
func enclosingName(defs []rawCapture, target rawCapture) (parent, qualifier string) {
	var best *rawCapture
	for i := range defs {
		d := &defs[i]
		if d.startByte == target.startByte && d.endByte == target.endByte {
			continue // don't parent a node to itself
		}
		if d.startByte <= target.startByte && d.endByte >= target.endByte {
			if best == nil || (d.endByte-d.startByte) < (best.endByte-best.startByte) {
				best = d
			}
		}
	}
	if best == nil {
		return "", target.name
	}
	if best.name == "" {
		return "", target.name
	}
	return best.name, best.name + "." + target.name
}
