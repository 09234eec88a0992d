package canopy

import (
	"fmt"
	"strconv"
	"strings"
)

// MatchMode controls how multiple patterns/symbols combine.
type MatchMode string

const (
	MatchAny MatchMode = "any" // union
	MatchAll MatchMode = "all" // intersect
)

// QueryKind narrows a symbol lookup to definitions, references, or both.
type QueryKind string

const (
	KindDefinition QueryKind = "definition"
	KindReference  QueryKind = "reference"
	KindAny        QueryKind = "any"
)

// opKind is a node in the compiled query algebra tree.
type opKind string

const (
	opText           opKind = "text"
	opSymbol         opKind = "symbol"
	opDefinition     opKind = "definition"
	opReferences     opKind = "references"
	opSection        opKind = "section"
	opFile           opKind = "file"
	opParent         opKind = "parent"
	opChildrenNamed  opKind = "children_named"
	opInFile         opKind = "in_file"
	opUnion          opKind = "union"
	opIntersect      opKind = "intersect"
	opLimit          opKind = "limit"
)

// Query is a compiled node in canopy's query algebra. Every surface —
// the parameterized QueryParams API and the s-expression surface — reduces
// to this same tree before execution.
type Query struct {
	Op opKind

	Pattern     string // text
	Name        string // symbol, definition, references, parent
	Qualifier   string // references: optional qualifier narrowing
	Heading     string // section
	FilePath    string // file
	ParentName  string // children_named
	ChildName   string // children_named
	Glob        string // in_file
	N           int    // limit
	Sub         []*Query
}

// QueryParams is canopy's parameterized query surface, as accepted by the
// CLI, the MCP tool, and the HTTP service.
type QueryParams struct {
	Pattern      string    `json:"pattern,omitempty"`
	Patterns     []string  `json:"patterns,omitempty"`
	Symbol       string    `json:"symbol,omitempty"`
	Section      string    `json:"section,omitempty"`
	Parent       string    `json:"parent,omitempty"`
	Kind         QueryKind `json:"kind,omitempty"`
	Glob         string    `json:"glob,omitempty"`
	Match        MatchMode `json:"match,omitempty"`
	Limit        int       `json:"limit,omitempty"`
	ExpandBudget int       `json:"expand_budget,omitempty"`
}

// Compile turns QueryParams into a Query tree. Multiple patterns combine
// via Match (default MatchAny). An empty QueryParams is a parse error:
// every query must specify at least one of Pattern/Patterns/Symbol/Section.
func Compile(p QueryParams) (*Query, error) {
	var leaves []*Query

	patterns := p.Patterns
	if p.Pattern != "" {
		patterns = append([]string{p.Pattern}, patterns...)
	}
	for _, pat := range patterns {
		leaves = append(leaves, &Query{Op: opText, Pattern: pat})
	}

	if p.Symbol != "" {
		switch p.Kind {
		case KindReference:
			leaves = append(leaves, &Query{Op: opReferences, Name: p.Symbol})
		case KindDefinition:
			leaves = append(leaves, &Query{Op: opDefinition, Name: p.Symbol})
		default:
			leaves = append(leaves, &Query{Op: opSymbol, Name: p.Symbol})
		}
	}

	if p.Section != "" {
		leaves = append(leaves, &Query{Op: opSection, Heading: p.Section})
	}

	if p.Parent != "" && p.Symbol != "" {
		// Both given: reinterpret as a qualified children_named lookup
		// instead of two independent leaves.
		leaves = []*Query{{Op: opChildrenNamed, ParentName: p.Parent, ChildName: p.Symbol}}
	} else if p.Parent != "" {
		leaves = append(leaves, &Query{Op: opParent, Name: p.Parent})
	}

	if len(leaves) == 0 {
		return nil, ErrQueryParse
	}

	var root *Query
	if len(leaves) == 1 {
		root = leaves[0]
	} else if p.Match == MatchAll {
		root = &Query{Op: opIntersect, Sub: leaves}
	} else {
		root = &Query{Op: opUnion, Sub: leaves}
	}

	if p.Glob != "" {
		root = &Query{Op: opInFile, Glob: p.Glob, Sub: []*Query{root}}
	}

	limit := p.Limit
	if limit <= 0 {
		limit = 16
	}
	return &Query{Op: opLimit, N: limit, Sub: []*Query{root}}, nil
}

// CompileSExpr parses canopy's s-expression query surface, e.g.:
//
//	(limit 8 (in_file "**/auth/**" (union (symbol "Login") (text "session"))))
//
// into the same Query tree Compile produces. It supports the full algebra:
// text, symbol, definition, references, section, file, parent,
// children_named, in_file, union, intersect, limit.
func CompileSExpr(expr string) (*Query, error) {
	toks, err := tokenizeSExpr(expr)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, ErrQueryParse
	}
	q, rest, err := parseSExpr(toks)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: unexpected trailing input", ErrQueryParse)
	}
	return q, nil
}

func tokenizeSExpr(expr string) ([]string, error) {
	var toks []string
	i := 0
	for i < len(expr) {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(' || c == ')':
			toks = append(toks, string(c))
			i++
		case c == '"':
			j := i + 1
			for j < len(expr) && expr[j] != '"' {
				if expr[j] == '\\' && j+1 < len(expr) {
					j++
				}
				j++
			}
			if j >= len(expr) {
				return nil, fmt.Errorf("%w: unterminated string literal", ErrQueryParse)
			}
			toks = append(toks, expr[i:j+1])
			i = j + 1
		default:
			j := i
			for j < len(expr) && !strings.ContainsRune(" \t\n\r()", rune(expr[j])) {
				j++
			}
			toks = append(toks, expr[i:j])
			i = j
		}
	}
	return toks, nil
}

func unquote(tok string) string {
	if len(tok) >= 2 && tok[0] == '"' && tok[len(tok)-1] == '"' {
		return strings.ReplaceAll(tok[1:len(tok)-1], `\"`, `"`)
	}
	return tok
}

// parseSExpr consumes one form from toks and returns it plus whatever
// tokens remain.
func parseSExpr(toks []string) (*Query, []string, error) {
	if len(toks) == 0 {
		return nil, nil, fmt.Errorf("%w: unexpected end of input", ErrQueryParse)
	}
	if toks[0] != "(" {
		return nil, nil, fmt.Errorf("%w: expected '(', got %q", ErrQueryParse, toks[0])
	}
	toks = toks[1:]
	if len(toks) == 0 {
		return nil, nil, fmt.Errorf("%w: unexpected end of input after '('", ErrQueryParse)
	}
	op := toks[0]
	toks = toks[1:]

	readArg := func() (string, error) {
		if len(toks) == 0 || toks[0] == "(" || toks[0] == ")" {
			return "", fmt.Errorf("%w: %s: missing argument", ErrQueryParse, op)
		}
		v := unquote(toks[0])
		toks = toks[1:]
		return v, nil
	}
	readSub := func() (*Query, error) {
		var sub *Query
		var err error
		sub, toks, err = parseSExpr(toks)
		return sub, err
	}
	readSubs := func() ([]*Query, error) {
		var subs []*Query
		for len(toks) > 0 && toks[0] == "(" {
			sub, err := readSub()
			if err != nil {
				return nil, err
			}
			subs = append(subs, sub)
		}
		return subs, nil
	}
	expectClose := func() error {
		if len(toks) == 0 || toks[0] != ")" {
			return fmt.Errorf("%w: %s: expected ')'", ErrQueryParse, op)
		}
		toks = toks[1:]
		return nil
	}

	var q *Query
	switch op {
	case "text":
		v, err := readArg()
		if err != nil {
			return nil, nil, err
		}
		q = &Query{Op: opText, Pattern: v}
	case "symbol":
		v, err := readArg()
		if err != nil {
			return nil, nil, err
		}
		q = &Query{Op: opSymbol, Name: v}
	case "definition":
		v, err := readArg()
		if err != nil {
			return nil, nil, err
		}
		q = &Query{Op: opDefinition, Name: v}
	case "references":
		v, err := readArg()
		if err != nil {
			return nil, nil, err
		}
		q = &Query{Op: opReferences, Name: v}
	case "section":
		v, err := readArg()
		if err != nil {
			return nil, nil, err
		}
		q = &Query{Op: opSection, Heading: v}
	case "file":
		v, err := readArg()
		if err != nil {
			return nil, nil, err
		}
		q = &Query{Op: opFile, FilePath: v}
	case "parent":
		v, err := readArg()
		if err != nil {
			return nil, nil, err
		}
		q = &Query{Op: opParent, Name: v}
	case "children_named":
		parent, err := readArg()
		if err != nil {
			return nil, nil, err
		}
		child, err := readArg()
		if err != nil {
			return nil, nil, err
		}
		q = &Query{Op: opChildrenNamed, ParentName: parent, ChildName: child}
	case "in_file":
		glob, err := readArg()
		if err != nil {
			return nil, nil, err
		}
		sub, err := readSub()
		if err != nil {
			return nil, nil, err
		}
		q = &Query{Op: opInFile, Glob: glob, Sub: []*Query{sub}}
	case "union":
		subs, err := readSubs()
		if err != nil {
			return nil, nil, err
		}
		q = &Query{Op: opUnion, Sub: subs}
	case "intersect":
		subs, err := readSubs()
		if err != nil {
			return nil, nil, err
		}
		q = &Query{Op: opIntersect, Sub: subs}
	case "limit":
		nStr, err := readArg()
		if err != nil {
			return nil, nil, err
		}
		n, err := strconv.Atoi(nStr)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: limit: %v", ErrQueryParse, err)
		}
		sub, err := readSub()
		if err != nil {
			return nil, nil, err
		}
		q = &Query{Op: opLimit, N: n, Sub: []*Query{sub}}
	default:
		return nil, nil, fmt.Errorf("%w: unknown operator %q", ErrQueryParse, op)
	}

	if err := expectClose(); err != nil {
		return nil, nil, err
	}
	return q, toks, nil
}
