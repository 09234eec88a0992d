package parse

import (
	"strings"
)

// openHeading is a heading whose closing line hasn't been seen yet.
type openHeading struct {
	depth     int
	name      string
	startLine int
}

// ExtractMarkdown scans src line by line, producing a "section" node per
// heading (spanning from that heading to the next heading of equal or
// lesser depth), a "code_block" node per fenced code block, and
// "paragraph" nodes for everything else. No tree-sitter grammar is used
// here: markdown's structure is line-oriented enough that a scanner is
// simpler and faster than a full parse, and none of the retrieval pack's
// tree-sitter bindings include a markdown grammar.
func ExtractMarkdown(path string, src []byte) Result {
	lines := strings.Split(string(src), "\n")
	offsets := lineByteOffsets(lines)

	var nodes []ParsedNode
	var stack []openHeading

	closeThrough := func(depth int, endLine int) {
		for len(stack) > 0 && stack[len(stack)-1].depth >= depth {
			h := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			nodes = append(nodes, sectionNode(h.name, parentName(stack), h.startLine, endLine, offsets, len(lines)))
		}
	}

	inFence := false
	fenceStart := -1
	var paraStart = -1

	flushParagraph := func(endLineExclusive int) {
		if paraStart < 0 || paraStart >= endLineExclusive {
			paraStart = -1
			return
		}
		text := strings.TrimSpace(strings.Join(lines[paraStart:endLineExclusive], "\n"))
		if text != "" {
			nodes = append(nodes, ParsedNode{
				NodeType:  "paragraph",
				Parent:    parentName(stack),
				SpanStart: offsets[paraStart],
				SpanEnd:   offsets[endLineExclusive],
				LineStart: paraStart + 1,
				LineEnd:   endLineExclusive,
				Content:   []byte(text),
			})
		}
		paraStart = -1
	}

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			if !inFence {
				flushParagraph(i)
				inFence = true
				fenceStart = i
			} else {
				inFence = false
				end := i + 1
				nodes = append(nodes, ParsedNode{
					NodeType:  "code_block",
					Parent:    parentName(stack),
					SpanStart: offsets[fenceStart],
					SpanEnd:   offsets[end],
					LineStart: fenceStart + 1,
					LineEnd:   end,
					Content:   []byte(strings.Join(lines[fenceStart:end], "\n")),
				})
			}
			continue
		}
		if inFence {
			continue
		}

		if depth, title := headingDepth(trimmed); depth > 0 {
			flushParagraph(i)
			closeThrough(depth, i)
			stack = append(stack, openHeading{depth: depth, name: title, startLine: i})
			continue
		}

		if trimmed == "" {
			flushParagraph(i)
			continue
		}
		if paraStart < 0 {
			paraStart = i
		}
	}
	flushParagraph(len(lines))
	closeThrough(0, len(lines))

	return Result{Nodes: nodes}
}

func sectionNode(name, parent string, startLine, endLine int, offsets []int, totalLines int) ParsedNode {
	end := endLine
	if end > totalLines {
		end = totalLines
	}
	return ParsedNode{
		NodeType:  "section",
		Name:      name,
		Parent:    parent,
		Qualifier: name,
		SpanStart: offsets[startLine],
		SpanEnd:   offsets[end],
		LineStart: startLine + 1,
		LineEnd:   end,
	}
}

func parentName(stack []openHeading) string {
	if len(stack) == 0 {
		return ""
	}
	return stack[len(stack)-1].name
}

// headingDepth returns the ATX heading depth (1-6) and title text of line,
// or (0, "") if line isn't a heading.
func headingDepth(line string) (int, string) {
	depth := 0
	for depth < len(line) && depth < 6 && line[depth] == '#' {
		depth++
	}
	if depth == 0 || depth >= len(line) || (line[depth] != ' ' && line[depth] != '\t') {
		return 0, ""
	}
	return depth, strings.TrimSpace(line[depth:])
}

// lineByteOffsets returns the byte offset of the start of each line, plus
// one trailing entry for the offset just past the end of the last line.
func lineByteOffsets(lines []string) []int {
	offsets := make([]int, len(lines)+1)
	pos := 0
	for i, l := range lines {
		offsets[i] = pos
		pos += len(l) + 1 // +1 for the '\n' stripped by strings.Split
	}
	offsets[len(lines)] = pos
	return offsets
}
