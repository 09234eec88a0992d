package parse

import "strings"

// ExtractChunks splits src into overlapping line-based windows of
// chunkLines lines with chunkOverlap lines shared between consecutive
// windows, for files with no grammar and no markdown structure (plain
// text, config files, unfamiliar languages). Every byte of the file is
// covered by at least one chunk, satisfying the "every file is queryable"
// guarantee even for content canopy can't parse structurally.
func ExtractChunks(src []byte, chunkLines, chunkOverlap int) Result {
	if chunkLines <= 0 {
		chunkLines = 50
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkLines {
		chunkOverlap = 10
	}

	lines := strings.Split(string(src), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return Result{}
	}
	offsets := lineByteOffsets(lines)

	stride := chunkLines - chunkOverlap
	var nodes []ParsedNode
	for start := 0; start < len(lines); start += stride {
		end := start + chunkLines
		if end > len(lines) {
			end = len(lines)
		}
		nodes = append(nodes, ParsedNode{
			NodeType:  "chunk",
			SpanStart: offsets[start],
			SpanEnd:   offsets[end],
			LineStart: start + 1,
			LineEnd:   end,
			Content:   []byte(strings.Join(lines[start:end], "\n")),
		})
		if end >= len(lines) {
			break
		}
	}
	return Result{Nodes: nodes}
}
