package parse

import "strings"

// Parse dispatches path to the tree-sitter extractor when a grammar is
// registered for its extension, to the markdown section scanner for
// .md/.markdown files, and otherwise to the generic line chunker so every
// text file is indexable at some granularity (spec §4.2's "every file
// produces at least a chunk" guarantee).
func Parse(path string, src []byte, chunkLines, chunkOverlap int) (Result, error) {
	if isMarkdown(path) {
		return ExtractMarkdown(path, src), nil
	}
	if lang, ok := LanguageForFile(path); ok {
		spec, ok := SpecForLanguage(lang)
		if ok {
			res, err := ExtractTreeSitter(spec, path, src)
			if err != nil {
				return Result{}, err
			}
			if len(res.Nodes) > 0 {
				return res, nil
			}
			// Fell through: grammar matched but the query found nothing
			// (e.g. a file of only package-level vars). Chunk it anyway.
		}
	}
	return ExtractChunks(src, chunkLines, chunkOverlap), nil
}

func isMarkdown(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".md") || strings.HasSuffix(lower, ".markdown")
}
