package pipeline

import (
	"fmt"

	"github.com/canopy-dev/canopy/internal/handleid"
	"github.com/canopy-dev/canopy/internal/parse"
	"github.com/canopy-dev/canopy/internal/store"
	"github.com/canopy-dev/canopy/internal/symcache"
)

// extracted is one file's fully-prepared write: metadata, content, and the
// rows ready for store.Batch.UpsertFile, plus the symbol-cache locations
// its nodes contribute.
type extracted struct {
	meta      store.FileMeta
	content   []byte
	nodes     []store.PendingNode
	refs      []store.PendingRef
	symLocs   map[string][]symcache.Location
}

// extractFile reads path, hashes it, runs it through the parser, and
// stamps handle ids onto every extracted node, producing everything a
// writer needs to hand to store.Batch.UpsertFile without touching the
// database itself. Kept allocation-free of any store or cache locking so
// it's safe to call concurrently from multiple workers.
func extractFile(path string, opts Options) (extracted, error) {
	content, mtime, size, err := store.ReadFileForIndex(path)
	if err != nil {
		return extracted{}, fmt.Errorf("pipeline: read %s: %w", path, err)
	}
	hash := store.ContentHash(content)

	result, err := parse.Parse(path, content, opts.ChunkLines, opts.ChunkOverlap)
	if err != nil {
		return extracted{}, fmt.Errorf("pipeline: parse %s: %w", path, err)
	}

	nodes := make([]store.PendingNode, 0, len(result.Nodes))
	symLocs := make(map[string][]symcache.Location)
	for _, n := range result.Nodes {
		id := handleid.New(path, n.SpanStart, n.SpanEnd, n.Name)
		tokens := parse.EstimateTokens(n.Content)
		nodes = append(nodes, store.PendingNode{
			NodeType:  n.NodeType,
			Name:      n.Name,
			Parent:    n.Parent,
			Qualifier: n.Qualifier,
			SpanStart: n.SpanStart,
			SpanEnd:   n.SpanEnd,
			LineStart: n.LineStart,
			LineEnd:   n.LineEnd,
			Tokens:    tokens,
			HandleID:  id,
			Content:   string(n.Content),
		})
		if n.Name != "" {
			symLocs[n.Name] = append(symLocs[n.Name], symcache.Location{
				FilePath: path,
				HandleID: id,
				NodeType: n.NodeType,
			})
		}
	}

	refs := make([]store.PendingRef, 0, len(result.Refs))
	for _, r := range result.Refs {
		var sourceID string
		if r.SourceNodeName != "" {
			for _, n := range nodes {
				if n.Name == r.SourceNodeName {
					sourceID = n.HandleID
					break
				}
			}
		}
		refs = append(refs, store.PendingRef{
			SpanStart:      r.SpanStart,
			SpanEnd:        r.SpanEnd,
			LineStart:      r.LineStart,
			LineEnd:        r.LineEnd,
			Name:           r.Name,
			Qualifier:      r.Qualifier,
			RefType:        r.RefType,
			SourceHandleID: sourceID,
		})
	}

	return extracted{
		meta: store.FileMeta{
			Path:    path,
			MTime:   mtime,
			Size:    size,
			Hash:    hash,
			LastGen: opts.Generation,
		},
		content: content,
		nodes:   nodes,
		refs:    refs,
		symLocs: symLocs,
	}, nil
}
