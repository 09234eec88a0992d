package canopy

import "sort"

// MergeResults combines a local query result with a service query result
// for runtime mode "auto": every service handle (and ref_handle) whose
// file lies in dirtyPaths is dropped — not just handles whose span
// overlaps an edit, since a shifted line range can stale out a
// non-overlapping span too — the remainder unions with the local result,
// re-sorted by (score descending, file path ascending, span_start
// ascending) and truncated back to limit.
func MergeResults(local, service QueryResult, dirtyPaths map[string]bool, limit int) QueryResult {
	handles := make([]Handle, 0, len(local.Handles)+len(service.Handles))
	handles = append(handles, local.Handles...)
	for _, h := range service.Handles {
		if !dirtyPaths[h.FilePath] {
			handles = append(handles, h)
		}
	}
	sort.SliceStable(handles, func(i, j int) bool {
		if handles[i].Score != handles[j].Score {
			return handles[i].Score > handles[j].Score
		}
		if handles[i].FilePath != handles[j].FilePath {
			return handles[i].FilePath < handles[j].FilePath
		}
		return handles[i].Span.Start < handles[j].Span.Start
	})

	refHandles := make([]RefHandle, 0, len(local.RefHandles)+len(service.RefHandles))
	refHandles = append(refHandles, local.RefHandles...)
	for _, r := range service.RefHandles {
		if !dirtyPaths[r.FilePath] {
			refHandles = append(refHandles, r)
		}
	}
	// RefHandle carries no score: reference hits are locations, not ranked
	// answer candidates, so file/span order is the only meaningful sort.
	sort.SliceStable(refHandles, func(i, j int) bool {
		if refHandles[i].FilePath != refHandles[j].FilePath {
			return refHandles[i].FilePath < refHandles[j].FilePath
		}
		return refHandles[i].Span.Start < refHandles[j].Span.Start
	})

	truncated := local.Truncated || service.Truncated
	if limit > 0 {
		if len(handles) > limit {
			handles = handles[:limit]
			truncated = true
		}
		remaining := limit - len(handles)
		if remaining < 0 {
			remaining = 0
		}
		if len(refHandles) > remaining {
			if remaining < len(refHandles) {
				truncated = true
			}
			refHandles = refHandles[:remaining]
		}
	}

	totalTokens := 0
	for _, h := range handles {
		totalTokens += h.Tokens
	}

	return QueryResult{
		Handles:      handles,
		RefHandles:   refHandles,
		TotalTokens:  totalTokens,
		TotalMatches: len(handles) + len(refHandles),
		Truncated:    truncated,
		AutoExpanded: local.AutoExpanded || service.AutoExpanded,
		ExpandNote:   firstNonEmpty(local.ExpandNote, service.ExpandNote),
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
