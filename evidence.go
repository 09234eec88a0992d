package canopy

import (
	"sort"
	"strings"

	"github.com/canopy-dev/canopy/internal/store"
)

// Default evidence-pack tuning (spec §4.6).
const (
	DefaultMaxPerFile = 2
	DefaultMaxHandles = 8

	scoreThreshold        = 0.6
	suggestedExpandCount  = 3
	recentlyExpandedLimit = 32
	nearbyLineGap         = 2

	evidencePlanMaxSteps       = 3
	evidencePlanSymbolsPerStep = 1
	evidencePlanMinNewHandles  = 2
)

// nodeTypePriors ranks node types by how likely they are to be the actual
// answer to a query: definitions first, then methods, then structural
// prose, then raw chunks.
var nodeTypePriors = map[NodeType]float64{
	NodeFunction:  1.0,
	NodeMethod:    1.0,
	NodeClass:     0.8,
	NodeStruct:    0.8,
	NodeSection:   0.6,
	NodeCodeBlock: 0.5,
	NodeChunk:     0.3,
	NodeParagraph: 0.2,
}

// Guidance is the evidence pack's convergence signal for an agent's
// retrieval loop.
type Guidance struct {
	Confidence           float64 `json:"confidence"`
	ConfidenceBand       string  `json:"confidence_band"` // low | high
	StopQuerying         bool    `json:"stop_querying"`
	RecommendedAction    string  `json:"recommended_action"` // refine_query | expand_then_answer
	SuggestedExpandCount int     `json:"suggested_expand_count"`
	MaxAdditionalQueries int     `json:"max_additional_queries"`
	Rationale            string  `json:"rationale"`
	NextStep             string  `json:"next_step"`
}

// EvidencePack is the ranked, diversified, budget-constrained view of a
// QueryResult that canopy hands back to an agent instead of raw hits.
type EvidencePack struct {
	QueryText        string   `json:"query_text"`
	TotalMatches     int      `json:"total_matches"`
	Truncated        bool     `json:"truncated"`
	SelectedCount    int      `json:"selected_count"`
	SelectedTokens   int      `json:"selected_tokens"`
	Handles          []Handle `json:"handles"`
	Files            []string `json:"files"`
	ExpandSuggestion []string `json:"expand_suggestion"`
	Guidance         Guidance `json:"guidance"`
}

type scoredHandle struct {
	handle Handle
	score  float64
}

// splitTerms lowercases text and splits it on everything but letters,
// digits, and underscore, deduplicating while preserving first-seen order.
func splitTerms(text string) []string {
	var terms []string
	seen := map[string]bool{}
	var cur strings.Builder
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		t := cur.String()
		cur.Reset()
		if !seen[t] {
			seen[t] = true
			terms = append(terms, t)
		}
	}
	for _, r := range strings.ToLower(text) {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return terms
}

// scoreHandle combines lexical term-overlap relevance, a node-type prior,
// and a feedback-derived expand-accept prior into a single 0..~1.5 score,
// then reweights by historical glob hit rate and de-prioritizes handles
// already surfaced earlier in the session.
func scoreHandle(h Handle, terms []string, s *store.Store, glob string, recent map[string]bool) float64 {
	relevance := 1.0
	if len(terms) > 0 {
		haystack := strings.ToLower(h.FilePath + " " + h.Preview)
		hits := 0
		for _, t := range terms {
			if strings.Contains(haystack, t) {
				hits++
			}
		}
		relevance = float64(hits) / float64(len(terms))
		if relevance < 0.1 {
			relevance = 0.1
		}
	}

	typeWeight, ok := nodeTypePriors[h.NodeType]
	if !ok {
		typeWeight = 0.5
	}

	acceptRate, err := s.HandleExpandAcceptRate(h.ID)
	if err != nil {
		acceptRate = 0.5
	}

	score := 0.6*relevance + 0.25*typeWeight + 0.15*acceptRate

	if glob != "" {
		if hitRate, err := s.GlobHitRateAtK(string(h.NodeType), glob); err == nil {
			score *= 0.5 + hitRate // hitRate in [0,1]; scales score by [0.5, 1.5]
		}
	}
	if recent[h.ID] {
		score *= 0.5
	}
	return score
}

// isNearDuplicate reports whether candidate's line range overlaps or sits
// within nearbyLineGap lines of an already-selected handle in the same
// file, so the pack doesn't spend two of its eight slots on adjacent
// fragments of the same function.
func isNearDuplicate(candidate Handle, selected []Handle) bool {
	for _, sel := range selected {
		if sel.FilePath != candidate.FilePath {
			continue
		}
		cs, ce := candidate.LineRange.Start, candidate.LineRange.End
		ss, se := sel.LineRange.Start, sel.LineRange.End
		if cs <= se && ss <= ce {
			return true
		}
		if ce < ss && ss-ce <= nearbyLineGap {
			return true
		}
		if se < cs && cs-se <= nearbyLineGap {
			return true
		}
	}
	return false
}

// BuildEvidencePack ranks result's handles by scoreHandle, suppresses
// near-duplicate spans and over-represented files, truncates to
// maxHandles, and attaches convergence guidance. queryText feeds the
// lexical-relevance term match; glob is the narrowing glob in effect for
// this query (empty if none); recentlyExpanded is the caller's short
// memory of handle ids already returned content for this session.
func BuildEvidencePack(result QueryResult, queryText string, s *store.Store, glob string, recentlyExpanded []string, maxHandles, maxPerFile int) (EvidencePack, error) {
	if maxPerFile <= 0 {
		maxPerFile = DefaultMaxPerFile
	}
	if maxHandles <= 0 {
		maxHandles = DefaultMaxHandles
	}
	recent := make(map[string]bool, len(recentlyExpanded))
	for _, id := range recentlyExpanded {
		recent[id] = true
	}

	terms := splitTerms(queryText)
	scored := make([]scoredHandle, 0, len(result.Handles))
	for _, h := range result.Handles {
		scored = append(scored, scoredHandle{handle: h, score: scoreHandle(h, terms, s, glob, recent)})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].handle.Tokens < scored[j].handle.Tokens // tie-break: pack smaller handles first
	})

	perFile := map[string]int{}
	filesSeen := map[string]bool{}
	var packed []Handle
	aboveThreshold := 0
	selectedTokens := 0
	for _, sh := range scored {
		if len(packed) >= maxHandles {
			break
		}
		if perFile[sh.handle.FilePath] >= maxPerFile {
			continue
		}
		if isNearDuplicate(sh.handle, packed) {
			continue
		}
		perFile[sh.handle.FilePath]++
		filesSeen[sh.handle.FilePath] = true
		sh.handle.Score = sh.score
		packed = append(packed, sh.handle)
		selectedTokens += sh.handle.Tokens
		if sh.score >= scoreThreshold {
			aboveThreshold++
		}
	}

	files := make([]string, 0, len(filesSeen))
	for f := range filesSeen {
		files = append(files, f)
	}
	sort.Strings(files)

	suggestions := make([]string, len(packed))
	for i, h := range packed {
		suggestions[i] = h.ID
	}

	guidance := buildGuidance(aboveThreshold, len(filesSeen), len(packed), result.Truncated)

	return EvidencePack{
		QueryText:        queryText,
		TotalMatches:     result.TotalMatches,
		Truncated:        result.Truncated,
		SelectedCount:    len(packed),
		SelectedTokens:   selectedTokens,
		Handles:          packed,
		Files:            files,
		ExpandSuggestion: suggestions,
		Guidance:         guidance,
	}, nil
}

func buildGuidance(aboveThreshold, filesSpanned, selectedCount int, truncated bool) Guidance {
	highConfidence := aboveThreshold >= suggestedExpandCount && filesSpanned >= 2

	g := Guidance{
		SuggestedExpandCount: suggestedExpandCount,
		MaxAdditionalQueries: 2,
	}
	if highConfidence {
		g.Confidence = 0.85
		g.ConfidenceBand = "high"
		g.RecommendedAction = "expand_then_answer"
		g.StopQuerying = true
		g.Rationale = "enough high-scoring handles across multiple files to answer without another query"
		g.NextStep = "expand the top handles and answer from their content"
	} else {
		g.Confidence = 0.35
		g.ConfidenceBand = "low"
		g.RecommendedAction = "refine_query"
		g.StopQuerying = false
		g.Rationale = "too few high-scoring handles, or they all come from one file"
		g.NextStep = "narrow the query (add a glob or a more specific symbol/pattern) and retry"
		if truncated {
			g.NextStep = "results were truncated; narrow the query with a glob or lower limit and retry"
		}
		if selectedCount == 0 {
			g.Rationale = "no matching handles"
			g.NextStep = "broaden the query or check the symbol name for typos"
		}
	}
	return g
}

// ReorderExpandSuggestions moves handle ids the caller has already
// expanded this session to the end of pack's suggestion list, so an agent
// re-running the same evidence pack is nudged toward unseen handles first.
func ReorderExpandSuggestions(pack *EvidencePack, recentlyExpanded map[string]bool) {
	if len(recentlyExpanded) == 0 {
		return
	}
	fresh := make([]string, 0, len(pack.ExpandSuggestion))
	seen := make([]string, 0, len(pack.ExpandSuggestion))
	for _, id := range pack.ExpandSuggestion {
		if recentlyExpanded[id] {
			seen = append(seen, id)
		} else {
			fresh = append(fresh, id)
		}
	}
	pack.ExpandSuggestion = append(fresh, seen...)
}

// stopWords are excluded from extractSymbolCandidates because they show up
// in nearly every codebase's previews regardless of what the query is
// about. The three-letter ones are already dropped by its four-character
// minimum; the rest would otherwise pass its length check.
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true,
	"this": true, "that": true, "auth": true, "authentication": true,
	"token": true, "user": true, "users": true, "request": true,
	"response": true, "middleware": true, "handler": true, "function": true,
	"class": true, "method": true, "const": true, "let": true,
	"return": true, "true": true, "false": true, "null": true, "undefined": true,
}

// extractSymbolCandidates mines identifier-shaped tokens out of handle
// previews for the plan=true follow-up loop: camelCase and snake_case
// tokens score higher than plain words, query terms and stop words are
// excluded, and only the first 8 handles (the highest-ranked ones) are
// scanned.
func extractSymbolCandidates(handles []Handle, queryText string, limit int) []string {
	queryTerms := map[string]bool{}
	for _, t := range splitTerms(queryText) {
		queryTerms[t] = true
	}

	scores := map[string]int{}
	order := []string{}
	scanned := handles
	if len(scanned) > 8 {
		scanned = scanned[:8]
	}
	for _, h := range scanned {
		for _, tok := range tokenizeIdentifiers(h.Preview) {
			if len(tok) < 4 {
				continue
			}
			if tok[0] >= '0' && tok[0] <= '9' {
				continue
			}
			lower := strings.ToLower(tok)
			if queryTerms[lower] || stopWords[lower] {
				continue
			}
			weight := 1
			if strings.ToLower(tok) != tok {
				weight += 2 // has an uppercase letter: camelCase/PascalCase
			}
			if strings.Contains(tok, "_") {
				weight += 1
			}
			if _, exists := scores[tok]; !exists {
				order = append(order, tok)
			}
			scores[tok] += weight
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		if scores[order[i]] != scores[order[j]] {
			return scores[order[i]] > scores[order[j]]
		}
		return len(order[i]) > len(order[j])
	})
	if len(order) > limit {
		order = order[:limit]
	}
	return order
}

// tokenizeIdentifiers splits text on everything but letters, digits, and
// underscore, preserving original casing (unlike splitTerms).
func tokenizeIdentifiers(text string) []string {
	var toks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			toks = append(toks, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return toks
}

// RecentExpands is a fixed-capacity ring of recently expanded handle ids,
// used to de-prioritize handles an agent has already seen content for
// earlier in the same session.
type RecentExpands struct {
	ids []string
}

// NewRecentExpands returns an empty ring at the spec's default capacity.
func NewRecentExpands() *RecentExpands {
	return &RecentExpands{ids: make([]string, 0, recentlyExpandedLimit)}
}

// Record appends id, evicting the oldest entry if the ring is full.
func (r *RecentExpands) Record(id string) {
	if len(r.ids) >= recentlyExpandedLimit {
		r.ids = r.ids[1:]
	}
	r.ids = append(r.ids, id)
}

// IDs returns the ring's current contents, oldest first.
func (r *RecentExpands) IDs() []string {
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}

// queryParamsText renders a QueryParams' text-bearing fields into the single
// string BuildEvidencePack and extractSymbolCandidates score against.
func queryParamsText(p QueryParams) string {
	var parts []string
	if p.Pattern != "" {
		parts = append(parts, p.Pattern)
	}
	parts = append(parts, p.Patterns...)
	if p.Symbol != "" {
		parts = append(parts, p.Symbol)
	}
	if p.Section != "" {
		parts = append(parts, p.Section)
	}
	if p.Parent != "" {
		parts = append(parts, p.Parent)
	}
	return strings.Join(parts, " ")
}

// patternFallback splits a multi-word Pattern query into an any-match
// Patterns query, so a phrase that misses as one FTS term can still hit as
// a union of its words. Returns ok=false when there's nothing to split
// (single-term patterns, or queries already keyed on symbol/patterns).
func patternFallback(p QueryParams) (QueryParams, bool) {
	if p.Pattern == "" || p.Symbol != "" || len(p.Patterns) > 0 {
		return QueryParams{}, false
	}
	words := splitTerms(p.Pattern)
	if len(words) < 2 {
		return QueryParams{}, false
	}
	fallback := p
	fallback.Pattern = ""
	fallback.Patterns = words
	fallback.Match = MatchAny
	return fallback, true
}

// symbolFollowup builds a definition-kind follow-up query for a symbol
// name mined out of the seed query's results.
func symbolFollowup(seed QueryParams, symbol string) QueryParams {
	limit := seed.Limit
	if limit <= 0 || limit > 12 {
		limit = 12
	}
	return QueryParams{
		Symbol: symbol,
		Kind:   KindDefinition,
		Glob:   seed.Glob,
		Limit:  limit,
	}
}

// paramsKey renders a QueryParams into a string suitable for de-duplicating
// planning steps; it only needs to be stable and collision-free for the
// fields Compile actually consumes, not human-readable.
func paramsKey(p QueryParams) string {
	return strings.Join([]string{
		p.Pattern,
		strings.Join(p.Patterns, ","),
		p.Symbol,
		p.Section,
		p.Parent,
		string(p.Kind),
		p.Glob,
		string(p.Match),
	}, "\x1f")
}

// PlanResult is the outcome of an evidence-planning run: the final pack
// plus bookkeeping the caller (typically the service layer) may want to
// log or return to the client.
type PlanResult struct {
	Pack            EvidencePack `json:"pack"`
	QueryText       string       `json:"query_text"`
	PlanningEnabled bool         `json:"planning_enabled"`
	PlanSteps       int          `json:"plan_steps"`
}

// PlanEvidence runs seed and, while planning is on (forced by planOverride,
// or switched on when the seed's confidence comes back low), follows it
// with further queries up to evidencePlanMaxSteps steps in all, the seed
// included: first a fallback that splits a multi-word pattern into a union
// of its terms, then symbol-name follow-ups mined from the accumulating
// handle set. With planning off it runs at most two steps: the seed, plus
// that pattern-split fallback when the seed returned no handles at all.
// run executes one QueryParams
// against the engine; it's a function rather than a *Engine dependency so
// this file has no import-cycle exposure to engine.go.
//
// planOverride nil means "decide automatically from the seed query's own
// confidence"; non-nil forces planning on or off regardless of confidence.
func PlanEvidence(seed QueryParams, planOverride *bool, s *store.Store, maxHandles, maxPerFile int, run func(QueryParams) (QueryResult, error)) (PlanResult, error) {
	planningEnabled := planOverride != nil && *planOverride
	autoPlanDecided := planOverride != nil
	queryText := queryParamsText(seed)

	pending := []QueryParams{seed}
	seenKeys := map[string]bool{}
	seenHandles := map[string]bool{}
	var aggregate []Handle
	aggregateTokens := 0
	totalMatches := 0
	truncated := false
	planSteps := 0

	for len(pending) > 0 {
		maxSteps := 2
		if planningEnabled {
			maxSteps = evidencePlanMaxSteps
		}
		if planSteps >= maxSteps {
			break
		}
		current := pending[0]
		pending = pending[1:]

		key := paramsKey(current)
		if seenKeys[key] {
			continue
		}
		seenKeys[key] = true
		planSteps++

		result, err := run(current)
		if err != nil {
			return PlanResult{}, err
		}
		totalMatches += result.TotalMatches
		truncated = truncated || result.Truncated

		newCount := 0
		for _, h := range result.Handles {
			if !seenHandles[h.ID] {
				seenHandles[h.ID] = true
				aggregate = append(aggregate, h)
				aggregateTokens += h.Tokens
				newCount++
			}
		}

		provisional := QueryResult{
			Handles:      aggregate,
			TotalTokens:  aggregateTokens,
			TotalMatches: totalMatches,
			Truncated:    truncated,
		}
		pack, err := BuildEvidencePack(provisional, queryText, s, current.Glob, nil, maxHandles, maxPerFile)
		if err != nil {
			return PlanResult{}, err
		}

		if !autoPlanDecided {
			planningEnabled = pack.Guidance.ConfidenceBand == "low" && !pack.Guidance.StopQuerying
			autoPlanDecided = true
		}

		if fallback, ok := patternFallback(current); ok {
			fk := paramsKey(fallback)
			allow := planningEnabled || (planSteps == 1 && len(aggregate) == 0)
			if allow && !seenKeys[fk] {
				pending = append(pending, fallback)
			}
		}

		if !planningEnabled {
			continue
		}
		if newCount < evidencePlanMinNewHandles {
			continue
		}
		stopAt := maxHandles
		if stopAt > 4 {
			stopAt = 4
		}
		if pack.Guidance.StopQuerying && pack.SelectedCount >= stopAt {
			break
		}

		for _, symbol := range extractSymbolCandidates(aggregate, queryText, evidencePlanSymbolsPerStep) {
			followup := symbolFollowup(seed, symbol)
			fk := paramsKey(followup)
			if !seenKeys[fk] {
				pending = append(pending, followup)
			}
		}
	}

	finalResult := QueryResult{
		Handles:      aggregate,
		TotalTokens:  aggregateTokens,
		TotalMatches: totalMatches,
		Truncated:    truncated,
	}
	finalPack, err := BuildEvidencePack(finalResult, queryText, s, seed.Glob, nil, maxHandles, maxPerFile)
	if err != nil {
		return PlanResult{}, err
	}

	return PlanResult{
		Pack:            finalPack,
		QueryText:       queryText,
		PlanningEnabled: planningEnabled,
		PlanSteps:       planSteps,
	}, nil
}
