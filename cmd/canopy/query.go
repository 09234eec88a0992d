package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/canopy-dev/canopy"
	"github.com/canopy-dev/canopy/internal/ui"
)

var (
	flagSymbol       string
	flagPattern      string
	flagSection      string
	flagParent       string
	flagKind         string
	flagQueryGlob    string
	flagMatch        string
	flagLimit        int
	flagExpandBudget int
	flagPack         bool
	flagPlan         string
	flagMaxHandles   int
	flagMaxPerFile   int
)

var queryCmd = &cobra.Command{
	Use:   "query [path]",
	Short: "Query the index by symbol, reference, section, or pattern",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&flagSymbol, "symbol", "", "symbol name to look up")
	queryCmd.Flags().StringVar(&flagPattern, "pattern", "", "text pattern to search for")
	queryCmd.Flags().StringVar(&flagSection, "section", "", "markdown section heading to look up")
	queryCmd.Flags().StringVar(&flagParent, "parent", "", "enclosing class/struct name filter")
	queryCmd.Flags().StringVar(&flagKind, "kind", "", "definition|reference (with --symbol)")
	queryCmd.Flags().StringVar(&flagQueryGlob, "glob", "", "restrict the query to files matching this glob")
	queryCmd.Flags().StringVar(&flagMatch, "match", "any", "any|all, when multiple patterns are given")
	queryCmd.Flags().IntVar(&flagLimit, "limit", 0, "maximum handles to return (default: config default_result_limit)")
	queryCmd.Flags().IntVar(&flagExpandBudget, "expand-budget", 0, "auto-expand content if the total token count fits this budget")
	queryCmd.Flags().BoolVar(&flagPack, "pack", false, "build an evidence pack instead of a raw result")
	queryCmd.Flags().StringVar(&flagPlan, "plan", "", "true|false: force evidence planning on/off (default: automatic)")
	queryCmd.Flags().IntVar(&flagMaxHandles, "max-handles", 0, "evidence pack size cap (with --pack)")
	queryCmd.Flags().IntVar(&flagMaxPerFile, "max-per-file", 0, "evidence pack per-file cap (with --pack)")
}

func buildQueryParams() (canopy.QueryParams, error) {
	p := canopy.QueryParams{
		Pattern:      flagPattern,
		Symbol:       flagSymbol,
		Section:      flagSection,
		Parent:       flagParent,
		Glob:         flagQueryGlob,
		Limit:        flagLimit,
		ExpandBudget: flagExpandBudget,
	}
	switch flagKind {
	case "":
	case "definition":
		p.Kind = canopy.KindDefinition
	case "reference":
		p.Kind = canopy.KindReference
	default:
		return p, fmt.Errorf("invalid --kind %q: must be definition or reference", flagKind)
	}
	switch flagMatch {
	case "any", "":
		p.Match = canopy.MatchAny
	case "all":
		p.Match = canopy.MatchAll
	default:
		return p, fmt.Errorf("invalid --match %q: must be any or all", flagMatch)
	}
	return p, nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	targetDir, err := resolveTargetDir(args)
	if err != nil {
		return outputError(err)
	}
	repoRoot := findRepoRoot(targetDir)

	params, err := buildQueryParams()
	if err != nil {
		return outputError(err)
	}
	if params.Limit == 0 {
		cfg, err := canopy.LoadConfig(filepath.Join(repoRoot, ".canopy", "config.toml"))
		if err != nil {
			return outputError(err)
		}
		params.Limit = cfg.Core.DefaultResultLimit
	}

	rt, closeFn, err := openRuntime(repoRoot)
	if err != nil {
		return outputError(err)
	}
	defer closeFn()

	ctx := context.Background()

	if flagPack {
		var planOverride *bool
		switch flagPlan {
		case "true":
			v := true
			planOverride = &v
		case "false":
			v := false
			planOverride = &v
		}
		plan, err := rt.EvidencePack(ctx, params, planOverride)
		if err != nil {
			return outputError(err)
		}
		return printEvidencePack(plan)
	}

	result, err := rt.Query(ctx, params)
	if err != nil {
		return outputError(err)
	}
	return printQueryResult(result)
}

// openRuntime builds a Runtime in the mode implied by --service: local when
// unset, remote/auto otherwise. Callers get "auto" whenever a service URL
// is configured, matching spec §4.8's default merge behavior for a client
// that also has a local checkout.
func openRuntime(repoRoot string) (rt *canopy.Runtime, closeFn func(), err error) {
	dbPath := resolveDBPath(repoRoot)
	cfg, err := canopy.LoadConfig(filepath.Join(repoRoot, ".canopy", "config.toml"))
	if err != nil {
		return nil, nil, err
	}
	engine, err := canopy.Open(dbPath,
		canopy.WithTokenizer(cfg.FTS.Tokenizer),
		canopy.WithChunking(cfg.Indexing.ChunkLines, cfg.Indexing.ChunkOverlap),
		canopy.WithPreviewBytes(cfg.Indexing.PreviewBytes),
		canopy.WithTTL(cfg.TTLDuration()),
		canopy.WithIgnorePatterns(cfg.Ignore.Patterns),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("opening index: %w", err)
	}

	if flagService == "" {
		return canopy.NewLocalRuntime(engine, repoRoot), func() { engine.Close() }, nil
	}
	client := canopy.NewServiceClient(flagService)
	return canopy.NewRemoteRuntime(canopy.ModeAuto, engine, client, repoRoot), func() { engine.Close() }, nil
}

func printQueryResult(r canopy.QueryResult) error {
	if flagFormat == "text" {
		for _, h := range r.Handles {
			fmt.Printf("%s  %s:%d-%d  %s  %s\n", h.ID, h.FilePath, h.LineRange.Start, h.LineRange.End,
				ui.SourceLabel(string(h.Source)), h.Preview)
		}
		for _, rh := range r.RefHandles {
			fmt.Printf("ref  %s:%d-%d  %s.%s (%s)\n", rh.FilePath, rh.LineRange.Start, rh.LineRange.End,
				rh.Qualifier, rh.Name, rh.RefType)
		}
		fmt.Printf("\n%d matches, %d returned, truncated=%v\n", r.TotalMatches, len(r.Handles)+len(r.RefHandles), r.Truncated)
		return nil
	}
	return printJSON(r)
}

func printEvidencePack(plan canopy.PlanResult) error {
	if flagFormat == "text" {
		pack := plan.Pack
		for _, h := range pack.Handles {
			fmt.Printf("%s  %s:%d-%d  %s\n", h.ID, h.FilePath, h.LineRange.Start, h.LineRange.End, h.Preview)
		}
		fmt.Println()
		fmt.Println(ui.ConfidenceLabel(pack.Guidance.ConfidenceBand, pack.Guidance.RecommendedAction))
		fmt.Println(pack.Guidance.NextStep)
		return nil
	}
	return printJSON(plan)
}
