// Command canopy-mcp exposes canopy's query, evidence-pack, expand, and
// index operations as stdio MCP tools.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/canopy-dev/canopy"
)

func main() {
	serviceURL := flag.String("service", "", "canopy service URL for remote/auto mode (default: local-only)")
	flag.Parse()

	srv := &toolServer{serviceURL: *serviceURL, engines: map[string]*canopy.Engine{}}

	mcpServer := mcp.NewServer(&mcp.Implementation{Name: "canopy", Version: "0.1.0"}, nil)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "canopy_query",
		Description: "Query an indexed repository by symbol, reference, section, or text pattern.",
	}, srv.query)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "canopy_evidence_pack",
		Description: "Query and pack the result into a ranked, diversified evidence pack with confidence guidance for the next step.",
	}, srv.evidencePack)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "canopy_expand",
		Description: "Fetch the full content behind a previously returned handle.",
	}, srv.expand)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "canopy_index",
		Description: "Index or reindex a repository, optionally scoped to a glob.",
	}, srv.index)

	if err := mcpServer.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		log.Fatalf("canopy-mcp: %v", err)
	}
}

type toolServer struct {
	serviceURL string
	engines    map[string]*canopy.Engine
}

func (s *toolServer) engineFor(repoPath string) (*canopy.Engine, string, error) {
	repoRoot := findRepoRoot(repoPath)
	if e, ok := s.engines[repoRoot]; ok {
		return e, repoRoot, nil
	}
	cfg, err := canopy.LoadConfig(filepath.Join(repoRoot, ".canopy", "config.toml"))
	if err != nil {
		return nil, repoRoot, err
	}
	dbPath := filepath.Join(repoRoot, ".canopy", "index.db")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, repoRoot, err
	}
	e, err := canopy.Open(dbPath,
		canopy.WithTokenizer(cfg.FTS.Tokenizer),
		canopy.WithChunking(cfg.Indexing.ChunkLines, cfg.Indexing.ChunkOverlap),
		canopy.WithPreviewBytes(cfg.Indexing.PreviewBytes),
		canopy.WithTTL(cfg.TTLDuration()),
		canopy.WithIgnorePatterns(cfg.Ignore.Patterns),
	)
	if err != nil {
		return nil, repoRoot, err
	}
	s.engines[repoRoot] = e
	return e, repoRoot, nil
}

func (s *toolServer) runtimeFor(repoPath string) (*canopy.Runtime, string, error) {
	engine, repoRoot, err := s.engineFor(repoPath)
	if err != nil {
		return nil, repoRoot, err
	}
	if s.serviceURL == "" {
		return canopy.NewLocalRuntime(engine, repoRoot), repoRoot, nil
	}
	client := canopy.NewServiceClient(s.serviceURL)
	return canopy.NewRemoteRuntime(canopy.ModeAuto, engine, client, repoRoot), repoRoot, nil
}

type QueryArgs struct {
	RepoPath string `json:"repo_path" jsonschema:"required,description:Absolute path to the repository root or a directory inside it"`
	Symbol   string `json:"symbol,omitempty" jsonschema:"description:Symbol name to look up"`
	Pattern  string `json:"pattern,omitempty" jsonschema:"description:Text pattern to search for"`
	Section  string `json:"section,omitempty" jsonschema:"description:Markdown section heading to look up"`
	Kind     string `json:"kind,omitempty" jsonschema:"description:definition or reference, used with symbol"`
	Glob     string `json:"glob,omitempty" jsonschema:"description:Restrict the query to files matching this glob"`
	Limit    int    `json:"limit,omitempty" jsonschema:"description:Maximum handles to return"`
}

func (a QueryArgs) toParams() canopy.QueryParams {
	p := canopy.QueryParams{
		Pattern: a.Pattern, Symbol: a.Symbol, Section: a.Section,
		Glob: a.Glob, Limit: a.Limit,
	}
	if a.Kind == "reference" {
		p.Kind = canopy.KindReference
	} else if a.Kind == "definition" {
		p.Kind = canopy.KindDefinition
	}
	return p
}

func (s *toolServer) query(ctx context.Context, req *mcp.CallToolRequest, args QueryArgs) (*mcp.CallToolResult, any, error) {
	rt, _, err := s.runtimeFor(args.RepoPath)
	if err != nil {
		return errorResult(err), nil, nil
	}
	result, err := rt.Query(ctx, args.toParams())
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(result), result, nil
}

type EvidencePackArgs struct {
	QueryArgs
	MaxHandles int    `json:"max_handles,omitempty"`
	MaxPerFile int    `json:"max_per_file,omitempty"`
	Plan       string `json:"plan,omitempty" jsonschema:"description:true|false to force planning on/off; omit for automatic"`
}

func (s *toolServer) evidencePack(ctx context.Context, req *mcp.CallToolRequest, args EvidencePackArgs) (*mcp.CallToolResult, any, error) {
	rt, _, err := s.runtimeFor(args.RepoPath)
	if err != nil {
		return errorResult(err), nil, nil
	}
	var planOverride *bool
	switch args.Plan {
	case "true":
		v := true
		planOverride = &v
	case "false":
		v := false
		planOverride = &v
	}
	plan, err := rt.EvidencePack(ctx, args.toParams(), planOverride)
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(plan), plan, nil
}

type ExpandArgs struct {
	RepoPath   string `json:"repo_path" jsonschema:"required"`
	HandleID   string `json:"handle_id" jsonschema:"required"`
	FilePath   string `json:"file_path" jsonschema:"required"`
	SpanStart  int    `json:"span_start" jsonschema:"required"`
	SpanEnd    int    `json:"span_end" jsonschema:"required"`
	Source     string `json:"source,omitempty" jsonschema:"description:local or service"`
	Generation uint64 `json:"generation,omitempty"`
}

func (s *toolServer) expand(ctx context.Context, req *mcp.CallToolRequest, args ExpandArgs) (*mcp.CallToolResult, any, error) {
	rt, _, err := s.runtimeFor(args.RepoPath)
	if err != nil {
		return errorResult(err), nil, nil
	}
	source := canopy.SourceLocal
	if args.Source == "service" {
		source = canopy.SourceService
	}
	content, err := rt.Expand(ctx, canopy.Handle{
		ID: args.HandleID, FilePath: args.FilePath,
		Span:       canopy.Span{Start: args.SpanStart, End: args.SpanEnd},
		Source:     source,
		Generation: canopy.Generation(args.Generation),
	})
	if err != nil {
		return errorResult(err), nil, nil
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: content}}}, nil, nil
}

type IndexArgs struct {
	RepoPath string `json:"repo_path" jsonschema:"required"`
	Glob     string `json:"glob,omitempty"`
}

func (s *toolServer) index(ctx context.Context, req *mcp.CallToolRequest, args IndexArgs) (*mcp.CallToolResult, any, error) {
	rt, _, err := s.runtimeFor(args.RepoPath)
	if err != nil {
		return errorResult(err), nil, nil
	}
	gen, status, err := rt.Index(ctx, args.Glob)
	if err != nil {
		return errorResult(err), nil, nil
	}
	return textResult(fmt.Sprintf("indexed: generation=%d status=%s", gen, status)), nil, nil
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
	}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(err)
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(data)}}}
}

func findRepoRoot(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	dir := abs
	for {
		if _, statErr := os.Stat(filepath.Join(dir, ".git")); statErr == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs
		}
		dir = parent
	}
}
