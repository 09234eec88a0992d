package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/canopy-dev/canopy"
	"github.com/canopy-dev/canopy/internal/ui"
)

var (
	flagForce bool
	flagGlob  string
)

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Index a repository for retrieval",
	Long:  "Parses source and prose files with tree-sitter, chunking fallback for the rest, and writes results to the SQLite index.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&flagForce, "force", false, "delete the index and reindex from scratch")
	indexCmd.Flags().StringVar(&flagGlob, "glob", "", "limit indexing to files matching this glob")
}

func runIndex(cmd *cobra.Command, args []string) error {
	start := time.Now()

	targetDir, err := resolveTargetDir(args)
	if err != nil {
		return outputError(err)
	}
	repoRoot := findRepoRoot(targetDir)

	if flagService != "" {
		client := canopy.NewServiceClient(flagService)
		rt := canopy.NewRemoteRuntime(canopy.ModeRemote, nil, client, repoRoot)
		gen, status, err := rt.Index(cmd.Context(), flagGlob)
		if err != nil {
			return outputError(err)
		}
		return printIndexResult(indexResult{Mode: "service", Generation: uint64(gen), Status: status})
	}

	dbPath := resolveDBPath(repoRoot)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return outputError(fmt.Errorf("creating %s: %w", filepath.Dir(dbPath), err))
	}
	if flagForce {
		if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
			return outputError(fmt.Errorf("removing index for --force: %w", err))
		}
	}

	cfg, err := canopy.LoadConfig(filepath.Join(repoRoot, ".canopy", "config.toml"))
	if err != nil {
		return outputError(err)
	}

	engine, err := canopy.Open(dbPath,
		canopy.WithTokenizer(cfg.FTS.Tokenizer),
		canopy.WithChunking(cfg.Indexing.ChunkLines, cfg.Indexing.ChunkOverlap),
		canopy.WithPreviewBytes(cfg.Indexing.PreviewBytes),
		canopy.WithTTL(cfg.TTLDuration()),
		canopy.WithIgnorePatterns(cfg.Ignore.Patterns),
	)
	if err != nil {
		return outputError(fmt.Errorf("opening index: %w", err))
	}
	defer engine.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	var s canopy.IndexStats
	if flagGlob != "" {
		s, err = engine.IndexGlob(ctx, targetDir, flagGlob)
	} else {
		s, err = engine.IndexDirectory(ctx, targetDir, "")
	}
	if err != nil {
		return outputError(fmt.Errorf("indexing: %w", err))
	}
	return printIndexResult(indexResult{
		Mode: "local", Files: s.Indexed, Skipped: s.Skipped, Cancelled: s.Cancelled,
		Duration: time.Since(start).Round(time.Millisecond).String(), DBPath: dbPath,
	})
}

type indexResult struct {
	Mode       string `json:"mode"`
	Files      int    `json:"files_indexed,omitempty"`
	Skipped    int    `json:"files_skipped,omitempty"`
	Cancelled  bool   `json:"cancelled,omitempty"`
	Duration   string `json:"duration,omitempty"`
	DBPath     string `json:"db_path,omitempty"`
	Generation uint64 `json:"generation,omitempty"`
	Status     string `json:"status,omitempty"`
}

func printIndexResult(r indexResult) error {
	if flagFormat == "text" {
		if r.Mode == "service" {
			ui.Success(fmt.Sprintf("reindexed via service: generation=%d status=%s", r.Generation, r.Status))
		} else if r.Cancelled {
			ui.Warning(fmt.Sprintf("indexing cancelled after %d files (%d skipped) in %s; partial results committed", r.Files, r.Skipped, r.Duration))
			fmt.Printf("Database: %s\n", r.DBPath)
		} else {
			ui.Success(fmt.Sprintf("indexed %d files (%d skipped) in %s", r.Files, r.Skipped, r.Duration))
			fmt.Printf("Database: %s\n", r.DBPath)
		}
		return nil
	}
	return printJSON(r)
}
