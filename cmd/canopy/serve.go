package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/canopy-dev/canopy"
	"github.com/canopy-dev/canopy/internal/service"
	"github.com/canopy-dev/canopy/internal/ui"
)

var (
	flagServeAddr    string
	flagServeDataDir string
)

var serveCmd = &cobra.Command{
	Use:   "serve [path]",
	Short: "Run the canopy service locally, pre-registering this repo",
	Long:  "Starts the same HTTP surface canopyd exposes, scoped to running against one repo on the local machine — useful for exercising --service mode without a separately deployed service.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagServeAddr, "addr", ":8080", "HTTP listen address")
	serveCmd.Flags().StringVar(&flagServeDataDir, "data-dir", ".canopy-service", "directory holding one index.db per registered repo")
}

func runServe(cmd *cobra.Command, args []string) error {
	targetDir, err := resolveTargetDir(args)
	if err != nil {
		return outputError(err)
	}
	repoRoot := findRepoRoot(targetDir)

	if err := os.MkdirAll(flagServeDataDir, 0o755); err != nil {
		return outputError(err)
	}

	mgr := service.NewManager(flagServeDataDir, canopy.WithTokenizer("unicode61"))
	defer mgr.Close()

	repoID, err := mgr.AddRepo(repoRoot, "")
	if err != nil {
		return outputError(err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	srv := service.NewServer(mgr, logger)

	if flagFormat == "text" {
		ui.Success("serving " + repoRoot + " as repo_id=" + repoID + " on " + flagServeAddr)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := srv.ListenAndServe(ctx, flagServeAddr); err != nil {
		return outputError(err)
	}
	return nil
}
