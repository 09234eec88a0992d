package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/canopy-dev/canopy"
)

var statusCmd = &cobra.Command{
	Use:   "status [path]",
	Short: "Show index status for a repository",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	targetDir, err := resolveTargetDir(args)
	if err != nil {
		return outputError(err)
	}
	repoRoot := findRepoRoot(targetDir)

	if flagService == "" {
		dbPath := resolveDBPath(repoRoot)
		engine, err := canopy.Open(dbPath)
		if err != nil {
			return outputError(fmt.Errorf("opening index: %w", err))
		}
		defer engine.Close()

		paths, err := engine.Store().AllFilePaths()
		if err != nil {
			return outputError(err)
		}
		if flagFormat == "text" {
			fmt.Printf("%s: %d files indexed\n", dbPath, len(paths))
			return nil
		}
		return printJSON(struct {
			DBPath     string `json:"db_path"`
			FilesCount int    `json:"files_indexed"`
		}{DBPath: dbPath, FilesCount: len(paths)})
	}

	client := canopy.NewServiceClient(flagService)
	repoID, err := client.ResolveRepoID(context.Background(), repoRoot)
	if err != nil {
		return outputError(err)
	}
	if flagFormat == "text" {
		fmt.Printf("repo_id: %s (service: %s)\n", repoID, flagService)
		return nil
	}
	return printJSON(struct {
		RepoID  string `json:"repo_id"`
		Service string `json:"service"`
	}{RepoID: repoID, Service: flagService})
}
