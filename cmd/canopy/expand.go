package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/canopy-dev/canopy"
)

var (
	flagHandleFile string
	flagHandleSpan string
	flagHandleSrc  string
	flagHandleGen  uint64
)

var expandCmd = &cobra.Command{
	Use:   "expand <handle-id> [path]",
	Short: "Fetch the full content behind a handle",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runExpand,
}

func init() {
	expandCmd.Flags().StringVar(&flagHandleFile, "file", "", "handle's file path (required)")
	expandCmd.Flags().StringVar(&flagHandleSpan, "span", "", "handle's byte span, start:end (required)")
	expandCmd.Flags().StringVar(&flagHandleSrc, "source", "local", "local|service: where this handle came from")
	expandCmd.Flags().Uint64Var(&flagHandleGen, "generation", 0, "handle's generation (service handles only)")
	expandCmd.MarkFlagRequired("file")
	expandCmd.MarkFlagRequired("span")
}

func runExpand(cmd *cobra.Command, args []string) error {
	handleID := args[0]
	targetDir, err := resolveTargetDir(args[1:])
	if err != nil {
		return outputError(err)
	}
	repoRoot := findRepoRoot(targetDir)

	var start, end int
	if _, err := fmt.Sscanf(flagHandleSpan, "%d:%d", &start, &end); err != nil {
		return outputError(fmt.Errorf("invalid --span %q: want start:end", flagHandleSpan))
	}

	source := canopy.SourceLocal
	if flagHandleSrc == "service" {
		source = canopy.SourceService
	}

	rt, closeFn, err := openRuntime(repoRoot)
	if err != nil {
		return outputError(err)
	}
	defer closeFn()

	content, err := rt.Expand(context.Background(), canopy.Handle{
		ID: handleID, FilePath: flagHandleFile,
		Span:       canopy.Span{Start: start, End: end},
		Source:     source,
		Generation: canopy.Generation(flagHandleGen),
	})
	if err != nil {
		return outputError(err)
	}

	if flagFormat == "text" {
		fmt.Println(content)
		return nil
	}
	return printJSON(struct {
		HandleID string `json:"handle_id"`
		Content  string `json:"content"`
	}{HandleID: handleID, Content: content})
}
