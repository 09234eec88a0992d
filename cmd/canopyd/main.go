// Command canopyd hosts the canopy service: a multi-repo shard manager
// behind the HTTP surface spec.md §6 describes.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/canopy-dev/canopy"
	"github.com/canopy-dev/canopy/internal/service"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	dataDir := flag.String("data-dir", ".canopy-service", "directory holding one index.db per registered repo")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		logger.Error("canopyd.start", "error", err)
		os.Exit(1)
	}

	mgr := service.NewManager(*dataDir,
		canopy.WithTokenizer("unicode61"),
	)
	defer mgr.Close()

	srv := service.NewServer(mgr, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := srv.ListenAndServe(ctx, *addr); err != nil {
		logger.Error("canopyd.stop", "error", err)
		os.Exit(1)
	}
}
