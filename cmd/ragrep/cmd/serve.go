package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/laulauland/ragrep/internal/config"
	"github.com/laulauland/ragrep/internal/daemon"
	"github.com/laulauland/ragrep/internal/search"
)

// searchHandler adapts a *search.Pipeline to daemon.SearchHandler.
type searchHandler struct {
	pipeline *search.Pipeline
}

func (h searchHandler) Search(ctx context.Context, req search.SearchRequest) (*search.SearchResponse, error) {
	return h.pipeline.Search(ctx, req)
}

func newServeCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the search daemon for the current repository",
		Long: `serve starts the background daemon: it binds a Unix socket under
.ragrep, answers queries over a newline-delimited JSON protocol, and
watches the working tree for changes, reindexing incrementally.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), path)
		},
	}

	cmd.Flags().StringVar(&path, "path", ".", "repository to serve")
	return cmd
}

func runServe(ctx context.Context, path string) error {
	ctx, stop := signal.NotifyContext(ctxOrBackground(ctx), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root, err := resolveRepoRoot(path)
	if err != nil {
		return fmt.Errorf("resolving repository root: %w", err)
	}

	cfg, err := config.Load(root)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	comps, err := buildComponents(ctx, root, cfg)
	if err != nil {
		return fmt.Errorf("preparing daemon components: %w", err)
	}
	defer comps.Close()

	w, err := comps.newWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	idx := comps.newIndexer()
	srv := daemon.NewServer(comps.paths.daemonConfig(), searchHandler{pipeline: comps.pipeline}, w, idx)

	slog.Info("starting daemon", slog.String("root", root), slog.String("socket", comps.paths.socket))
	err = srv.Run(ctx, root)

	if saveErr := comps.saveVectors(); saveErr != nil {
		slog.Error("saving vector index on shutdown", slog.String("error", saveErr.Error()))
	}

	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
