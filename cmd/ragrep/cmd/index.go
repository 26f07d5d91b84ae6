package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/laulauland/ragrep/internal/config"
	"github.com/laulauland/ragrep/internal/ui"
)

func newIndexCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build a full index of a directory",
		Long: `index walks a directory, chunks its code, embeds every chunk and
writes the resulting metadata and vector index to .ragrep under the
repository root.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), cmd, path)
		},
	}

	cmd.Flags().StringVar(&path, "path", ".", "directory to index")
	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, path string) error {
	ctx = ctxOrBackground(ctx)

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
		return fmt.Errorf("preparing index components: %w", err)
	}
	defer comps.Close()

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(), ui.WithProjectDir(root)))
	_ = renderer.Start(ctx)
	renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageScanning, Message: root})

	idx := comps.newIndexer()
	result, err := idx.FullIndex(ctx)
	if err != nil {
		_ = renderer.Stop()
		return fmt.Errorf("indexing failed: %w", err)
	}

	if err := comps.saveVectors(); err != nil {
		_ = renderer.Stop()
		return fmt.Errorf("saving vector index: %w", err)
	}

	for _, fe := range result.Errors {
		renderer.AddError(ui.ErrorEvent{File: fe.Path, Err: fe.Err, IsWarn: true})
	}

	renderer.Complete(ui.CompletionStats{
		Files:    result.Files,
		Chunks:   result.Chunks,
		Duration: result.Duration,
		Errors:   len(result.Errors),
		Embedder: ui.EmbedderInfo{
			Backend:    string(comps.provider),
			Model:      comps.embedder.ModelName(),
			Dimensions: comps.embedder.Dimensions(),
		},
	})
	return renderer.Stop()
}
