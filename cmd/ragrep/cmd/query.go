package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/laulauland/ragrep/internal/config"
	"github.com/laulauland/ragrep/internal/daemon"
	"github.com/laulauland/ragrep/internal/output"
	"github.com/laulauland/ragrep/internal/search"
)

// runQuery answers query for the repository containing the current
// directory, preferring a running daemon and falling back to a
// standalone, short-lived pipeline when none is discoverable.
func runQuery(ctx context.Context, cmd *cobra.Command, query string, compact bool) error {
	ctx = ctxOrBackground(ctx)
	out := output.New(cmd.OutOrStdout())

	root, err := resolveRepoRoot(".")
	if err != nil {
		return fmt.Errorf("resolving repository root: %w", err)
	}

	req := search.SearchRequest{Query: query, FilesOnly: compact}

	paths := resolvePaths(root)
	client := daemon.NewClient(paths.daemonConfig())
	if client.IsRunning() {
		resp, err := client.Search(ctx, req)
		if err != nil {
			return fmt.Errorf("daemon query failed: %w", err)
		}
		return renderResults(out, resp, compact)
	}

	resp, err := runStandaloneQuery(ctx, root, req)
	if err != nil {
		return err
	}
	return renderResults(out, resp, compact)
}

// runStandaloneQuery builds a transient embedder, store and reranker for
// a single query when no daemon is available, per the client endpoint
// discovery fallback.
func runStandaloneQuery(ctx context.Context, root string, req search.SearchRequest) (*search.SearchResponse, error) {
	cfg, err := config.Load(root)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	comps, err := buildComponents(ctx, root, cfg)
	if err != nil {
		return nil, fmt.Errorf("preparing search components: %w", err)
	}
	defer comps.Close()

	resp, err := comps.pipeline.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return resp, nil
}

func renderResults(out *output.Writer, resp *search.SearchResponse, compact bool) error {
	if resp == nil || len(resp.Results) == 0 {
		out.Status("", "no results")
		return nil
	}

	for _, r := range resp.Results {
		out.Statusf("", "%s:%d-%d  (%.3f)", r.FilePath, r.StartLine, r.EndLine, r.Score)
		if !compact && r.Text != "" {
			out.Code(r.Text)
		}
	}
	return nil
}
