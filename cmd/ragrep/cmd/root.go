// Package cmd provides the CLI commands for ragrep.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	ragreperrors "github.com/laulauland/ragrep/internal/errors"
	"github.com/laulauland/ragrep/internal/logging"
	"github.com/laulauland/ragrep/pkg/version"
)

var (
	debugMode      bool
	compactOutput  bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the ragrep CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ragrep [query]",
		Short: "Local-first semantic code search",
		Long: `ragrep indexes a repository and answers natural-language queries
with ranked code chunks, combining vector recall with lexical reranking.

Running 'ragrep' with no subcommand searches the current repository,
preferring a running daemon (started with 'ragrep serve') and falling
back to a standalone one-shot query otherwise.`,
		Version:      version.Version,
		SilenceUsage: true,
		Args:         cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return runQuery(cmd.Context(), cmd, strings.Join(args, " "), compactOutput)
		},
	}

	cmd.SetVersionTemplate("ragrep version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	cmd.Flags().BoolVarP(&compactOutput, "compact", "l", false, "Suppress code text in results, keep paths and line spans")

	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func startLogging(_ *cobra.Command, _ []string) error {
	logCfg := logging.DefaultConfig()
	if debugMode {
		logCfg = logging.DebugConfig()
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ragreperrors.FormatForCLI(err))
		return err
	}
	return nil
}

// ctxOrBackground returns cmd's context, falling back to context.Background
// for callers invoked outside a cobra run (tests).
func ctxOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
