// Package cmd provides the CLI commands for lorebase.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lorekeep/lorebase/internal/config"
	lerrors "github.com/lorekeep/lorebase/internal/errors"
	"github.com/lorekeep/lorebase/internal/logging"
	"github.com/lorekeep/lorebase/internal/ui"
	"github.com/lorekeep/lorebase/pkg/version"
)

var (
	corpusDir  string
	configPath string
	debugMode  bool
	noColor    bool

	cfg        *config.Config
	logger     *slog.Logger
	logCleanup func()
)

// NewRootCmd creates the root command for the lorebase CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lorebase",
		Short: "Local retrieval index over a lore document corpus",
		Long: `Lorebase indexes a directory of PDF and text documents into a
searchable snapshot and answers semantic queries against it.

Run 'lorebase index' to build the index, then 'lorebase query' to search.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("lorebase version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&corpusDir, "corpus", "c", ".", "Corpus directory to index and query")
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to lorebase.yaml (default: <corpus>/lorebase.yaml)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable styled output")

	cmd.PersistentPreRunE = setup
	cmd.PersistentPostRun = func(*cobra.Command, []string) {
		if logCleanup != nil {
			logCleanup()
		}
	}

	cmd.AddCommand(
		newIndexCmd(),
		newQueryCmd(),
		newStatsCmd(),
		newWatchCmd(),
		newVersionCmd(),
	)
	return cmd
}

// setup loads configuration and initializes logging for every command.
func setup(cmd *cobra.Command, args []string) error {
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load(corpusDir)
	}
	if err != nil {
		return err
	}
	if debugMode {
		cfg.LogLevel = "debug"
	}

	logCfg := logging.DefaultConfig(cfg.DataDir)
	logCfg.Level = cfg.LogLevel
	logger, logCleanup, err = logging.Setup(logCfg)
	if err != nil {
		return err
	}
	return nil
}

func printer() *ui.Printer {
	return ui.NewPrinter(os.Stdout, noColor)
}

// Execute runs the CLI with signal-aware cancellation.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		reportError(err)
		return err
	}
	return nil
}

// reportError renders an error to stderr, including the structured
// suggestion when one is attached.
func reportError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	var le *lerrors.LoreError
	if errors.As(err, &le) && le.Suggestion != "" {
		fmt.Fprintf(os.Stderr, "Hint: %s\n", le.Suggestion)
	}
}
