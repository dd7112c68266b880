package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/lorekeep/lorebase/internal/embed"
	"github.com/lorekeep/lorebase/internal/index"
	"github.com/lorekeep/lorebase/internal/source"
	"github.com/lorekeep/lorebase/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Rebuild the index whenever the corpus changes",
		Long: `Watch observes the corpus directory and runs an incremental build
each time a batch of changes settles. Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p := printer()

			embedder, err := embed.NewFromConfig(ctx, cfg.Embeddings)
			if err != nil {
				return err
			}
			defer func() { _ = embedder.Close() }()

			builder := index.NewBuilder(cfg, embedder, logger)

			// Catch up before watching so startup changes are not missed.
			if stats, err := builder.Run(ctx, index.ModeIncremental); err != nil {
				return err
			} else if stats.SourcesRebuilt > 0 || stats.SourcesRemoved > 0 {
				p.Successf("initial build: snapshot %s", stats.SnapshotID)
			}

			build := func(ctx context.Context) error {
				stats, err := builder.Run(ctx, index.ModeIncremental)
				if err != nil {
					return err
				}
				p.Successf("rebuilt: snapshot %s (%d rebuilt, %d removed)",
					stats.SnapshotID, stats.SourcesRebuilt, stats.SourcesRemoved)
				return nil
			}

			w := watcher.New(cfg.CorpusDir, source.DefaultExtensions, debounce, build, logger)
			p.Printf("watching %s (Ctrl-C to stop)\n", cfg.CorpusDir)
			return w.Run(ctx)
		},
	}

	cmd.Flags().DurationVar(&debounce, "debounce", watcher.DefaultDebounceWindow,
		"How long the corpus must stay quiet before rebuilding")
	return cmd
}
