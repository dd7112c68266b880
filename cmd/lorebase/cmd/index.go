package cmd

import (
	"github.com/spf13/cobra"

	"github.com/lorekeep/lorebase/internal/embed"
	"github.com/lorekeep/lorebase/internal/index"
)

func newIndexCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build or update the index snapshot",
		Long: `Index scans the corpus, embeds changed documents, and publishes a
new snapshot. Unchanged documents are carried forward; use --force to
rebuild everything from scratch.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			embedder, err := embed.NewFromConfig(ctx, cfg.Embeddings)
			if err != nil {
				return err
			}
			defer func() { _ = embedder.Close() }()

			mode := index.ModeIncremental
			if force {
				mode = index.ModeFull
			}

			stats, err := index.NewBuilder(cfg, embedder, logger).Run(ctx, mode)
			if err != nil {
				return err
			}

			printer().BuildStats(stats)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Rebuild every document from scratch")
	return cmd
}
