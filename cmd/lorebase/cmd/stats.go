package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lorekeep/lorebase/internal/snapshot"
)

func newStatsCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show the published snapshot's contents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := snapshot.Open(cfg.DataDir)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			out := os.Stdout
			fmt.Fprintf(out, "snapshot:  %s\n", s.ID)
			fmt.Fprintf(out, "model:     %s\n", s.Manifest.ModelVersion)
			fmt.Fprintf(out, "built:     %s\n", s.Manifest.CreatedAt.Format(time.RFC3339))
			fmt.Fprintf(out, "sources:   %d\n", len(s.Manifest.Entries))
			fmt.Fprintf(out, "chunks:    %d\n", s.Manifest.ChunkCount())

			if verbose {
				fmt.Fprintln(out)
				for _, e := range s.Manifest.SortedEntries() {
					fmt.Fprintf(out, "  %-40s %4d chunks  %s\n",
						e.SourceID, e.ChunkCount, e.BuiltAt.Format(time.RFC3339))
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "List every indexed source")
	return cmd
}
