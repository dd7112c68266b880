package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lorekeep/lorebase/internal/embed"
	"github.com/lorekeep/lorebase/internal/retrieve"
)

func newQueryCmd() *cobra.Command {
	var (
		topK        int
		minScore    float64
		sources     []string
		hybrid      bool
		dedupe      bool
		showContext bool
	)

	cmd := &cobra.Command{
		Use:   "query [text...]",
		Short: "Search the index for relevant passages",
		Long: `Query embeds the given text and returns the best-matching passages
with source attribution. With no arguments it starts an interactive
loop reading queries from stdin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			embedder, err := embed.NewFromConfig(ctx, cfg.Embeddings)
			if err != nil {
				return err
			}
			defer func() { _ = embedder.Close() }()

			r, err := retrieve.Open(cfg.DataDir, embedder, cfg.Retrieval, logger)
			if err != nil {
				return err
			}
			defer func() { _ = r.Close() }()

			opts := retrieve.Options{
				TopK:           topK,
				MinScore:       minScore,
				Sources:        sources,
				Hybrid:         hybrid,
				DedupeBySource: dedupe,
			}

			runOne := func(text string) error {
				passages, err := r.Query(ctx, text, opts)
				if err != nil {
					return err
				}
				if showContext {
					fmt.Fprintln(os.Stdout, retrieve.FormatContext(passages, 0))
					return nil
				}
				printer().Passages(passages)
				return nil
			}

			if len(args) > 0 {
				return runOne(strings.Join(args, " "))
			}
			return interactiveLoop(cmd, runOne)
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of passages to return (default from config)")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "Discard passages scoring below this")
	cmd.Flags().StringSliceVar(&sources, "source", nil, "Restrict results to these source IDs")
	cmd.Flags().BoolVar(&hybrid, "hybrid", false, "Fuse keyword and vector rankings")
	cmd.Flags().BoolVar(&dedupe, "dedupe", false, "Return at most one passage per source")
	cmd.Flags().BoolVar(&showContext, "context", false, "Print a prompt-ready context block instead of a result list")
	return cmd
}

// interactiveLoop reads queries from stdin until EOF or "exit". Query
// errors are reported and the loop continues.
func interactiveLoop(cmd *cobra.Command, runOne func(string) error) error {
	p := printer()
	fmt.Fprintln(os.Stdout, "Enter a query (empty line or 'exit' to quit):")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stdout, "? ")
		if !scanner.Scan() {
			break
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" || text == "exit" || text == "quit" {
			break
		}
		if err := runOne(text); err != nil {
			p.Errorf("query failed: %v", err)
		}
		if cmd.Context().Err() != nil {
			break
		}
	}
	return scanner.Err()
}
