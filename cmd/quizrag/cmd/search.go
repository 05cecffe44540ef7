package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/quizrag/internal/output"
	"github.com/Aman-CERP/quizrag/internal/rag"
	"github.com/Aman-CERP/quizrag/internal/search"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	topK     int
	unlocked []string
	admin    bool
	jsonOut  bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Retrieve quiz content for a question",
		Long: `Retrieve quiz content using hybrid search.

Keyword (BM25) and vector results are fused with Reciprocal Rank Fusion,
banded by confidence and, when the generation service is enabled,
rewritten and re-ranked.

Examples:
  quizrag search "capital of France"
  quizrag search "photosynthesis" --top-k 3 --json
  quizrag search "chapter 2 answers" --unlock biology-101`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.topK, "top-k", "k", 0, "Maximum number of chunks (default from config)")
	cmd.Flags().StringSliceVar(&opts.unlocked, "unlock", nil, "Content id whose private questions may be returned (repeatable)")
	cmd.Flags().BoolVar(&opts.admin, "admin", false, "Ignore visibility restrictions")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Output as JSON")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	return withApp(ctx, func(a *app) error {
		if err := a.openRetrieval(); err != nil {
			return err
		}

		req := rag.Request{
			Query:     query,
			TopK:      opts.topK,
			Principal: search.Principal{Admin: opts.admin},
		}
		if len(opts.unlocked) > 0 {
			req.Principal.Unlocked = make(map[string]bool, len(opts.unlocked))
			for _, id := range opts.unlocked {
				req.Principal.Unlocked[id] = true
			}
		}

		resp, err := a.rag.Retrieve(ctx, req)
		if err != nil {
			return err
		}

		out := output.New(cmd.OutOrStdout())
		if opts.jsonOut {
			return out.JSON(resp)
		}
		out.Retrieval(resp)
		return nil
	})
}
