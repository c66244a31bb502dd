package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/brandrag/internal/engine"
	"github.com/54b3r/brandrag/internal/logging"
	"github.com/54b3r/brandrag/internal/prompt"
	"github.com/54b3r/brandrag/internal/vector"
)

// NewRetrieveCmd constructs the `brandrag retrieve` command, which prints the
// context bundle for a query as JSON.
func NewRetrieveCmd() *cobra.Command {
	var (
		opts           engine.RetrieveOptions
		contentType    string
		timeframe      string
		minPerformance float64
		enrich         bool
		maxTokens      int
	)

	cmd := &cobra.Command{
		Use:   "retrieve <query>",
		Short: "Retrieve the personalization context for a query",
		Long: `Retrieve the personalization context for a query and print it as JSON.

With --enrich the context is also assembled into a chat prompt, trimmed to
--max-tokens, and printed after the bundle.

Examples:
  brandrag retrieve --user u1 "launch post for our spring sale"
  brandrag retrieve --user u1 --content-type social_media --platform linkedin "hiring update"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			if opts.UserID == "" {
				return fmt.Errorf("retrieve: --user is required")
			}
			opts.ContentType = vector.ContentType(contentType)
			opts.Timeframe = vector.Timeframe(timeframe)
			if cmd.Flags().Changed("min-performance") {
				opts.MinPerformance = &minPerformance
			}

			a, err := openApp(ctx, log, true)
			if err != nil {
				return fmt.Errorf("retrieve: %w", err)
			}
			defer a.Close()

			query := strings.Join(args, " ")
			bundle := a.engine.RetrieveRelevantContext(ctx, query, opts)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(bundle); err != nil {
				return err
			}
			if !enrich {
				return nil
			}
			return enc.Encode(prompt.Enrich(query, bundle, maxTokens, log))
		},
	}

	cmd.Flags().StringVar(&opts.UserID, "user", "", "User whose content is searched (required)")
	cmd.Flags().StringVar(&contentType, "content-type", "", "Restrict matches to one content type")
	cmd.Flags().StringVar(&opts.Industry, "industry", "", "Industry hint")
	cmd.Flags().StringVar(&opts.Platform, "platform", "", "Target platform hint")
	cmd.Flags().StringVar(&opts.Language, "language", "", "Target language hint")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of matches (default 10)")
	cmd.Flags().Float64Var(&minPerformance, "min-performance", 0, "Drop matches with a lower performance score")
	cmd.Flags().StringVar(&timeframe, "timeframe", string(vector.TimeframeAll), "Only consider content from: recent, 30days, 90days, all")
	cmd.Flags().BoolVar(&enrich, "enrich", false, "Also print the assembled prompt")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Token budget for --enrich (0 uses the built-in default)")

	return cmd
}
