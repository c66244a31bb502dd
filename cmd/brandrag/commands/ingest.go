package commands

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/brandrag/internal/ingest"
	"github.com/54b3r/brandrag/internal/logging"
)

// NewIngestCmd constructs the `brandrag ingest` command, which applies a YAML
// manifest of content items to the vector store.
func NewIngestCmd() *cobra.Command {
	var file string
	var quiet bool

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Backfill the vector store from a YAML manifest",
		Long: `Backfill the vector store from a YAML manifest of content items.

New items are embedded and inserted. Items that already exist are re-embedded
only when their text changed significantly; otherwise only their metadata is
updated. Items over the user's embedding quota are counted and skipped.

Manifest format:
  items:
    - user_id: u1
      content_type: brand_profile
      content_id: profile-1
      text: "Acme makes playful, eco-friendly outdoor gear."
      metadata:
        tone: playful
        keywords: [outdoor, eco]

Examples:
  brandrag ingest --file content.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			if file == "" {
				return fmt.Errorf("ingest: --file is required")
			}
			manifest, err := ingest.Load(file)
			if err != nil {
				return err
			}

			a, err := openApp(ctx, log, true)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer a.Close()

			pipeline, err := ingest.NewPipeline(a.engine, a.repo)
			if err != nil {
				return err
			}

			progress := func(msg string) { fmt.Fprintln(cmd.ErrOrStderr(), msg) }
			if quiet {
				progress = nil
			}

			rep, err := pipeline.Ingest(ctx, manifest, progress)
			log.Info("ingest finished",
				slog.Int("items", len(manifest.Items)),
				slog.Int("inserted", rep.Inserted),
				slog.Int("reembedded", rep.Reembedded),
				slog.Int("rate_limited", rep.RateLimited),
				slog.Int("failed", rep.Failed),
			)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to the YAML manifest (required)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress per-item progress")

	return cmd
}
