package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/brandrag/internal/logging"
)

// NewCleanupCmd constructs the `brandrag cleanup` command, which runs one
// retention sweep and exits.
func NewCleanupCmd() *cobra.Command {
	var userID string
	var retentionDays int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Evict aged, low-performing vectors",
		Long: `Run one retention sweep.

A vector is evicted only when it is older than the retention window and its
performance score is below the configured threshold. Without --user every
user in the store is swept.

Examples:
  brandrag cleanup
  brandrag cleanup --user u1 --retention-days 30`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if retentionDays < 0 {
				return fmt.Errorf("cleanup: --retention-days must not be negative")
			}
			if retentionDays > 0 && userID == "" {
				return fmt.Errorf("cleanup: --retention-days requires --user")
			}

			a, err := openApp(ctx, logging.FromContext(ctx), false)
			if err != nil {
				return fmt.Errorf("cleanup: %w", err)
			}
			defer a.Close()

			var result any
			if userID == "" {
				sum, err := a.cleaner.CleanupAll(ctx)
				if err != nil {
					return fmt.Errorf("cleanup: %w", err)
				}
				result = sum
			} else {
				n, err := a.cleaner.Cleanup(ctx, userID, retentionDays)
				if err != nil {
					return fmt.Errorf("cleanup: %w", err)
				}
				result = map[string]int{"cleaned": n}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "Sweep only this user")
	cmd.Flags().IntVar(&retentionDays, "retention-days", 0, "Override the configured retention window (requires --user)")

	return cmd
}
