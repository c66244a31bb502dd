package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/54b3r/brandrag/internal/logging"
	"github.com/54b3r/brandrag/internal/settings"
)

// NewSettingsCmd constructs the `brandrag settings` command group, which
// manages the system configuration stored alongside the vectors.
func NewSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the stored system configuration",
	}
	cmd.AddCommand(newSettingsShowCmd(), newSettingsApplyCmd(), newSettingsLimitsCmd())
	return cmd
}

func newSettingsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective system configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, logging.FromContext(ctx), false)
			if err != nil {
				return fmt.Errorf("settings: %w", err)
			}
			defer a.Close()

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(a.settings.Get(ctx))
		},
	}
}

func newSettingsApplyCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Replace the system configuration from a YAML file",
		Long: `Replace the stored system configuration from a YAML file.

Keys missing from the file take their built-in defaults. Running servers pick
the change up once their settings cache expires (performance.cache_ttl).

Example file:
  rate_limiting:
    enabled: true
    user_max_per_hour: 20
  vector_cleanup:
    retention_days: 60`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if file == "" {
				return fmt.Errorf("settings: --file is required")
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("settings: %w", err)
			}
			cfg := settings.Defaults()
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return fmt.Errorf("settings: parse %s: %w", file, err)
			}

			a, err := openApp(ctx, logging.FromContext(ctx), false)
			if err != nil {
				return fmt.Errorf("settings: %w", err)
			}
			defer a.Close()

			if err := settings.Save(ctx, a.db, cfg); err != nil {
				return fmt.Errorf("settings: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "system configuration saved")
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to the YAML configuration (required)")
	return cmd
}

func newSettingsLimitsCmd() *cobra.Command {
	var (
		userID  string
		ul      settings.UserLimits
		disable bool
	)

	cmd := &cobra.Command{
		Use:   "limits",
		Short: "Set a user's custom embedding quota",
		Long: `Set a user's custom embedding quota.

Custom limits replace the per-user defaults but can never exceed the global
limits. Use --disable to return the user to the defaults.

Examples:
  brandrag settings limits --user u1 --max-per-hour 100 --max-per-day 800
  brandrag settings limits --user u1 --disable`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if userID == "" {
				return fmt.Errorf("settings: --user is required")
			}
			ul.CustomEnabled = !disable

			a, err := openApp(ctx, logging.FromContext(ctx), false)
			if err != nil {
				return fmt.Errorf("settings: %w", err)
			}
			defer a.Close()

			if err := a.db.SetUserLimits(ctx, userID, ul); err != nil {
				return fmt.Errorf("settings: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "limits for %s saved (custom: %t, hour: %d, day: %d)\n",
				userID, ul.CustomEnabled, ul.MaxPerHour, ul.MaxPerDay)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User to configure (required)")
	cmd.Flags().IntVar(&ul.MaxPerHour, "max-per-hour", 0, "Embeddings allowed per rolling hour")
	cmd.Flags().IntVar(&ul.MaxPerDay, "max-per-day", 0, "Embeddings allowed per rolling day")
	cmd.Flags().BoolVar(&disable, "disable", false, "Turn custom limits off for the user")
	return cmd
}
