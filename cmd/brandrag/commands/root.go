// Package commands defines all Cobra CLI commands for the brandrag binary.
package commands

import (
	"errors"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/54b3r/brandrag/internal/audit"
	"github.com/54b3r/brandrag/internal/config"
	"github.com/54b3r/brandrag/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "brandrag",
		Short: "Personalization engine that grounds generated content in a brand's own voice",
		Long: `brandrag stores each user's brand profile, past content and feedback as
embeddings and retrieves the most relevant pieces as context for content
generation.

The embedding provider is selected via EMBEDDING_PROVIDER or a YAML config
file (~/.brandrag/config.yaml). A .env file in the working directory is
loaded first when present.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}

			// LOG_LEVEL may come from the YAML file, so the final logger is
			// built only after it is loaded.
			path, err := config.Load(configPath, logging.New())
			if err != nil {
				return err
			}
			log := logging.New()
			slog.SetDefault(log)
			cmd.SetContext(logging.WithLogger(cmd.Context(), log))

			audit.LogCommandStart(cmd.Context(), log, cmd.Name(), path)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.brandrag/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewRetrieveCmd(),
		NewIngestCmd(),
		NewCleanupCmd(),
		NewSettingsCmd(),
		NewVersionCmd(),
	)

	return root
}
