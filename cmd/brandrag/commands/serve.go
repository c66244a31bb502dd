package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/54b3r/brandrag/internal/logging"
	"github.com/54b3r/brandrag/internal/server"
)

// NewServeCmd constructs the `brandrag serve` command, which starts the HTTP
// API and the periodic retention sweep.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the brandrag HTTP API",
		Long: `Start the brandrag HTTP API.

The server exposes context retrieval, vector writes, feedback and cleanup
endpoints under /api, plus /api/health, /api/ready and /metrics. A retention
sweep runs in the background every CLEANUP_INTERVAL (default 168h).

Examples:
  brandrag serve
  brandrag serve --port 9090
  VECTOR_BACKEND=qdrant brandrag serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.FromContext(ctx)

			a, err := openApp(ctx, log, true)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer a.Close()

			interval, err := a.cfg.CleanupInterval()
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			if cmd.Flags().Changed("host") {
				a.cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}

			srv, err := server.New(server.Deps{
				Retriever: a.engine,
				Writer:    a.engine,
				Feedback:  a.tracker,
				Cleaner:   a.cleaner,
			}, &server.Config{
				Host:            a.cfg.Server.Host,
				Port:            a.cfg.Server.Port,
				Logger:          log,
				Pingers:         a.pingers,
				RateLimit:       a.cfg.Server.RateLimit,
				RateBurst:       a.cfg.Server.RateBurst,
				APIKey:          a.cfg.Server.APIKey,
				MetricsRegistry: a.registry,
				MetricsGatherer: a.registry,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			go a.cleaner.Run(ctx, interval)

			log.Info("serve starting",
				slog.String("vector_backend", a.cfg.Store.VectorBackend),
				slog.Int("pingers", len(a.pingers)),
			)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (overrides BRANDRAG_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on (overrides BRANDRAG_PORT)")

	return cmd
}
