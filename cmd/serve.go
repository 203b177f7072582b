package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/CodeMonkeyCybersecurity/surface/internal/api"
	"github.com/CodeMonkeyCybersecurity/surface/internal/config"
	"github.com/CodeMonkeyCybersecurity/surface/pkg/shutdown"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve persisted runs over a read-only HTTP API",
	Long: `Start the results API.

Endpoints:
  GET /health
  GET /api/runs?domain=&status=&limit=&offset=
  GET /api/runs/:id
  GET /api/runs/:id/risks
  GET /api/runs/:id/artifacts/:kind

Set api.api_key (SURFACE_API_API_KEY) to require "Authorization: Bearer <key>".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		serveLog := log.WithComponent("serve")

		store, err := openStore()
		if err != nil {
			return err
		}

		handler := shutdown.NewHandler(serveLog)
		handler.RegisterShutdownFunc(store.Close)
		ctx, cancel := handler.Context(cmd.Context())
		defer cancel()
		defer handler.Shutdown()

		if cfg.API.APIKey == "" {
			serveLog.Warnw("API key not set, results are readable without authentication", "addr", cfg.API.Addr)
		}
		return api.Serve(ctx, cfg.API, store, log)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	defaults := config.DefaultConfig()

	serveCmd.Flags().String("addr", defaults.API.Addr, "listen address")
	viper.BindPFlag("api.addr", serveCmd.Flags().Lookup("addr"))
}
