package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/CodeMonkeyCybersecurity/surface/internal/config"
	"github.com/CodeMonkeyCybersecurity/surface/internal/core"
	"github.com/CodeMonkeyCybersecurity/surface/internal/database"
	"github.com/CodeMonkeyCybersecurity/surface/internal/logger"
	"github.com/CodeMonkeyCybersecurity/surface/internal/telemetry"
)

var (
	cfg     *config.Config
	log     *logger.Logger
	telem   core.Telemetry
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "surface",
	Short: "Attack surface reconnaissance and risk scoring",
	Long: `surface resolves the hostnames of a domain, probes their ports, TLS
certificates and web technologies, correlates leaked data and scores
each asset's risk.

Examples:
  surface scan example.com
  surface scan example.com --hosts subdomains.txt --leaks leaks.json --save
  surface results list --domain example.com
  surface serve --addr :8080`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = loadConfig(viper.GetViper(), cfgFile)
		if err != nil {
			return err
		}

		log, err = logger.New(cfg.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		telem, err = telemetry.New(cmd.Context(), cfg.Telemetry)
		if err != nil {
			log.Warnw("Telemetry disabled", "error", err)
			telem = telemetry.NewNoop()
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if telem != nil {
			if err := telem.Close(); err != nil && log != nil {
				log.Debugw("Telemetry shutdown failed", "error", err)
			}
		}
		if log != nil {
			_ = log.Sync()
		}
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	flags := rootCmd.PersistentFlags()
	defaults := config.DefaultConfig()

	flags.StringVar(&cfgFile, "config", "", "YAML configuration file")

	flags.String("log-level", defaults.Logger.Level, "log level (debug, info, warn, error)")
	flags.String("log-format", defaults.Logger.Format, "log format (json, console)")
	viper.BindPFlag("logger.level", flags.Lookup("log-level"))
	viper.BindPFlag("logger.format", flags.Lookup("log-format"))

	flags.String("db-driver", defaults.Database.Driver, "database driver (sqlite3, postgres)")
	flags.String("db-dsn", defaults.Database.DSN, "database connection string")
	viper.BindPFlag("database.driver", flags.Lookup("db-driver"))
	viper.BindPFlag("database.dsn", flags.Lookup("db-dsn"))
	viper.BindEnv("database.dsn", "SURFACE_DATABASE_DSN", "DATABASE_URL")

	flags.Bool("redis", defaults.Redis.Enabled, "cache DNS answers in Redis")
	flags.String("redis-addr", defaults.Redis.Addr, "Redis server address")
	viper.BindPFlag("redis.enabled", flags.Lookup("redis"))
	viper.BindPFlag("redis.addr", flags.Lookup("redis-addr"))
	viper.BindEnv("redis.addr", "SURFACE_REDIS_ADDR", "REDIS_URL")

	flags.Bool("telemetry", defaults.Telemetry.Enabled, "export traces and metrics over OTLP")
	viper.BindPFlag("telemetry.enabled", flags.Lookup("telemetry"))
}

// openStore connects to the configured result store. Callers close it.
func openStore() (core.ResultStore, error) {
	store, err := database.NewStore(cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open result store: %w", err)
	}
	return store, nil
}
