package main

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vikasavnish/stockwatch/internal/config"
	"github.com/vikasavnish/stockwatch/internal/logger"
)

var (
	envFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "stockwatch",
	Short: "Stock watchlist backend",
	Long: `Stock watchlist backend: accounts, favorites and live quotes.

Commands:
    serve       run the HTTP and WebSocket server (default)
    migrate     create or update the database schema
    routes      print the registered HTTP routes
`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "environment file to load")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(routesCmd)
}

// initConfig loads the env file, if any, then the configuration and logger
func initConfig() error {
	envLoaded := godotenv.Load(envFile) == nil

	cfg = config.Load()
	if err := logger.Init(cfg.Logging, "stockwatch"); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if !envLoaded {
		log.Debug().Str("file", envFile).Msg("No env file found, using environment variables")
	}
	return nil
}
