package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vikasavnish/stockwatch/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		dbCfg := cfg.Database
		// Connect would migrate a second time.
		dbCfg.AutoMigrate = false
		database, err := db.Connect(dbCfg)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		if err := db.Migrate(database); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		log.Info().Msg("Schema is up to date")
		return nil
	},
}
