package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/congo-pay/chatwallet/internal/infra"
	"github.com/congo-pay/chatwallet/internal/logging"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "create or upgrade the database tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set to migrate")
		}
		logger := logging.New(cfg.LogLevel)

		ctx := context.Background()
		db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := infra.Migrate(ctx, db, logger)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		cmd.Printf("%d migration(s) applied\n", n)
		return nil
	},
}
