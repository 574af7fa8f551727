package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"docsign/backend/internal/repository"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(opts)
			if err != nil {
				return err
			}
			pool, err := initDatabase(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := repository.NewPostgresStore(pool).Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			logger.Info("schema applied")
			return nil
		},
	}
}
