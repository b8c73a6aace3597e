package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"worker-walkthrough/config"
	"worker-walkthrough/migrations"
)

func migrate(config *config.Config) *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "manage database schema",
	}
	migrateCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "apply pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return migrations.Up(config.DB)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "roll back the latest migration",
			RunE: func(cmd *cobra.Command, args []string) error {
				return migrations.Down(config.DB)
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "print migration status",
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := migrations.Status(config.DB); err != nil {
					return fmt.Errorf("migration status: %w", err)
				}
				return nil
			},
		},
	)
	return migrateCmd
}
