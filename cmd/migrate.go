package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/man-iishkr/RupX/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// Opening the backend applies pending migrations.
	env, err := setupEngineEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	applied, err := database.AppliedMigrations(ctx, env.backend.DB())
	if err != nil {
		return err
	}
	fmt.Printf("%s schema is up to date (%d migrations)\n", env.cfg.Database.Driver, len(applied))
	for _, v := range applied {
		fmt.Printf("  %s\n", v)
	}
	return nil
}
