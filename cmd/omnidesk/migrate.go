package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/omnidesk/omnidesk/pkg/database"
)

func newMigrateCommand(_ *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDatabase(cmd, func(db *database.Client, name string) error {
					if err := database.RunMigrations(db.DB(), name); err != nil {
						return err
					}
					return printVersion(cmd, db, name)
				})
			},
		},
		newMigrateDownCommand(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDatabase(cmd, func(db *database.Client, name string) error {
					return printVersion(cmd, db, name)
				})
			},
		},
	)
	return cmd
}

func newMigrateDownCommand() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Revert the most recent migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDatabase(cmd, func(db *database.Client, name string) error {
				if err := database.RollbackMigrations(db.DB(), name, steps); err != nil {
					return err
				}
				return printVersion(cmd, db, name)
			})
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "Number of migrations to revert")
	return cmd
}

// withDatabase opens the database without migrating it and runs fn.
func withDatabase(cmd *cobra.Command, fn func(db *database.Client, name string) error) error {
	cfg, err := database.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load database config: %w", err)
	}
	db, err := database.Open(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	client := database.NewClientFromDB(db)
	defer func() {
		if err := client.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	return fn(client, cfg.Database)
}

func printVersion(cmd *cobra.Command, db *database.Client, name string) error {
	v, dirty, err := database.MigrationVersion(db.DB(), name)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%t)\n", v, dirty)
	return err
}
