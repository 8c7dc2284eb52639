package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"webhook-chatter/internal/config"
	"webhook-chatter/internal/storage"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration management",
	}
	cmd.AddCommand(migrateUpCmd())
	cmd.AddCommand(migrateDownCmd())
	cmd.AddCommand(migrateVersionCmd())
	return cmd
}

func resolveDatabaseURL() (string, error) {
	_ = config.LoadDotEnv(envFile)
	return config.DatabaseURL()
}

func migrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := resolveDatabaseURL()
			if err != nil {
				return err
			}
			if err := storage.MigrateUp(url); err != nil {
				return err
			}
			return printVersion(cmd, url)
		},
	}
}

func migrateDownCmd() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations (default: 1 step)",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := resolveDatabaseURL()
			if err != nil {
				return err
			}
			if err := storage.MigrateDown(url, steps); err != nil {
				return err
			}
			return printVersion(cmd, url)
		},
	}
	cmd.Flags().IntVarP(&steps, "steps", "n", 1, "number of migrations to roll back")
	return cmd
}

func migrateVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show current migration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := resolveDatabaseURL()
			if err != nil {
				return err
			}
			return printVersion(cmd, url)
		},
	}
}

func printVersion(cmd *cobra.Command, url string) error {
	v, dirty, err := storage.MigrationVersion(url)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "version: %d, dirty: %v\n", v, dirty)
	return nil
}
