package cli

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/banshee-data/wormbehaviour/internal/store"
)

// NewMigrateCommand creates the migrate command and its subcommands.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the run database schema",
		Long: `Apply, roll back or inspect the schema migrations of the run database.
The database is --db, or wormbehaviour.db in the save directory.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrateDB(cmd, rootOpts, func(db *store.DB) error {
				if err := db.MigrateUp(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "✓ All migrations applied")
				return printMigrateStatus(cmd, db)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back one migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrateDB(cmd, rootOpts, func(db *store.DB) error {
				if err := db.MigrateDown(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "✓ Migration rolled back")
				return printMigrateStatus(cmd, db)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrateDB(cmd, rootOpts, func(db *store.DB) error {
				return printMigrateStatus(cmd, db)
			})
		},
	})

	var yes bool
	force := &cobra.Command{
		Use:   "force <version>",
		Short: "Set the recorded version without migrating (recovery only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version number: %s", args[0])
			}
			if !yes {
				fmt.Fprintf(cmd.OutOrStdout(), "⚠️  Forcing migration version to %d. Continue? [y/N]: ", version)
				answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if a := strings.TrimSpace(answer); a != "y" && a != "Y" {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
					return nil
				}
			}
			return withMigrateDB(cmd, rootOpts, func(db *store.DB) error {
				if err := db.MigrateForce(version); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Migration version forced to %d\n", version)
				return nil
			})
		},
	}
	force.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	cmd.AddCommand(force)
	return cmd
}

func withMigrateDB(cmd *cobra.Command, rootOpts *RootOptions, fn func(*store.DB) error) error {
	params, err := rootOpts.params()
	if err != nil {
		return err
	}
	logger, err := rootOpts.logger()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	// Open without migrating: the subcommand manages the schema.
	db, err := store.OpenDB(params.GetDBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	return fn(db)
}

func printMigrateStatus(cmd *cobra.Command, db *store.DB) error {
	version, dirty, err := db.MigrateVersion()
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	latest, err := store.LatestMigrationVersion()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Current version: %d\n", version)
	fmt.Fprintf(out, "Latest available: %d\n", latest)
	fmt.Fprintf(out, "Dirty: %v\n", dirty)
	switch {
	case dirty:
		fmt.Fprintln(out, "⚠️  A migration failed mid-way. Inspect the database, then run: wormbehaviour migrate force <version>")
	case version < latest:
		fmt.Fprintf(out, "Database is %d version(s) behind. Run 'wormbehaviour migrate up'.\n", latest-version)
	}
	return nil
}
