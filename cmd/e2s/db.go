package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/envie2sortir/envie2sortir/internal/config"
	"github.com/envie2sortir/envie2sortir/internal/db"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(root *RootOptions) *cobra.Command {
	var (
		auto     bool
		rollback int
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply the embedded SQL migrations to the configured database, or roll
back the last N with --rollback. --auto uses gorm AutoMigrate instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if rollback > 0 {
				if err := db.RollbackSQLMigrations(cfg.Database.URL(), rollback); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", rollback)
				return nil
			}
			conn, err := connect(cmd, root, cfg)
			if err != nil {
				return err
			}
			if err := db.Migrate(conn, !auto, cfg.Database.URL()); err != nil {
				return err
			}
			if !auto {
				if v, dirty, err := db.MigrationVersion(cfg.Database.URL()); err == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d (dirty=%v)\n", v, dirty)
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations completed")
			return nil
		},
	}
	cmd.Flags().BoolVar(&auto, "auto", false, "use gorm AutoMigrate instead of SQL files")
	cmd.Flags().IntVar(&rollback, "rollback", 0, "roll back the last N SQL migrations")
	return cmd
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Seed roles, permissions and tags",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			conn, err := connect(cmd, root, cfg)
			if err != nil {
				return err
			}
			if err := db.Seed(conn); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "seeding completed")
			return nil
		},
	}
}

func connect(cmd *cobra.Command, root *RootOptions, cfg *config.Config) (*gorm.DB, error) {
	return db.Connect(cmd.Context(), db.Options{DSN: cfg.Database.DSN(), Attempts: 3, Delay: time.Second, Debug: root.Verbose}, root.log)
}
