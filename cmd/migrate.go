package cmd

import (
	"errors"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/ospbot/ospbot/ospbot"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Creates the database tables, if they don't already exist",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		logger := slog.New(
			tint.NewHandler(os.Stderr, &tint.Options{Level: cfg.LogLevel}),
		).With("logger", "migrate")

		ctx, cancel := contextWithTimeout(ctx, cfg.StartupTimeout)
		defer cancel()

		db, err := ospbot.OpenDatabase(ctx, cfg, logger)
		if err != nil {
			return err
		}
		err = db.Migrate(ctx)
		if err == nil {
			logger.InfoContext(ctx, "database migrated", "database_type", cfg.DatabaseType)
		}
		return errors.Join(err, db.Close())
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
