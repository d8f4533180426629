package cmd

import (
	"github.com/kursadbilgin/push-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/push-engine/internal/infra/postgresql/migrations"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateRollbackLast bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := bootstrap()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		db, err := openPostgres(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer postgresql.Close(db) //nolint:errcheck

		if migrateRollbackLast {
			if err := migrations.RollbackLast(db); err != nil {
				return err
			}
			logger.Info("rolled back last migration")
			return nil
		}

		if err := migrations.Migrate(db); err != nil {
			return err
		}
		logger.Info("database migrated", zap.Int("migrations", len(migrations.Migrations())))
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateRollbackLast, "rollback-last", false, "roll back the most recent migration instead of migrating up")
	rootCmd.AddCommand(migrateCmd)
}
