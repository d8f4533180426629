package cmd

import (
	"fmt"
	"time"

	"github.com/kursadbilgin/push-engine/internal/service"
	"github.com/spf13/cobra"
)

var purgeOlderThan time.Duration

var purgeFailedCmd = &cobra.Command{
	Use:   "purge-failed",
	Short: "Delete entries that failed permanently before --older-than",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := bootstrap()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		if err := requirePostgres(cfg); err != nil {
			return err
		}
		store, closeStore, err := openStore(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer closeStore()

		janitor, err := service.NewJanitor(store, service.JanitorConfig{}, logger.Named(service.JanitorName))
		if err != nil {
			return err
		}

		deleted, err := janitor.PurgeFailed(cmd.Context(), purgeOlderThan)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "purged %d failed entries\n", deleted)
		return nil
	},
}

func init() {
	purgeFailedCmd.Flags().DurationVar(&purgeOlderThan, "older-than", 30*24*time.Hour, "minimum age of the terminal failure")
	rootCmd.AddCommand(purgeFailedCmd)
}
