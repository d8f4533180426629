package cmd

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/push-engine/internal/config"
	"github.com/kursadbilgin/push-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/push-engine/internal/infra/postgresql/migrations"
	"github.com/kursadbilgin/push-engine/internal/observability"
	"github.com/kursadbilgin/push-engine/internal/repository"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var rootCmd = &cobra.Command{
	Use:   "pushengine",
	Short: "Encrypted push notification delivery engine",
	Long: `pushengine queues end-to-end-encrypted push notifications and delivers
them to the push gateway in periodic batches, retrying failed deliveries with
a fixed backoff until the retry budget is spent.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

// bootstrap loads configuration and builds the process logger.
func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

// requirePostgres rejects the memory driver for commands that act on durable state.
func requirePostgres(cfg *config.Config) error {
	if cfg.StoreDriver != config.StoreDriverPostgres {
		return fmt.Errorf("command requires STORE_DRIVER=%s (got %s)", config.StoreDriverPostgres, cfg.StoreDriver)
	}
	return nil
}

func openPostgres(ctx context.Context, cfg *config.Config) (*gorm.DB, error) {
	if err := requirePostgres(cfg); err != nil {
		return nil, err
	}
	return postgresql.NewPostgres(ctx, cfg.DatabaseDSN, postgresql.DefaultPoolOptions(cfg.WorkerPoolSize))
}

// openStore returns the configured queue store, migrating the schema first
// for PostgreSQL. The returned close func is never nil.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.QueueStore, func(), error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Warn("using in-memory queue store, entries are lost on restart")
		return repository.NewMemoryQueueStore(), func() {}, nil
	}

	db, err := openPostgres(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres initialization failed: %w", err)
	}
	closeDB := func() {
		if err := postgresql.Close(db); err != nil {
			logger.Warn("failed to close postgres", zap.Error(err))
		}
	}

	if err := migrations.Migrate(db); err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("database migrations failed: %w", err)
	}

	return repository.NewGormQueueStore(db), closeDB, nil
}
