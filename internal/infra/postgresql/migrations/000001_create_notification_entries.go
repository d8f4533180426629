package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/push-engine/internal/repository"
	"gorm.io/gorm"
)

func createNotificationEntriesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_notification_entries",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.NotificationEntryModel{}); err != nil {
				return err
			}
			// Pending rows only; the dispatch scan never touches delivered or failed entries.
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_entries_due ON notification_entries (scheduled_at, created_at) WHERE sent_at IS NULL AND failed_at IS NULL`,
				`CREATE INDEX IF NOT EXISTS idx_entries_stale_retry ON notification_entries (last_attempt_at) WHERE sent_at IS NULL AND failed_at IS NULL AND retry_count > 0`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.NotificationEntryModel{})
		},
	}
}
