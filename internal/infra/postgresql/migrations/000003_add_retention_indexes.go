package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func addRetentionIndexes() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_add_retention_indexes",
		Migrate: func(tx *gorm.DB) error {
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_entries_sent_at ON notification_entries (sent_at) WHERE sent_at IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_entries_failed_at ON notification_entries (failed_at) WHERE failed_at IS NOT NULL`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return execAll(tx, []string{
				`DROP INDEX IF EXISTS idx_entries_failed_at`,
				`DROP INDEX IF EXISTS idx_entries_sent_at`,
			})
		},
	}
}
