package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/push-engine/internal/repository"
	"gorm.io/gorm"
)

func createAuditRecordsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_notification_audit_records",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.AuditRecordModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`ALTER TABLE notification_audit_records ALTER COLUMN gateway_detail SET DEFAULT '{}'::jsonb`,
				`ALTER TABLE notification_audit_records ADD CONSTRAINT fk_audit_records_entry FOREIGN KEY (entry_id) REFERENCES notification_entries (id) ON DELETE CASCADE`,
				`CREATE INDEX IF NOT EXISTS idx_audit_records_entry_recorded ON notification_audit_records (entry_id, recorded_at)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.AuditRecordModel{})
		},
	}
}
