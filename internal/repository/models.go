package repository

import (
	"encoding/json"
	"time"

	"github.com/kursadbilgin/push-engine/internal/domain"
)

const emptyGatewayDetail = "{}"

// NotificationEntryModel is the persistence model for the notification_entries table.
type NotificationEntryModel struct {
	ID            string          `gorm:"type:uuid;primaryKey"`
	DeviceRef     string          `gorm:"type:varchar(255);not null"`
	Kind          domain.Kind     `gorm:"type:varchar(20);not null"`
	Payload       []byte          `gorm:"type:bytea;not null"`
	Priority      domain.Priority `gorm:"type:varchar(10);not null"`
	RetryCount    int             `gorm:"not null"`
	MaxRetries    int             `gorm:"not null"`
	ScheduledAt   time.Time       `gorm:"type:timestamptz;not null"`
	SentAt        *time.Time      `gorm:"type:timestamptz"`
	FailedAt      *time.Time      `gorm:"type:timestamptz"`
	LastAttemptAt *time.Time      `gorm:"type:timestamptz"`
	CreatedAt     time.Time       `gorm:"type:timestamptz;not null"`
}

func (NotificationEntryModel) TableName() string {
	return "notification_entries"
}

// AuditRecordModel is the persistence model for notification_audit_records.
type AuditRecordModel struct {
	ID            string              `gorm:"type:uuid;primaryKey"`
	EntryID       string              `gorm:"type:uuid;not null"`
	Outcome       domain.AuditOutcome `gorm:"type:varchar(20);not null"`
	GatewayDetail string              `gorm:"type:jsonb;not null"`
	RecordedAt    time.Time           `gorm:"type:timestamptz;not null"`
}

func (AuditRecordModel) TableName() string {
	return "notification_audit_records"
}

func entryModelFromDomain(e *domain.NotificationEntry) *NotificationEntryModel {
	if e == nil {
		return nil
	}

	return &NotificationEntryModel{
		ID:            e.ID,
		DeviceRef:     e.DeviceRef,
		Kind:          e.Kind,
		Payload:       e.Payload,
		Priority:      e.Priority,
		RetryCount:    e.RetryCount,
		MaxRetries:    e.MaxRetries,
		ScheduledAt:   e.ScheduledAt,
		SentAt:        e.SentAt,
		FailedAt:      e.FailedAt,
		LastAttemptAt: e.LastAttemptAt,
		CreatedAt:     e.CreatedAt,
	}
}

func entryModelToDomain(m *NotificationEntryModel) *domain.NotificationEntry {
	if m == nil {
		return nil
	}

	return &domain.NotificationEntry{
		ID:            m.ID,
		DeviceRef:     m.DeviceRef,
		Kind:          m.Kind,
		Payload:       m.Payload,
		Priority:      m.Priority,
		RetryCount:    m.RetryCount,
		MaxRetries:    m.MaxRetries,
		ScheduledAt:   m.ScheduledAt,
		SentAt:        m.SentAt,
		FailedAt:      m.FailedAt,
		LastAttemptAt: m.LastAttemptAt,
		CreatedAt:     m.CreatedAt,
	}
}

func auditModelFromDomain(r *domain.AuditRecord) *AuditRecordModel {
	if r == nil {
		return nil
	}

	detail := emptyGatewayDetail
	if len(r.GatewayDetail) > 0 {
		detail = string(r.GatewayDetail)
	}

	return &AuditRecordModel{
		ID:            r.ID,
		EntryID:       r.EntryID,
		Outcome:       r.Outcome,
		GatewayDetail: detail,
		RecordedAt:    r.RecordedAt,
	}
}

func auditModelToDomain(m *AuditRecordModel) *domain.AuditRecord {
	if m == nil {
		return nil
	}

	return &domain.AuditRecord{
		ID:            m.ID,
		EntryID:       m.EntryID,
		Outcome:       m.Outcome,
		GatewayDetail: json.RawMessage(m.GatewayDetail),
		RecordedAt:    m.RecordedAt,
	}
}
