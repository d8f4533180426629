package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/push-engine/internal/domain"
	"gorm.io/gorm"
)

// QueueStore is the durable record of queued notifications and their audit trail.
type QueueStore interface {
	Insert(ctx context.Context, e *domain.NotificationEntry) error
	GetByID(ctx context.Context, id string) (*domain.NotificationEntry, error)
	// SelectDueBatch returns up to limit eligible entries, oldest due first.
	// It never locks or mutates rows.
	SelectDueBatch(ctx context.Context, limit int, now time.Time) ([]domain.NotificationEntry, error)
	Update(ctx context.Context, e *domain.NotificationEntry) error
	AppendAudit(ctx context.Context, r *domain.AuditRecord) error
	ListAudit(ctx context.Context, entryID string) ([]domain.AuditRecord, error)
	// SelectStaleRetries returns pending entries whose last failed attempt
	// happened at or before cutoff and which have not been re-armed since.
	SelectStaleRetries(ctx context.Context, limit int, cutoff time.Time) ([]domain.NotificationEntry, error)
	Rearm(ctx context.Context, id string, scheduledAt time.Time) (bool, error)
	DeleteDeliveredOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteFailedOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Ping(ctx context.Context) error
}

const (
	pendingClause = "sent_at IS NULL AND failed_at IS NULL"
	armedClause   = "(last_attempt_at IS NULL OR scheduled_at > last_attempt_at)"
)

var _ QueueStore = (*GormQueueStore)(nil)

type GormQueueStore struct {
	db *gorm.DB
}

func NewGormQueueStore(db *gorm.DB) *GormQueueStore {
	return &GormQueueStore{db: db}
}

func (r *GormQueueStore) Insert(ctx context.Context, e *domain.NotificationEntry) error {
	if e == nil {
		return fmt.Errorf("%w: entry is required", domain.ErrValidation)
	}
	if err := e.Validate(); err != nil {
		return err
	}

	model := entryModelFromDomain(e)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolationError(err) {
			return fmt.Errorf("%w: entry %s already exists", domain.ErrConflict, e.ID)
		}
		return err
	}
	*e = *entryModelToDomain(model)
	return nil
}

func (r *GormQueueStore) GetByID(ctx context.Context, id string) (*domain.NotificationEntry, error) {
	var model NotificationEntryModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return entryModelToDomain(&model), nil
}

func (r *GormQueueStore) SelectDueBatch(ctx context.Context, limit int, now time.Time) ([]domain.NotificationEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	var models []NotificationEntryModel
	err := r.db.WithContext(ctx).
		Where(pendingClause).
		Where("retry_count < max_retries AND scheduled_at <= ?", now).
		Where(armedClause).
		Order("scheduled_at ASC").
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	return entriesToDomain(models), nil
}

func (r *GormQueueStore) Update(ctx context.Context, e *domain.NotificationEntry) error {
	if e == nil {
		return fmt.Errorf("%w: entry is required", domain.ErrValidation)
	}
	if err := e.Validate(); err != nil {
		return err
	}

	result := r.db.WithContext(ctx).
		Model(&NotificationEntryModel{}).
		Where("id = ?", e.ID).
		Where(pendingClause).
		Updates(map[string]any{
			"sent_at":         e.SentAt,
			"failed_at":       e.FailedAt,
			"retry_count":     e.RetryCount,
			"scheduled_at":    gorm.Expr("GREATEST(scheduled_at, ?)", e.ScheduledAt),
			"last_attempt_at": e.LastAttemptAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.missOrTerminal(ctx, e.ID)
	}
	return nil
}

func (r *GormQueueStore) AppendAudit(ctx context.Context, rec *domain.AuditRecord) error {
	if rec == nil {
		return fmt.Errorf("%w: audit record is required", domain.ErrValidation)
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	prepareAuditRecord(rec)

	model := auditModelFromDomain(rec)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	*rec = *auditModelToDomain(model)
	return nil
}

func (r *GormQueueStore) ListAudit(ctx context.Context, entryID string) ([]domain.AuditRecord, error) {
	var models []AuditRecordModel
	err := r.db.WithContext(ctx).
		Where("entry_id = ?", entryID).
		Order("recorded_at ASC").
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	records := make([]domain.AuditRecord, 0, len(models))
	for i := range models {
		records = append(records, *auditModelToDomain(&models[i]))
	}
	return records, nil
}

func (r *GormQueueStore) SelectStaleRetries(ctx context.Context, limit int, cutoff time.Time) ([]domain.NotificationEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	var models []NotificationEntryModel
	err := r.db.WithContext(ctx).
		Where(pendingClause).
		Where("retry_count > 0 AND retry_count < max_retries").
		Where("last_attempt_at IS NOT NULL AND last_attempt_at <= ?", cutoff).
		Where("scheduled_at <= last_attempt_at").
		Order("last_attempt_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	return entriesToDomain(models), nil
}

func (r *GormQueueStore) Rearm(ctx context.Context, id string, scheduledAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationEntryModel{}).
		Where("id = ?", id).
		Where(pendingClause).
		Update("scheduled_at", gorm.Expr("GREATEST(scheduled_at, ?)", scheduledAt))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormQueueStore) DeleteDeliveredOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	// Audit records go with their entry through ON DELETE CASCADE.
	result := r.db.WithContext(ctx).
		Where("sent_at IS NOT NULL AND sent_at < ?", cutoff).
		Delete(&NotificationEntryModel{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *GormQueueStore) DeleteFailedOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("failed_at IS NOT NULL AND failed_at < ?", cutoff).
		Delete(&NotificationEntryModel{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *GormQueueStore) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *GormQueueStore) missOrTerminal(ctx context.Context, id string) error {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&NotificationEntryModel{}).
		Where("id = ?", id).
		Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrNotFound
	}
	return fmt.Errorf("%w: entry %s is terminal", domain.ErrConflict, id)
}

func entriesToDomain(models []NotificationEntryModel) []domain.NotificationEntry {
	entries := make([]domain.NotificationEntry, 0, len(models))
	for i := range models {
		entries = append(entries, *entryModelToDomain(&models[i]))
	}
	return entries
}

func prepareAuditRecord(rec *domain.AuditRecord) {
	if strings.TrimSpace(rec.ID) == "" {
		rec.ID = uuid.NewString()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
}

func isUniqueViolationError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
