package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kursadbilgin/push-engine/internal/domain"
)

var _ QueueStore = (*MemoryQueueStore)(nil)

// MemoryQueueStore keeps the queue in process memory. It backs the "memory"
// store driver and the engine tests; contents are lost on restart.
type MemoryQueueStore struct {
	mu      sync.RWMutex
	entries map[string]domain.NotificationEntry
	audits  map[string][]domain.AuditRecord
}

func NewMemoryQueueStore() *MemoryQueueStore {
	return &MemoryQueueStore{
		entries: make(map[string]domain.NotificationEntry),
		audits:  make(map[string][]domain.AuditRecord),
	}
}

func (s *MemoryQueueStore) Insert(ctx context.Context, e *domain.NotificationEntry) error {
	if e == nil {
		return fmt.Errorf("%w: entry is required", domain.ErrValidation)
	}
	if err := e.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[e.ID]; exists {
		return fmt.Errorf("%w: entry %s already exists", domain.ErrConflict, e.ID)
	}
	s.entries[e.ID] = cloneEntry(*e)
	return nil
}

func (s *MemoryQueueStore) GetByID(ctx context.Context, id string) (*domain.NotificationEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := cloneEntry(e)
	return &out, nil
}

func (s *MemoryQueueStore) SelectDueBatch(ctx context.Context, limit int, now time.Time) ([]domain.NotificationEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	due := make([]domain.NotificationEntry, 0)
	for _, e := range s.entries {
		if e.IsDue(now) {
			due = append(due, cloneEntry(e))
		}
	}
	s.mu.RUnlock()

	sort.Slice(due, func(i, j int) bool {
		a, b := due[i], due[j]
		if !a.ScheduledAt.Equal(b.ScheduledAt) {
			return a.ScheduledAt.Before(b.ScheduledAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *MemoryQueueStore) Update(ctx context.Context, e *domain.NotificationEntry) error {
	if e == nil {
		return fmt.Errorf("%w: entry is required", domain.ErrValidation)
	}
	if err := e.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.entries[e.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if current.IsTerminal() {
		return fmt.Errorf("%w: entry %s is terminal", domain.ErrConflict, e.ID)
	}

	current.SentAt = cloneTime(e.SentAt)
	current.FailedAt = cloneTime(e.FailedAt)
	current.RetryCount = e.RetryCount
	current.LastAttemptAt = cloneTime(e.LastAttemptAt)
	if e.ScheduledAt.After(current.ScheduledAt) {
		current.ScheduledAt = e.ScheduledAt
	}
	s.entries[e.ID] = current
	return nil
}

func (s *MemoryQueueStore) AppendAudit(ctx context.Context, rec *domain.AuditRecord) error {
	if rec == nil {
		return fmt.Errorf("%w: audit record is required", domain.ErrValidation)
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	prepareAuditRecord(rec)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Mirrors the foreign key on notification_audit_records.entry_id.
	if _, ok := s.entries[rec.EntryID]; !ok {
		return fmt.Errorf("%w: audit record references unknown entry %s", domain.ErrNotFound, rec.EntryID)
	}

	stored := *rec
	stored.GatewayDetail = append([]byte(nil), rec.GatewayDetail...)
	s.audits[rec.EntryID] = append(s.audits[rec.EntryID], stored)
	return nil
}

func (s *MemoryQueueStore) ListAudit(ctx context.Context, entryID string) ([]domain.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]domain.AuditRecord, len(s.audits[entryID]))
	copy(records, s.audits[entryID])
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].RecordedAt.Before(records[j].RecordedAt)
	})
	return records, nil
}

func (s *MemoryQueueStore) SelectStaleRetries(ctx context.Context, limit int, cutoff time.Time) ([]domain.NotificationEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	stale := make([]domain.NotificationEntry, 0)
	for _, e := range s.entries {
		if e.IsTerminal() || e.RetryCount == 0 || e.RetryCount >= e.MaxRetries {
			continue
		}
		if e.LastAttemptAt == nil || e.LastAttemptAt.After(cutoff) {
			continue
		}
		if e.IsArmed() {
			continue
		}
		stale = append(stale, cloneEntry(e))
	}
	s.mu.RUnlock()

	sort.Slice(stale, func(i, j int) bool {
		a, b := stale[i], stale[j]
		if !a.LastAttemptAt.Equal(*b.LastAttemptAt) {
			return a.LastAttemptAt.Before(*b.LastAttemptAt)
		}
		return a.ID < b.ID
	})

	if len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

func (s *MemoryQueueStore) Rearm(ctx context.Context, id string, scheduledAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.entries[id]
	if !ok || current.IsTerminal() {
		return false, nil
	}
	if scheduledAt.After(current.ScheduledAt) {
		current.ScheduledAt = scheduledAt
	}
	s.entries[id] = current
	return true, nil
}

func (s *MemoryQueueStore) DeleteDeliveredOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.deleteWhere(func(e domain.NotificationEntry) bool {
		return e.SentAt != nil && e.SentAt.Before(cutoff)
	}), nil
}

func (s *MemoryQueueStore) DeleteFailedOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.deleteWhere(func(e domain.NotificationEntry) bool {
		return e.FailedAt != nil && e.FailedAt.Before(cutoff)
	}), nil
}

func (s *MemoryQueueStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Len returns the number of stored entries.
func (s *MemoryQueueStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryQueueStore) deleteWhere(match func(domain.NotificationEntry) bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, e := range s.entries {
		if !match(e) {
			continue
		}
		delete(s.entries, id)
		delete(s.audits, id)
		deleted++
	}
	return deleted
}

func cloneEntry(e domain.NotificationEntry) domain.NotificationEntry {
	out := e
	out.DeviceRef = strings.Clone(e.DeviceRef)
	out.Payload = append([]byte(nil), e.Payload...)
	out.SentAt = cloneTime(e.SentAt)
	out.FailedAt = cloneTime(e.FailedAt)
	out.LastAttemptAt = cloneTime(e.LastAttemptAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
