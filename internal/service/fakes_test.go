package service

import (
	"context"
	"sync"
	"time"

	"github.com/kursadbilgin/push-engine/internal/domain"
	"github.com/kursadbilgin/push-engine/internal/gateway"
	"github.com/kursadbilgin/push-engine/internal/repository"
)

// fakeQueueStore delegates to an in-memory store unless a hook overrides the call.
type fakeQueueStore struct {
	*repository.MemoryQueueStore

	selectDueBatchFn     func(ctx context.Context, limit int, now time.Time) ([]domain.NotificationEntry, error)
	updateFn             func(ctx context.Context, e *domain.NotificationEntry) error
	appendAuditFn        func(ctx context.Context, r *domain.AuditRecord) error
	selectStaleRetriesFn func(ctx context.Context, limit int, cutoff time.Time) ([]domain.NotificationEntry, error)
	rearmFn              func(ctx context.Context, id string, scheduledAt time.Time) (bool, error)
	deleteDeliveredFn    func(ctx context.Context, cutoff time.Time) (int64, error)
	deleteFailedFn       func(ctx context.Context, cutoff time.Time) (int64, error)
}

func newFakeQueueStore() *fakeQueueStore {
	return &fakeQueueStore{MemoryQueueStore: repository.NewMemoryQueueStore()}
}

func (f *fakeQueueStore) SelectDueBatch(ctx context.Context, limit int, now time.Time) ([]domain.NotificationEntry, error) {
	if f.selectDueBatchFn != nil {
		return f.selectDueBatchFn(ctx, limit, now)
	}
	return f.MemoryQueueStore.SelectDueBatch(ctx, limit, now)
}

func (f *fakeQueueStore) Update(ctx context.Context, e *domain.NotificationEntry) error {
	if f.updateFn != nil {
		return f.updateFn(ctx, e)
	}
	return f.MemoryQueueStore.Update(ctx, e)
}

func (f *fakeQueueStore) AppendAudit(ctx context.Context, r *domain.AuditRecord) error {
	if f.appendAuditFn != nil {
		return f.appendAuditFn(ctx, r)
	}
	return f.MemoryQueueStore.AppendAudit(ctx, r)
}

func (f *fakeQueueStore) SelectStaleRetries(ctx context.Context, limit int, cutoff time.Time) ([]domain.NotificationEntry, error) {
	if f.selectStaleRetriesFn != nil {
		return f.selectStaleRetriesFn(ctx, limit, cutoff)
	}
	return f.MemoryQueueStore.SelectStaleRetries(ctx, limit, cutoff)
}

func (f *fakeQueueStore) Rearm(ctx context.Context, id string, scheduledAt time.Time) (bool, error) {
	if f.rearmFn != nil {
		return f.rearmFn(ctx, id, scheduledAt)
	}
	return f.MemoryQueueStore.Rearm(ctx, id, scheduledAt)
}

func (f *fakeQueueStore) DeleteDeliveredOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if f.deleteDeliveredFn != nil {
		return f.deleteDeliveredFn(ctx, cutoff)
	}
	return f.MemoryQueueStore.DeleteDeliveredOlderThan(ctx, cutoff)
}

func (f *fakeQueueStore) DeleteFailedOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if f.deleteFailedFn != nil {
		return f.deleteFailedFn(ctx, cutoff)
	}
	return f.MemoryQueueStore.DeleteFailedOlderThan(ctx, cutoff)
}

type fakeGateway struct {
	sendFn func(ctx context.Context, req gateway.Request) (*gateway.Response, error)

	mu    sync.Mutex
	calls []gateway.Request
}

func (f *fakeGateway) Send(ctx context.Context, req gateway.Request) (*gateway.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	if f.sendFn != nil {
		return f.sendFn(ctx, req)
	}
	return &gateway.Response{StatusCode: 202}, nil
}

func (f *fakeGateway) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeDispatcher struct {
	dispatchFn func(ctx context.Context, entry *domain.NotificationEntry) (Outcome, error)
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, entry *domain.NotificationEntry) (Outcome, error) {
	if f.dispatchFn != nil {
		return f.dispatchFn(ctx, entry)
	}
	return Outcome{Success: true}, nil
}

type fakeRateLimiter struct {
	waitFn func(ctx context.Context, kind string) error
}

func (f *fakeRateLimiter) Wait(ctx context.Context, kind string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, kind)
	}
	return nil
}

type fakeLease struct {
	acquireFn func(ctx context.Context, name string, ttl time.Duration) (bool, error)
	releaseFn func(ctx context.Context, name string) error
}

func (f *fakeLease) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	if f.acquireFn != nil {
		return f.acquireFn(ctx, name, ttl)
	}
	return true, nil
}

func (f *fakeLease) Release(ctx context.Context, name string) error {
	if f.releaseFn != nil {
		return f.releaseFn(ctx, name)
	}
	return nil
}

// fakeClock is a manually advanced time source shared by the workers under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func intPtr(v int) *int { return &v }
