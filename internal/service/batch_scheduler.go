package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kursadbilgin/push-engine/internal/domain"
	"github.com/kursadbilgin/push-engine/internal/lease"
	"github.com/kursadbilgin/push-engine/internal/observability"
	"github.com/kursadbilgin/push-engine/internal/ratelimit"
	"github.com/kursadbilgin/push-engine/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	BatchSchedulerName = "batch-scheduler"

	defaultBatchInterval = 30 * time.Second
	defaultBatchSize     = 100
	defaultPoolSize      = 16
)

type BatchSchedulerConfig struct {
	Interval     time.Duration
	BatchSize    int
	PoolSize     int
	DrainTimeout time.Duration
}

// TickReport summarizes one scheduler tick.
type TickReport struct {
	Selected       int
	Sent           int
	RetryScheduled int
	Failed         int
	// Skipped entries were not attempted, e.g. the rate limiter errored.
	Skipped int
	// Errors counts entries whose outcome could not be fully persisted.
	Errors int
}

// BatchScheduler selects due entries and dispatches them on a bounded pool.
// It is the only writer of sent_at, failed_at, retry_count and last_attempt_at.
type BatchScheduler struct {
	store      repository.QueueStore
	dispatcher EntryDispatcher
	limiter    ratelimit.RateLimiter
	lease      lease.Lease
	logger     *zap.Logger
	metrics    *observability.Metrics
	cfg        BatchSchedulerConfig
	now        func() time.Time
}

func NewBatchScheduler(
	store repository.QueueStore,
	dispatcher EntryDispatcher,
	cfg BatchSchedulerConfig,
	logger *zap.Logger,
) (*BatchScheduler, error) {
	if store == nil {
		return nil, fmt.Errorf("queue store is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultBatchInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = defaultPoolSize
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BatchScheduler{
		store:      store,
		dispatcher: dispatcher,
		limiter:    ratelimit.Unlimited{},
		lease:      lease.Local{},
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
	}, nil
}

func (s *BatchScheduler) SetRateLimiter(limiter ratelimit.RateLimiter) {
	if limiter != nil {
		s.limiter = limiter
	}
}

func (s *BatchScheduler) SetLease(l lease.Lease) {
	if l != nil {
		s.lease = l
	}
}

func (s *BatchScheduler) SetMetrics(metrics *observability.Metrics) {
	s.metrics = metrics
}

func (s *BatchScheduler) Start(ctx context.Context) error {
	w := &periodicWorker{
		name:         BatchSchedulerName,
		interval:     s.cfg.Interval,
		drainTimeout: s.cfg.DrainTimeout,
		lease:        s.lease,
		logger:       s.logger,
		metrics:      s.metrics,
		tick: func(ctx context.Context) error {
			_, err := s.Tick(ctx)
			return err
		},
	}
	return w.run(ctx)
}

// Tick runs one select-dispatch-record cycle. Per-entry failures are logged
// and counted; only a failed selection is returned as an error.
func (s *BatchScheduler) Tick(ctx context.Context) (TickReport, error) {
	entries, err := s.store.SelectDueBatch(ctx, s.cfg.BatchSize, s.now())
	if err != nil {
		return TickReport{}, fmt.Errorf("failed to select due entries: %w", err)
	}

	report := TickReport{Selected: len(entries)}
	if len(entries) == 0 {
		return report, nil
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(min(len(entries), s.cfg.PoolSize))

	for i := range entries {
		entry := entries[i]
		g.Go(func() error {
			result := s.process(ctx, &entry)
			mu.Lock()
			report.add(result)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	logFn := s.logger.Debug
	if report.Failed > 0 || report.Errors > 0 {
		logFn = s.logger.Info
	}
	logFn("batch tick completed",
		zap.Int("selected", report.Selected),
		zap.Int("sent", report.Sent),
		zap.Int("retryScheduled", report.RetryScheduled),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
		zap.Int("errors", report.Errors),
	)

	return report, nil
}

type entryResult int

const (
	resultSent entryResult = iota
	resultRetryScheduled
	resultFailed
	resultSkipped
	resultError
)

func (r *TickReport) add(result entryResult) {
	switch result {
	case resultSent:
		r.Sent++
	case resultRetryScheduled:
		r.RetryScheduled++
	case resultFailed:
		r.Failed++
	case resultSkipped:
		r.Skipped++
	case resultError:
		r.Errors++
	}
}

func (s *BatchScheduler) process(ctx context.Context, entry *domain.NotificationEntry) entryResult {
	ctx = observability.WithEntryID(ctx, entry.ID)
	logger := observability.WithContextLogger(s.logger, ctx)
	kind := entry.Kind.String()

	// Not an attempt: the entry stays eligible for the next tick.
	if err := s.limiter.Wait(ctx, kind); err != nil {
		logger.Warn("rate limiter unavailable, skipping entry", zap.Error(err))
		return resultSkipped
	}

	outcome, err := s.dispatcher.Dispatch(ctx, entry)
	if err != nil {
		// A malformed entry can never succeed; spend its budget instead of reselecting it forever.
		logger.Error("entry rejected by dispatcher", zap.Error(err))
		outcome = Outcome{Detail: detailFromError(err)}
	}

	at := s.now()
	if outcome.Success {
		return s.recordSuccess(ctx, logger, entry, outcome, at)
	}
	return s.recordFailure(ctx, logger, entry, outcome, at)
}

func (s *BatchScheduler) recordSuccess(
	ctx context.Context,
	logger *zap.Logger,
	entry *domain.NotificationEntry,
	outcome Outcome,
	at time.Time,
) entryResult {
	if err := entry.MarkSent(at); err != nil {
		logger.Error("failed to mark entry sent", zap.Error(err))
		return resultError
	}
	if err := s.store.Update(ctx, entry); err != nil {
		logger.Error("failed to persist delivered entry", zap.Error(err))
		return resultError
	}
	s.metrics.IncDeliverySent(entry.Kind.String())

	if !s.appendAudit(ctx, logger, entry.ID, domain.AuditOutcomeSuccess, outcome, at) {
		return resultError
	}
	return resultSent
}

func (s *BatchScheduler) recordFailure(
	ctx context.Context,
	logger *zap.Logger,
	entry *domain.NotificationEntry,
	outcome Outcome,
	at time.Time,
) entryResult {
	terminal, err := entry.MarkAttemptFailed(at)
	if err != nil {
		logger.Error("failed to record failed attempt", zap.Error(err))
		return resultError
	}
	if err := s.store.Update(ctx, entry); err != nil {
		logger.Error("failed to persist failed attempt", zap.Error(err))
		return resultError
	}

	auditOutcome, result := domain.AuditOutcomeRetryScheduled, resultRetryScheduled
	if terminal {
		auditOutcome, result = domain.AuditOutcomeFailure, resultFailed
		s.metrics.IncDeliveryFailed(entry.Kind.String())
		logger.Warn("entry exhausted its retry budget",
			zap.Int("retryCount", entry.RetryCount),
			zap.String("gatewayError", outcome.Detail.Error),
		)
	} else {
		s.metrics.IncRetryScheduled(entry.Kind.String())
		logger.Debug("delivery attempt failed, retry scheduled",
			zap.Int("retryCount", entry.RetryCount),
			zap.Int("maxRetries", entry.MaxRetries),
			zap.Bool("transient", outcome.Detail.Transient),
		)
	}

	if !s.appendAudit(ctx, logger, entry.ID, auditOutcome, outcome, at) {
		return resultError
	}
	return result
}

func (s *BatchScheduler) appendAudit(
	ctx context.Context,
	logger *zap.Logger,
	entryID string,
	auditOutcome domain.AuditOutcome,
	outcome Outcome,
	at time.Time,
) bool {
	rec := &domain.AuditRecord{
		EntryID:       entryID,
		Outcome:       auditOutcome,
		GatewayDetail: outcome.Detail.JSON(),
		RecordedAt:    at,
	}
	if err := s.store.AppendAudit(ctx, rec); err != nil {
		logger.Error("failed to append audit record", zap.String("outcome", auditOutcome.String()), zap.Error(err))
		return false
	}
	return true
}
