package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/push-engine/internal/lease"
	"github.com/kursadbilgin/push-engine/internal/observability"
	"github.com/kursadbilgin/push-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	RetryManagerName = "retry-manager"

	defaultRetryInterval = 5 * time.Minute
	defaultRetryBackoff  = 5 * time.Minute
	defaultRearmPageSize = 500
)

type RetryManagerConfig struct {
	Interval     time.Duration
	Backoff      time.Duration
	PageSize     int
	DrainTimeout time.Duration
}

// RetryManager makes failed entries eligible again once their backoff has
// elapsed. It is the only writer of scheduled_at after creation.
type RetryManager struct {
	store   repository.QueueStore
	lease   lease.Lease
	logger  *zap.Logger
	metrics *observability.Metrics
	cfg     RetryManagerConfig
	now     func() time.Time
}

func NewRetryManager(store repository.QueueStore, cfg RetryManagerConfig, logger *zap.Logger) (*RetryManager, error) {
	if store == nil {
		return nil, fmt.Errorf("queue store is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultRetryInterval
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultRetryBackoff
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultRearmPageSize
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryManager{
		store:  store,
		lease:  lease.Local{},
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
	}, nil
}

func (m *RetryManager) SetLease(l lease.Lease) {
	if l != nil {
		m.lease = l
	}
}

func (m *RetryManager) SetMetrics(metrics *observability.Metrics) {
	m.metrics = metrics
}

func (m *RetryManager) Start(ctx context.Context) error {
	w := &periodicWorker{
		name:         RetryManagerName,
		interval:     m.cfg.Interval,
		drainTimeout: m.cfg.DrainTimeout,
		lease:        m.lease,
		logger:       m.logger,
		metrics:      m.metrics,
		tick: func(ctx context.Context) error {
			_, err := m.Tick(ctx)
			return err
		},
	}
	return w.run(ctx)
}

// Tick re-arms every entry whose last failed attempt is older than the
// backoff and returns how many were re-armed.
func (m *RetryManager) Tick(ctx context.Context) (int, error) {
	now := m.now()
	cutoff := now.Add(-m.cfg.Backoff)

	total := 0
	for {
		page, err := m.store.SelectStaleRetries(ctx, m.cfg.PageSize, cutoff)
		if err != nil {
			return total, fmt.Errorf("failed to select stale retries: %w", err)
		}

		rearmed := 0
		for i := range page {
			entry := page[i]
			ok, err := m.store.Rearm(ctx, entry.ID, now)
			if err != nil {
				m.logger.Error("failed to re-arm entry", zap.String("entryId", entry.ID), zap.Error(err))
				continue
			}
			if !ok {
				m.logger.Debug("entry left pending state before re-arm", zap.String("entryId", entry.ID))
				continue
			}
			rearmed++
		}
		total += rearmed
		m.metrics.AddEntriesRearmed(rearmed)

		// Re-armed rows drop out of the stale set, so a full page means more may remain.
		// A page with no progress would be selected again; stop instead of spinning.
		if len(page) < m.cfg.PageSize || rearmed == 0 {
			break
		}
	}

	if total > 0 {
		m.logger.Info("entries re-armed for dispatch", zap.Int("count", total))
	}
	return total, nil
}
