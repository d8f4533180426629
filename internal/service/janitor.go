package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/push-engine/internal/domain"
	"github.com/kursadbilgin/push-engine/internal/lease"
	"github.com/kursadbilgin/push-engine/internal/observability"
	"github.com/kursadbilgin/push-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	JanitorName = "janitor"

	defaultJanitorInterval = time.Hour
	defaultRetention       = 7 * 24 * time.Hour
)

type JanitorConfig struct {
	Interval     time.Duration
	Retention    time.Duration
	DrainTimeout time.Duration
}

// Janitor deletes delivered entries past retention. Failed entries are kept
// until PurgeFailed is invoked explicitly.
type Janitor struct {
	store   repository.QueueStore
	lease   lease.Lease
	logger  *zap.Logger
	metrics *observability.Metrics
	cfg     JanitorConfig
	now     func() time.Time
}

func NewJanitor(store repository.QueueStore, cfg JanitorConfig, logger *zap.Logger) (*Janitor, error) {
	if store == nil {
		return nil, fmt.Errorf("queue store is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultJanitorInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Janitor{
		store:  store,
		lease:  lease.Local{},
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
	}, nil
}

func (j *Janitor) SetLease(l lease.Lease) {
	if l != nil {
		j.lease = l
	}
}

func (j *Janitor) SetMetrics(metrics *observability.Metrics) {
	j.metrics = metrics
}

func (j *Janitor) Start(ctx context.Context) error {
	w := &periodicWorker{
		name:         JanitorName,
		interval:     j.cfg.Interval,
		drainTimeout: j.cfg.DrainTimeout,
		lease:        j.lease,
		logger:       j.logger,
		metrics:      j.metrics,
		tick: func(ctx context.Context) error {
			_, err := j.Tick(ctx)
			return err
		},
	}
	return w.run(ctx)
}

func (j *Janitor) Tick(ctx context.Context) (int64, error) {
	cutoff := j.now().Add(-j.cfg.Retention)
	deleted, err := j.store.DeleteDeliveredOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge delivered entries: %w", err)
	}

	j.metrics.AddEntriesPurged(domain.StateSent.String(), deleted)
	if deleted > 0 {
		j.logger.Info("purged delivered entries", zap.Int64("count", deleted), zap.Time("cutoff", cutoff))
	}
	return deleted, nil
}

// PurgeFailed deletes entries that failed more than olderThan ago.
func (j *Janitor) PurgeFailed(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("%w: purge age must be positive (got %s)", domain.ErrInvalidArgument, olderThan)
	}

	cutoff := j.now().Add(-olderThan)
	deleted, err := j.store.DeleteFailedOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge failed entries: %w", err)
	}

	j.metrics.AddEntriesPurged(domain.StateFailed.String(), deleted)
	j.logger.Info("purged failed entries", zap.Int64("count", deleted), zap.Time("cutoff", cutoff))
	return deleted, nil
}
