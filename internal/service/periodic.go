package service

import (
	"context"
	"time"

	"github.com/kursadbilgin/push-engine/internal/lease"
	"github.com/kursadbilgin/push-engine/internal/observability"
	"go.uber.org/zap"
)

const (
	defaultDrainTimeout = 30 * time.Second
	// leaseReleaseTimeout bounds the release call, which runs even after the
	// tick context has been canceled.
	leaseReleaseTimeout = 5 * time.Second
)

// periodicWorker runs tick once at start and then on every interval until
// ctx is canceled. A tick in progress when ctx ends keeps running on a
// detached context for at most drainTimeout.
type periodicWorker struct {
	name         string
	interval     time.Duration
	drainTimeout time.Duration
	lease        lease.Lease
	logger       *zap.Logger
	metrics      *observability.Metrics
	tick         func(ctx context.Context) error
}

func (w *periodicWorker) run(ctx context.Context) error {
	w.logger.Info("worker started", zap.String("worker", w.name), zap.Duration("interval", w.interval))
	defer w.logger.Info("worker stopped", zap.String("worker", w.name))

	w.runTick(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// A tick and a cancellation may race; never start new work once ctx is done.
			if ctx.Err() != nil {
				return nil
			}
			w.runTick(ctx)
		}
	}
}

func (w *periodicWorker) runTick(parent context.Context) {
	ctx, cancel := detachWithGrace(parent, w.drainTimeout)
	defer cancel()
	ctx = observability.WithWorker(ctx, w.name)

	acquired, err := w.lease.Acquire(ctx, w.name, w.interval+w.drainTimeout)
	if err != nil {
		w.logger.Warn("failed to acquire tick lease, skipping tick", zap.String("worker", w.name), zap.Error(err))
		return
	}
	if !acquired {
		w.logger.Debug("tick lease held by another replica", zap.String("worker", w.name))
		return
	}
	defer w.releaseLease(ctx)

	start := time.Now()
	err = w.tick(ctx)
	w.metrics.ObserveTick(w.name, time.Since(start), err)
	if err != nil {
		w.logger.Error("tick failed", zap.String("worker", w.name), zap.Error(err))
	}
}

func (w *periodicWorker) releaseLease(tickCtx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(tickCtx), leaseReleaseTimeout)
	defer cancel()

	if err := w.lease.Release(ctx, w.name); err != nil {
		w.logger.Warn("failed to release tick lease", zap.String("worker", w.name), zap.Error(err))
	}
}

// detachWithGrace returns a context that survives parent's cancellation for
// up to grace before it is canceled too.
func detachWithGrace(parent context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	stop := context.AfterFunc(parent, func() {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-timer.C:
			cancel()
		case <-ctx.Done():
		}
	})

	return ctx, func() {
		stop()
		cancel()
	}
}
