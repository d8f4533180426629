package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/kursadbilgin/push-engine/internal/config"
	"github.com/kursadbilgin/push-engine/internal/gateway"
	"github.com/kursadbilgin/push-engine/internal/handler"
	infraredis "github.com/kursadbilgin/push-engine/internal/infra/redis"
	"github.com/kursadbilgin/push-engine/internal/observability"
	"github.com/kursadbilgin/push-engine/internal/queue"
	"github.com/kursadbilgin/push-engine/internal/service"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the delivery workers and the ops HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if err := cfg.RequireGateway(); err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("queue store initialization failed", zap.Error(err))
		return err
	}
	defer closeStore()

	metrics := observability.NewMetrics()

	gw, err := gateway.NewHTTPClient(cfg.GatewayURL, cfg.GatewayTimeout)
	if err != nil {
		return fmt.Errorf("gateway client initialization failed: %w", err)
	}
	dispatcher, err := service.NewDispatcher(gw, cfg.GatewayTimeout)
	if err != nil {
		return err
	}
	dispatcher.SetMetrics(metrics)

	scheduler, err := service.NewBatchScheduler(store, dispatcher, service.BatchSchedulerConfig{
		Interval:     cfg.BatchInterval,
		BatchSize:    cfg.BatchSize,
		PoolSize:     cfg.WorkerPoolSize,
		DrainTimeout: cfg.ShutdownTimeout,
	}, logger.Named(service.BatchSchedulerName))
	if err != nil {
		return err
	}
	retryManager, err := service.NewRetryManager(store, service.RetryManagerConfig{
		Interval:     cfg.RetryInterval,
		Backoff:      cfg.RetryBackoff,
		DrainTimeout: cfg.ShutdownTimeout,
	}, logger.Named(service.RetryManagerName))
	if err != nil {
		return err
	}
	janitor, err := service.NewJanitor(store, service.JanitorConfig{
		Interval:     cfg.JanitorInterval,
		Retention:    cfg.Retention,
		DrainTimeout: cfg.ShutdownTimeout,
	}, logger.Named(service.JanitorName))
	if err != nil {
		return err
	}
	scheduler.SetMetrics(metrics)
	retryManager.SetMetrics(metrics)
	janitor.SetMetrics(metrics)

	var rdb goredis.UniversalClient
	if cfg.RedisURL != "" {
		client, err := infraredis.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("redis initialization failed", zap.Error(err))
			return err
		}
		defer client.Close()
		rdb = client

		if err := wireRedis(client, cfg, scheduler, retryManager, janitor); err != nil {
			return err
		}
		logger.Info("redis rate limiting and tick leases enabled",
			zap.Int("rateLimitPerSec", cfg.GatewayRateLimitPerSec),
		)
	}

	var (
		consumer queue.Consumer
		ingress  queue.MessageHandler
	)
	if cfg.RabbitMQURL != "" {
		consumer, err = newIngressConsumer(cfg, logger)
		if err != nil {
			return err
		}
		defer consumer.Close() //nolint:errcheck

		producer, err := service.NewProducer(store, logger.Named("producer"))
		if err != nil {
			return err
		}
		ingress = queue.NewEnqueueHandler(producer, logger.Named("ingress"))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return scheduler.Start(gctx) })
	g.Go(func() error { return retryManager.Start(gctx) })
	g.Go(func() error { return janitor.Start(gctx) })
	if consumer != nil {
		g.Go(func() error { return consumer.Consume(gctx, cfg.IngressQueue, ingress) })
		logger.Info("enqueue ingress consumer started", zap.String("queue", cfg.IngressQueue))
	}

	ops := handler.NewOpsApp(logger.Named("ops"), metrics, store, rdb)
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.OpsPort)
		logger.Info("ops server listening", zap.String("addr", addr))
		return ops.Listen(addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		return ops.ShutdownWithTimeout(cfg.ShutdownTimeout)
	})

	logger.Info("pushengine started",
		zap.String("storeDriver", cfg.StoreDriver),
		zap.Duration("batchInterval", cfg.BatchInterval),
		zap.Int("batchSize", cfg.BatchSize),
		zap.Int("poolSize", cfg.WorkerPoolSize),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("pushengine stopped with error", zap.Error(err))
		return err
	}
	logger.Info("pushengine stopped")
	return nil
}

func wireRedis(
	client goredis.UniversalClient,
	cfg *config.Config,
	scheduler *service.BatchScheduler,
	retryManager *service.RetryManager,
	janitor *service.Janitor,
) error {
	limiter, err := infraredis.NewRedisRateLimiter(client, cfg.GatewayRateLimitPerSec)
	if err != nil {
		return fmt.Errorf("rate limiter initialization failed: %w", err)
	}
	tickLease, err := infraredis.NewTickLease(client)
	if err != nil {
		return fmt.Errorf("tick lease initialization failed: %w", err)
	}

	scheduler.SetRateLimiter(limiter)
	scheduler.SetLease(tickLease)
	retryManager.SetLease(tickLease)
	janitor.SetLease(tickLease)
	return nil
}

func newIngressConsumer(cfg *config.Config, logger *zap.Logger) (queue.Consumer, error) {
	rmq, err := queue.NewRabbitMQ(cfg.RabbitMQURL, cfg.IngressQueue)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	return queue.NewRabbitMQConsumer(rmq, cfg.IngressPrefetch, logger.Named("ingress")), nil
}
