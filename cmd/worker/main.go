// Package main is the worker process entrypoint. It boots in one of
// two roles selected by MODE: filler (database -> broker bridge) or
// consumer (broker -> generator -> database/storage).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/openlora/gpu-fleet/internal/adapter/blobstore/supabase"
	"github.com/openlora/gpu-fleet/internal/adapter/moderation/openai"
	"github.com/openlora/gpu-fleet/internal/adapter/observability"
	"github.com/openlora/gpu-fleet/internal/adapter/repo/postgres"
	"github.com/openlora/gpu-fleet/internal/adminhttp"
	"github.com/openlora/gpu-fleet/internal/broker/rabbitmq"
	"github.com/openlora/gpu-fleet/internal/config"
	"github.com/openlora/gpu-fleet/internal/consumer"
	"github.com/openlora/gpu-fleet/internal/dedup"
	"github.com/openlora/gpu-fleet/internal/domain"
	"github.com/openlora/gpu-fleet/internal/filler"
	"github.com/openlora/gpu-fleet/internal/plugincache"
	"github.com/openlora/gpu-fleet/internal/retry"

	"github.com/caarlos0/env/v10"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("starting worker", slog.String("mode", string(cfg.Mode)), slog.String("node_id", cfg.NodeID))

	pool, err := postgres.NewPool(ctx, cfg.PostgresDSN(), postgres.PoolConfig{
		MaxConns:        cfg.PostgresMaxConns,
		MaxConnIdleTime: cfg.PostgresMaxConnIdleTime,
	})
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	jobRepo := postgres.NewJobRepo(pool)

	var reconnectCfg retry.Config
	if err := env.Parse(&reconnectCfg); err != nil {
		slog.Error("reconnect config parse failed", slog.Any("error", err))
		os.Exit(1)
	}
	broker, err := rabbitmq.Dial(ctx, rabbitmq.Config{
		Host:         cfg.RabbitMQHost,
		DefaultUser:  cfg.RabbitMQDefaultUser,
		DefaultPass:  cfg.RabbitMQDefaultPass,
		DefaultVHost: cfg.RabbitMQDefaultVHost,
	}, reconnectCfg)
	if err != nil {
		slog.Error("broker connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := broker.Close(); err != nil {
			slog.Error("failed to close broker", slog.Any("error", err))
		}
	}()
	if err := broker.DeclareQueue(ctx, cfg.RabbitMQQueue); err != nil {
		slog.Error("queue declare failed", slog.Any("error", err))
		os.Exit(1)
	}

	brokerPinger := pingerFunc(func(ctx context.Context) error {
		_, err := broker.Depth(ctx, cfg.RabbitMQQueue)
		return err
	})
	go func() {
		adminServer := &http.Server{Addr: cfg.AdminAddr, Handler: adminhttp.BuildRouter(pool, brokerPinger)}
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("admin http server error", slog.Any("error", err))
		}
	}()

	switch cfg.Mode {
	case config.RoleFiller:
		runFiller(ctx, cfg, jobRepo, broker)
	case config.RoleConsumer:
		runConsumer(ctx, cfg, jobRepo, broker)
	}

	slog.Info("worker stopped")
}

func runFiller(ctx context.Context, cfg config.Config, jobRepo *postgres.JobRepo, broker *rabbitmq.Broker) {
	loop := filler.New(filler.Config{
		NodeID:              cfg.NodeID,
		Queue:               cfg.RabbitMQQueue,
		QueueSizeCeiling:    cfg.RabbitMQQueueSize,
		JobDiscardThreshold: cfg.JobDiscardThreshold,
		PollPeriod:          cfg.FillerPollPeriod,
		InterPublishPause:   cfg.FillerInterPublishPause,
	}, jobRepo, broker)
	loop.Run(ctx)
}

func runConsumer(ctx context.Context, cfg config.Config, jobRepo *postgres.JobRepo, broker *rabbitmq.Broker) {
	var dedupCache *dedup.Cache
	if cfg.IdempotencyCacheAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.IdempotencyCacheAddr})
		dedupCache = dedup.New(rdb)
	}

	blobs := supabase.New(cfg.SupabaseURL, cfg.SupabaseKey)
	moderator := openai.New(cfg.OpenAIKey)

	if err := plugincache.Warm(ctx, jobRepo, blobs, cfg.PluginCacheDir); err != nil {
		slog.Warn("plugin cache warm failed", slog.Any("error", err))
	}

	// Generator is the opaque GPU inference backend; this fleet has no
	// concrete adapter for it (see the design notes on external adapter
	// scope), so the consumer is wired with a stub that fails every job
	// until a real adapter is configured.
	loop := consumer.New(consumer.Config{
		NodeID:  cfg.NodeID,
		NodeGPU: cfg.NodeGPU,
		Queue:   cfg.RabbitMQQueue,
	}, jobRepo, unconfiguredGenerator{}, blobs, moderator, dedupCache)

	if err := broker.Subscribe(ctx, cfg.RabbitMQQueue, loop.Handle); err != nil && ctx.Err() == nil {
		slog.Error("consumer subscribe error", slog.Any("error", err))
	}
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// unconfiguredGenerator is the placeholder domain.Generator wired when
// no GPU inference backend is configured; every call fails the job
// rather than panicking the worker.
type unconfiguredGenerator struct{}

func (unconfiguredGenerator) Generate(context.Context, domain.GenerationRequest, int64) (domain.GeneratedImage, error) {
	return domain.GeneratedImage{}, fmt.Errorf("op=generator.generate: no generator backend configured: %w", domain.ErrInternal)
}
