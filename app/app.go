// Package app wires configuration into the running service: store, size
// policy, pipeline, dispatcher, trigger sources and the ops server, all
// managed by one runtime.
package app

import (
	"context"
	"fmt"

	redis "github.com/go-redis/redis/v8"
	"github.com/leeforge/imageresize/config"
	apperrors "github.com/leeforge/imageresize/errors"
	"github.com/leeforge/imageresize/http/ops"
	"github.com/leeforge/imageresize/logging"
	"github.com/leeforge/imageresize/media/category"
	"github.com/leeforge/imageresize/media/dispatch"
	"github.com/leeforge/imageresize/media/pipeline"
	"github.com/leeforge/imageresize/media/processor"
	"github.com/leeforge/imageresize/media/size"
	"github.com/leeforge/imageresize/media/source"
	"github.com/leeforge/imageresize/media/storage"
	"github.com/leeforge/imageresize/media/writer"
	"github.com/leeforge/imageresize/metrics"
	"github.com/leeforge/imageresize/redis_client"
	"github.com/leeforge/imageresize/runtime"
	"go.uber.org/zap"
)

const redisClientService = "redis.client"

type App struct {
	Config     *config.AppConfig
	Logger     logging.Logger
	Metrics    *metrics.Collector
	Store      storage.Store
	Registry   *category.Registry
	Pipeline   *pipeline.Pipeline
	Dispatcher *dispatch.Dispatcher
	Runtime    *runtime.Runtime
	HTTP       *ops.Server
}

// New builds every component and registers the long-lived ones with the
// runtime. Nothing runs until Start.
func New(ctx context.Context, cfg *config.AppConfig, logger logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.Global()
	}
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.NewCollector(),
	}

	policy := size.FromConfig(cfg.Sizes, logger)
	registry, err := category.NewRegistry(cfg.Categories, policy)
	if err != nil {
		return nil, err
	}
	a.Registry = registry

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	a.Store = store

	a.Pipeline = pipeline.New(
		processor.NewNativeProcessor(cfg.Pipeline.JPEGQuality),
		writer.New(store, logger, a.Metrics),
		pipeline.WithParallelism(cfg.Pipeline.Parallelism),
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(a.Metrics),
	)

	a.Runtime = runtime.NewRuntime(runtime.Config{
		Logger:      logger,
		EventBuffer: cfg.Dispatch.BufferSize,
	})
	a.Dispatcher = dispatch.New(registry, store, a.Pipeline, a.Runtime.Bus(),
		dispatch.WithWorkers(cfg.Dispatch.Workers),
		dispatch.WithLogger(logger),
		dispatch.WithMetrics(a.Metrics),
	)

	if err := a.registerServices(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) registerServices(ctx context.Context) error {
	cfg := a.Config
	services := []runtime.Service{a.Dispatcher}

	if cfg.Scan.IsEnabled() {
		services = append(services, source.NewScanner(a.Store, a.Registry, a.Runtime, cfg.Scan.Interval, a.Logger, a.Metrics))
	}

	if cfg.Watch.Enabled {
		local, ok := a.Store.(*storage.LocalStore)
		if !ok {
			return apperrors.NewConfig(fmt.Sprintf("watch needs the local store, got %s", a.Store.Name()))
		}
		services = append(services, source.NewWatcher(local, a.Registry, a.Runtime, cfg.Watch.Debounce, a.Logger, a.Metrics))
	}

	if cfg.Redis.Enabled {
		client, err := redis_client.NewRedis(ctx, cfg.Redis.Config, a.Logger)
		if err != nil {
			return err
		}
		services = append(services,
			redisCloser(client),
			source.NewRedisSource(client, cfg.Redis, a.Runtime, a.Logger, a.Metrics).DependsOn(redisClientService),
		)
	}

	if cfg.HTTP.IsEnabled() {
		a.HTTP = ops.NewServer(cfg.HTTP.Addr, a.Runtime, a.Metrics, a.Logger)
		services = append(services, a.HTTP)
	}

	for _, s := range services {
		if err := a.Runtime.Register(s); err != nil {
			return err
		}
	}
	return nil
}

// redisClientOwner closes the shared client after the stream source stopped.
type redisClientOwner struct {
	runtime.ServiceFunc
	client *redis.Client
}

func (r *redisClientOwner) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func redisCloser(client *redis.Client) runtime.Service {
	return &redisClientOwner{
		ServiceFunc: runtime.ServiceFunc{
			ServiceName: redisClientService,
			OnStop:      func(context.Context) error { return client.Close() },
		},
		client: client,
	}
}

func (a *App) Start(ctx context.Context) error {
	if err := a.Runtime.Start(ctx); err != nil {
		return err
	}
	a.Logger.Info("image resize service started",
		zap.String("store", a.Store.Name()),
		zap.Strings("services", a.Runtime.BootOrder()))
	return nil
}

// Shutdown stops the sources, drains pending triggers and stops the rest.
func (a *App) Shutdown(ctx context.Context) error {
	return a.Runtime.Shutdown(ctx)
}

// Process runs one original synchronously, bypassing the event bus. data may
// be nil to read the original from the store.
func (a *App) Process(ctx context.Context, path string, data []byte) error {
	return a.Dispatcher.Handle(ctx, dispatch.Trigger{Path: path, Source: "cli", Data: data})
}
