package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/BaSui01/interiorflow/admission"
	"github.com/BaSui01/interiorflow/artifact"
	"github.com/BaSui01/interiorflow/conditioning"
	"github.com/BaSui01/interiorflow/config"
	"github.com/BaSui01/interiorflow/engine/factory"
	"github.com/BaSui01/interiorflow/internal/cache"
	"github.com/BaSui01/interiorflow/internal/database"
	"github.com/BaSui01/interiorflow/internal/metrics"
	"github.com/BaSui01/interiorflow/internal/server"
	"github.com/BaSui01/interiorflow/orchestrator"
	"github.com/BaSui01/interiorflow/selector"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

const metricsNamespace = "interiorflow"

// =============================================================================
// 🧩 组件装配
// =============================================================================

// App 持有一次进程生命周期内的全部组件
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	Registry  *prometheus.Registry
	Collector *metrics.Collector

	cache *cache.Manager
	db    *database.PoolManager

	Artifacts    artifact.Store
	Admission    *admission.Controller
	Extractor    *conditioning.Extractor
	engines      *factory.Engines
	Selector     *selector.Selector
	Orchestrator *orchestrator.Orchestrator
}

// newApp wires storage, engines and the orchestrator from cfg. On error
// every resource opened so far is released.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *App, err error) {
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Collector = metrics.NewCollector(metricsNamespace, a.Registry, logger)

	if cfg.UsesRedis() {
		if a.cache, err = cache.NewManager(ctx, cacheConfig(cfg.Redis), logger); err != nil {
			return nil, err
		}
	}
	if cfg.Storage.Usage == config.BackendDatabase {
		if a.db, err = database.Open(ctx, cfg.Database, logger); err != nil {
			return nil, err
		}
	}

	a.Artifacts = a.artifactStore()
	usage, err := a.usageStore()
	if err != nil {
		return nil, err
	}
	if a.Admission, err = admission.NewController(cfg.Admission, usage, a.Collector, logger); err != nil {
		return nil, fmt.Errorf("admission: %w", err)
	}

	a.Extractor = conditioning.New(cfg.Conditioning, logger)

	a.engines, err = factory.Build(ctx, cfg, factory.Deps{
		Store:     a.Artifacts,
		Collector: a.Collector,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	if a.Selector, err = selector.New(a.engines.List, cfg.Selector, a.Collector, logger); err != nil {
		return nil, fmt.Errorf("selector: %w", err)
	}

	a.Orchestrator = orchestrator.New(a.Admission, a.Selector, a.Extractor,
		cfg.Generation.Defaults(), a.Collector, logger)

	logger.Info("components ready",
		zap.Int("engines", len(a.engines.List)),
		zap.Strings("skipped", a.engines.Skipped),
		zap.String("usage_store", cfg.Storage.Usage),
		zap.String("artifact_store", cfg.Storage.Artifacts),
	)
	return a, nil
}

func (a *App) artifactStore() artifact.Store {
	if a.cfg.Storage.Artifacts == config.BackendRedis {
		return artifact.NewRedisStore(a.cache.Client(), a.cfg.Storage.ArtifactKeyPrefix, a.cfg.Storage.ArtifactTTL, a.logger)
	}
	return artifact.NewMemoryStore(a.cfg.Storage.ArtifactMaxEntries)
}

func (a *App) usageStore() (admission.UsageStore, error) {
	switch a.cfg.Storage.Usage {
	case config.BackendRedis:
		return admission.NewRedisStore(a.cache.Client(), a.cfg.Storage.UsageKeyPrefix, a.cfg.Storage.UsageTTL), nil
	case config.BackendDatabase:
		store, err := admission.NewGormStore(a.db.DB())
		if err != nil {
			return nil, fmt.Errorf("usage store: %w", err)
		}
		return store, nil
	case config.BackendMemory, "":
		return admission.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown usage store %q", a.cfg.Storage.Usage)
	}
}

// OpsHandler 运维端口路由
func (a *App) OpsHandler(version string) http.Handler {
	deps := server.Deps{
		Engines:      a.Orchestrator,
		EngineStats:  a.Selector,
		Quota:        a.Admission,
		Dependencies: map[string]server.Pinger{},
		Gatherer:     a.Registry,
		Collector:    a.Collector,
		Logger:       a.logger,
		Version:      version,
	}
	if a.cache != nil {
		deps.Dependencies["redis"] = a.cache
	}
	if a.db != nil {
		deps.Dependencies["database"] = a.db
	}
	return server.NewRouter(deps)
}

// Close 按依赖倒序释放资源；可重复调用
func (a *App) Close() error {
	var errs []error
	if a.Admission != nil {
		a.Admission.Close()
		a.Admission = nil
	}
	if a.engines != nil {
		a.engines.Close()
		a.engines = nil
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
		a.db = nil
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
		a.cache = nil
	}
	return errors.Join(errs...)
}

func cacheConfig(rc config.RedisConfig) cache.Config {
	c := cache.DefaultConfig()
	c.Addr = rc.Addr
	c.Password = rc.Password
	c.DB = rc.DB
	c.TLS = rc.TLS
	if rc.PoolSize > 0 {
		c.PoolSize = rc.PoolSize
	}
	if rc.MinIdleConns > 0 {
		c.MinIdleConns = rc.MinIdleConns
	}
	if rc.HealthCheckInterval > 0 {
		c.HealthCheckInterval = rc.HealthCheckInterval
	}
	return c
}
