// Package factory builds the ordered engine list from configuration. It
// lives outside engine so that engine never depends on config.
package factory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/BaSui01/interiorflow/artifact"
	"github.com/BaSui01/interiorflow/config"
	"github.com/BaSui01/interiorflow/engine"
	"github.com/BaSui01/interiorflow/internal/metrics"
	"github.com/BaSui01/interiorflow/internal/pool"
	"go.uber.org/zap"
)

// ErrMissingCredentials 托管引擎未配置 API Key
var ErrMissingCredentials = errors.New("missing credentials")

// Deps 构建引擎所需的共享依赖
type Deps struct {
	Store     artifact.Store
	Collector *metrics.Collector
	Logger    *zap.Logger
	// HTTPClient 供托管后端使用；nil 时使用加固的默认客户端
	HTTPClient *http.Client
}

// Engines 构建结果。Close 释放本地合成的工作池。
type Engines struct {
	List    []engine.Engine
	Skipped []string
	workers *pool.WorkerPool
}

// Close 关闭构建时创建的资源
func (e *Engines) Close() {
	if e.workers != nil {
		e.workers.Close()
	}
}

// Build wraps every engine named in cfg.Engines.Order in an Adapter, in
// order. Hosted engines without credentials are skipped; an empty result is
// an error.
func Build(ctx context.Context, cfg *config.Config, deps Deps) (*Engines, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	log := deps.Logger.With(zap.String("component", "engine_factory"))
	adapterCfg := cfg.Generation.AdapterConfig()

	out := &Engines{}
	for _, name := range cfg.Engines.Order {
		name = strings.ToLower(strings.TrimSpace(name))
		backend, err := out.newBackend(ctx, name, cfg.Engines, deps)
		if errors.Is(err, ErrMissingCredentials) {
			log.Warn("engine skipped", zap.String("engine", name), zap.Error(err))
			out.Skipped = append(out.Skipped, name)
			continue
		}
		if err != nil {
			out.Close()
			return nil, fmt.Errorf("build engine %q: %w", name, err)
		}
		out.List = append(out.List, engine.NewAdapter(backend, deps.Store, adapterCfg, deps.Collector, deps.Logger))
		log.Info("engine ready",
			zap.String("engine", backend.Descriptor().Name),
			zap.String("model", backend.Descriptor().Model))
	}

	if len(out.List) == 0 {
		out.Close()
		return nil, fmt.Errorf("no usable engine in order %v (skipped: %v)", cfg.Engines.Order, out.Skipped)
	}
	return out, nil
}

func (e *Engines) newBackend(ctx context.Context, name string, cfg config.EnginesConfig, deps Deps) (engine.Backend, error) {
	switch name {
	case config.EngineFlux:
		c := cfg.Flux
		c.Schema = engine.SchemaFlux
		return newHosted(c, deps.HTTPClient)

	case config.EngineStability:
		c := cfg.Stability
		c.Schema = engine.SchemaStability
		return newHosted(c, deps.HTTPClient)

	case config.EngineGemini:
		if cfg.Gemini.APIKey == "" {
			return nil, ErrMissingCredentials
		}
		client, err := engine.NewGeminiClient(ctx, cfg.Gemini.APIKey)
		if err != nil {
			return nil, err
		}
		return engine.NewGeminiBackend(cfg.Gemini, client.Models), nil

	case config.EngineOpenAI:
		if cfg.OpenAI.APIKey == "" {
			return nil, ErrMissingCredentials
		}
		return engine.NewOpenAIBackend(cfg.OpenAI, engine.NewOpenAIClient(cfg.OpenAI)), nil

	case config.EngineLocal:
		if e.workers == nil {
			e.workers = pool.NewWorkerPool(cfg.LocalWorkers)
		}
		return engine.NewLocalBackend(cfg.Local, e.workers), nil

	case config.EngineDeterministic:
		return engine.NewDeterministicBackend(cfg.Deterministic), nil

	default:
		return nil, fmt.Errorf("unknown engine %q", name)
	}
}

func newHosted(c engine.HostedConfig, client *http.Client) (engine.Backend, error) {
	if c.APIKey == "" {
		return nil, ErrMissingCredentials
	}
	return engine.NewHostedBackend(c, client)
}
