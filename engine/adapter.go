package engine

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/interiorflow/artifact"
	"github.com/BaSui01/interiorflow/internal/metrics"
	"github.com/BaSui01/interiorflow/retry"
	"github.com/BaSui01/interiorflow/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// AdapterConfig 适配层配置
type AdapterConfig struct {
	Limits            Limits             `json:"limits" yaml:"limits"`
	DefaultFanOut     int                `json:"default_fan_out" yaml:"default_fan_out"`
	Concurrency       int                `json:"concurrency" yaml:"concurrency"` // 单请求内并发渲染数
	DeterministicSeed bool               `json:"deterministic_seed" yaml:"deterministic_seed"`
	Retry             *retry.RetryPolicy `json:"retry" yaml:"retry"`
}

// DefaultAdapterConfig 返回默认适配层配置
func DefaultAdapterConfig() AdapterConfig {
	return AdapterConfig{
		Limits:        DefaultLimits(),
		DefaultFanOut: 3,
		Concurrency:   3,
		Retry:         retry.DefaultRetryPolicy(),
	}
}

// Adapter implements Engine on top of a Backend.
type Adapter struct {
	backend Backend
	store   artifact.Store
	cfg     AdapterConfig
	retryer retry.Retryer
	metrics *metrics.Collector
	logger  *zap.Logger
}

var _ Engine = (*Adapter)(nil)

// NewAdapter wraps backend. store receives rendered bytes; collector may be nil.
func NewAdapter(backend Backend, store artifact.Store, cfg AdapterConfig, collector *metrics.Collector, logger *zap.Logger) *Adapter {
	if cfg.DefaultFanOut <= 0 {
		cfg.DefaultFanOut = 3
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = cfg.DefaultFanOut
	}
	if cfg.Limits.MaxFanOut == 0 {
		cfg.Limits = DefaultLimits()
	}
	if store == nil {
		store = artifact.NewMemoryStore(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	name := backend.Descriptor().Name
	logger = logger.With(zap.String("component", "engine"), zap.String("engine", name))

	policy := retry.DefaultRetryPolicy()
	if cfg.Retry != nil {
		p := *cfg.Retry
		policy = &p
	}
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		collector.RecordRetry(name)
	}

	return &Adapter{
		backend: backend,
		store:   store,
		cfg:     cfg,
		retryer: retry.NewBackoffRetryer(policy, logger),
		metrics: collector,
		logger:  logger,
	}
}

// Backend returns the wrapped backend.
func (a *Adapter) Backend() Backend { return a.backend }

// Describe implements Engine.
func (a *Adapter) Describe() Descriptor { return a.backend.Descriptor() }

// Validate implements Engine.
func (a *Adapter) Validate(req *GenerationRequest) error {
	if err := a.cfg.Limits.Validate(req); err != nil {
		return err
	}
	// fan-out 为 0 时按本引擎默认值展开，多余的种子会被丢弃
	if fan := a.fanOut(req); len(req.Seeds) > fan {
		return types.NewValidationError("%d seeds supplied for fan-out %d", len(req.Seeds), fan)
	}
	return a.backend.Supports(req)
}

func (a *Adapter) fanOut(req *GenerationRequest) int {
	if req.FanOut > 0 {
		return req.FanOut
	}
	return a.cfg.DefaultFanOut
}

// HealthCheck implements Engine. A failed probe is logged and reported, never fatal.
func (a *Adapter) HealthCheck(ctx context.Context) bool {
	if err := a.backend.Ping(ctx); err != nil {
		a.logger.Warn("health check failed", zap.Error(err))
		return false
	}
	return true
}

// GenerateVariations implements Engine.
func (a *Adapter) GenerateVariations(ctx context.Context, job *Job) (*GenerationResult, error) {
	start := time.Now()
	desc := a.backend.Descriptor()
	var requestID string
	if job != nil {
		requestID = job.RequestID
	}
	fail := func(err error) (*GenerationResult, error) {
		return Failure(desc.Name, desc.Model, requestID, err, time.Since(start)), err
	}

	if job == nil || job.Request == nil {
		return fail(types.NewValidationError("job has no request"))
	}
	req := job.Request

	// Surface conditioning errors once, before any provider call.
	if desc.Capabilities.Conditioning && job.Conditioning != nil {
		if _, err := job.Conditioning.Get(ctx); err != nil {
			return fail(err)
		}
	}

	fanOut := a.fanOut(req)
	seeds := PlanSeeds(req, fanOut, a.cfg.DeterministicSeed)

	refs := make([]string, fanOut)
	used := make([]int64, fanOut)
	errs := make([]error, fanOut)

	var g errgroup.Group
	g.SetLimit(min(a.cfg.Concurrency, fanOut))
	for i, seed := range seeds {
		g.Go(func() error {
			refs[i], used[i], errs[i] = a.renderOne(ctx, job, seed)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		a.logger.Info("generation canceled", zap.String("request_id", job.RequestID), zap.Error(err))
		return fail(types.NewError(types.ErrCanceled, "request canceled").WithCause(err))
	}

	result := &GenerationResult{
		Engine:    desc.Name,
		Model:     desc.Model,
		RequestID: job.RequestID,
	}
	var firstErr error
	for i := range seeds {
		if errs[i] != nil {
			if firstErr == nil {
				firstErr = errs[i]
			}
			a.logger.Warn("variation failed",
				zap.String("request_id", job.RequestID),
				zap.Int64("seed", seeds[i]),
				zap.Error(errs[i]),
			)
			continue
		}
		result.Images = append(result.Images, refs[i])
		result.Seeds = append(result.Seeds, used[i])
	}
	result.Duration = time.Since(start)

	if len(result.Images) == 0 {
		return fail(firstErr)
	}
	result.Success = true
	a.logger.Debug("variations generated",
		zap.String("request_id", job.RequestID),
		zap.Int("images", len(result.Images)),
		zap.Int("fan_out", fanOut),
		zap.Duration("elapsed", result.Duration),
	)
	return result, nil
}

// renderOne renders and stores one variation, retrying transient failures.
func (a *Adapter) renderOne(ctx context.Context, job *Job, seed int64) (string, int64, error) {
	name := a.backend.Descriptor().Name
	art, err := retry.DoWithResultTyped(a.retryer, ctx, func() (*Artifact, error) {
		art, err := a.backend.Render(ctx, job, seed)
		return art, ClassifyError(ctx, err, name)
	})
	if err != nil {
		var ex *retry.ExhaustedError
		if errors.As(err, &ex) {
			err = ex.Err
		}
		return "", 0, ClassifyError(ctx, err, name)
	}
	if art == nil || (len(art.Data) == 0 && art.URL == "") {
		return "", 0, malformed(name, "empty image", nil)
	}

	used := seed
	if art.Seed != 0 {
		used = art.Seed
	}
	if len(art.Data) == 0 {
		return art.URL, used, nil
	}
	ref, err := a.store.Put(ctx, art.Data, art.MIME)
	if err != nil {
		return "", 0, types.NewError(types.ErrInternal, "artifact upload failed").WithCause(err)
	}
	return ref, used, nil
}
