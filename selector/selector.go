package selector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/BaSui01/interiorflow/engine"
	"github.com/BaSui01/interiorflow/internal/metrics"
	"github.com/BaSui01/interiorflow/types"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config 回退链配置
type Config struct {
	MaxAttempts   int           `json:"max_attempts" yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	HealthTimeout time.Duration `json:"health_timeout" yaml:"health_timeout" env:"HEALTH_TIMEOUT"`
}

// DefaultConfig 返回默认配置：最多尝试 3 个引擎
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		HealthTimeout: 5 * time.Second,
	}
}

// abortCodes are request properties; another engine would fail the same way.
var abortCodes = map[types.ErrorCode]bool{
	types.ErrConditioningQuality: true,
	types.ErrImageDecode:         true,
	types.ErrCanceled:            true,
}

// EngineStats 单个引擎的计数快照
type EngineStats struct {
	Attempts    int64 `json:"attempts"`
	Generations int64 `json:"generations"`
	Failures    int64 `json:"failures"`
	Invalid     int64 `json:"invalid"`
}

type counters struct {
	attempts    atomic.Int64
	generations atomic.Int64
	failures    atomic.Int64
	invalid     atomic.Int64
}

// Selector walks an ordered engine list.
type Selector struct {
	engines  []engine.Engine
	names    []string
	counters map[string]*counters
	cfg      Config
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// New 创建回退链；engines 的顺序即尝试顺序，名称必须唯一
func New(engines []engine.Engine, cfg Config, collector *metrics.Collector, logger *zap.Logger) (*Selector, error) {
	if len(engines) == 0 {
		return nil, errors.New("selector: no engines configured")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = DefaultConfig().HealthTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Selector{
		engines:  engines,
		names:    make([]string, len(engines)),
		counters: make(map[string]*counters, len(engines)),
		cfg:      cfg,
		metrics:  collector,
		logger:   logger.With(zap.String("component", "selector")),
	}
	for i, e := range engines {
		name := e.Describe().Name
		if _, dup := s.counters[name]; dup {
			return nil, fmt.Errorf("selector: duplicate engine name %q", name)
		}
		s.names[i] = name
		s.counters[name] = &counters{}
	}
	return s, nil
}

// Generate tries engines in order until one produces at least one image.
func (s *Selector) Generate(ctx context.Context, job *engine.Job) (*engine.GenerationResult, error) {
	start := time.Now()
	if job == nil || job.Request == nil {
		err := types.NewValidationError("job has no request")
		return engine.Failure("", "", "", err, 0), err
	}
	fail := func(err error) (*engine.GenerationResult, error) {
		return engine.Failure("", "", job.RequestID, err, time.Since(start)), err
	}

	attempts := min(s.cfg.MaxAttempts, len(s.engines))
	var lastErr error
	allInvalid := true

	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return fail(types.NewError(types.ErrCanceled, "request canceled").WithCause(err))
		}
		e, name := s.engines[i], s.names[i]
		c := s.counters[name]
		c.attempts.Inc()
		log := s.logger.With(zap.String("engine", name), zap.String("request_id", job.RequestID), zap.Int("attempt", i+1))

		if err := e.Validate(job.Request); err != nil {
			c.invalid.Inc()
			s.metrics.RecordGeneration(name, "invalid", 0, 0)
			log.Info("engine rejected request", zap.Error(err))
			lastErr = err
			continue
		}
		allInvalid = false

		attemptStart := time.Now()
		res, err := e.GenerateVariations(ctx, job)
		elapsed := time.Since(attemptStart)
		if err == nil && res != nil && res.Success {
			c.generations.Inc()
			s.metrics.RecordGeneration(name, "success", len(res.Images), elapsed)
			log.Info("generation succeeded", zap.Int("images", len(res.Images)), zap.Duration("elapsed", elapsed))
			return res, nil
		}
		if err == nil {
			err = types.NewError(types.ErrInternal, "engine returned no images")
		}
		c.failures.Inc()
		s.metrics.RecordGeneration(name, "failure", 0, elapsed)

		if abortCodes[types.GetErrorCode(err)] {
			log.Info("generation aborted", zap.Error(err))
			if res == nil {
				return fail(err)
			}
			return res, err
		}
		log.Warn("engine failed, falling back", zap.Error(err))
		lastErr = err
	}

	if allInvalid {
		err := types.NewValidationError("no engine accepted the request: %s", types.PublicMessage(lastErr)).WithCause(lastErr)
		return fail(err)
	}
	s.logger.Error("engines exhausted",
		zap.String("request_id", job.RequestID),
		zap.Int("attempts", attempts),
		zap.Error(lastErr),
	)
	return fail(types.NewError(types.ErrEnginesExhausted, "all generation engines failed").
		WithHTTPStatus(http.StatusBadGateway).
		WithCause(lastErr))
}

// HealthReport probes every engine concurrently. It never fails.
func (s *Selector) HealthReport(ctx context.Context) map[string]bool {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.HealthTimeout)
	defer cancel()

	results := make([]bool, len(s.engines))
	var g errgroup.Group
	for i, e := range s.engines {
		g.Go(func() error {
			results[i] = e.HealthCheck(ctx)
			s.metrics.RecordEngineHealth(s.names[i], results[i])
			return nil
		})
	}
	_ = g.Wait()

	report := make(map[string]bool, len(s.engines))
	for i, name := range s.names {
		report[name] = results[i]
	}
	return report
}

// Stats returns a snapshot of the per-engine counters.
func (s *Selector) Stats() map[string]EngineStats {
	out := make(map[string]EngineStats, len(s.counters))
	for name, c := range s.counters {
		out[name] = EngineStats{
			Attempts:    c.attempts.Load(),
			Generations: c.generations.Load(),
			Failures:    c.failures.Load(),
			Invalid:     c.invalid.Load(),
		}
	}
	return out
}

// Engines 返回按尝试顺序排列的引擎描述
func (s *Selector) Engines() []engine.Descriptor {
	out := make([]engine.Descriptor, len(s.engines))
	for i, e := range s.engines {
		out[i] = e.Describe()
	}
	return out
}
