package orchestrator

import (
	"context"
	"time"

	"github.com/BaSui01/interiorflow/admission"
	"github.com/BaSui01/interiorflow/conditioning"
	"github.com/BaSui01/interiorflow/engine"
	"github.com/BaSui01/interiorflow/internal/metrics"
	"github.com/BaSui01/interiorflow/prompt"
	"github.com/BaSui01/interiorflow/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/BaSui01/interiorflow/orchestrator"

// Admitter decides whether a caller may start a generation.
type Admitter interface {
	Check(ctx context.Context, identity string, tier admission.Tier) admission.Decision
}

// Generator runs a job through the engine chain.
type Generator interface {
	Generate(ctx context.Context, job *engine.Job) (*engine.GenerationResult, error)
	HealthReport(ctx context.Context) map[string]bool
}

// Orchestrator wires admission, conditioning, prompts and the engine chain.
type Orchestrator struct {
	admission Admitter
	generator Generator
	extractor *conditioning.Extractor
	defaults  engine.Defaults
	metrics   *metrics.Collector
	logger    *zap.Logger
	tracer    trace.Tracer
}

// New 创建编排门面；extractor 为 nil 时请求不携带条件图
func New(adm Admitter, gen Generator, ex *conditioning.Extractor, defaults engine.Defaults, collector *metrics.Collector, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		admission: adm,
		generator: gen,
		extractor: ex,
		defaults:  defaults,
		metrics:   collector,
		logger:    logger.With(zap.String("component", "orchestrator")),
		tracer:    otel.Tracer(instrumentationName),
	}
}

// Generate admits the caller and hands the request to the engine chain. The
// chain's result is returned as is; failures carry a *types.Error.
func (o *Orchestrator) Generate(ctx context.Context, identity string, meta admission.Metadata, req *engine.GenerationRequest) (*engine.GenerationResult, error) {
	start := time.Now()
	requestID, ok := types.RequestID(ctx)
	if !ok {
		requestID = uuid.NewString()
		ctx = types.WithRequestID(ctx, requestID)
	}
	tier := admission.TierFromMetadata(meta)

	ctx, span := o.tracer.Start(ctx, "interiorflow.generate",
		trace.WithAttributes(
			attribute.String("request.id", requestID),
			attribute.String("caller.tier", string(tier)),
		))
	defer span.End()

	log := o.logger.With(zap.String("request_id", requestID), zap.String("tier", string(tier)))
	fail := func(err error) (*engine.GenerationResult, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(types.GetErrorCode(err)))
		return engine.Failure("", "", requestID, err, time.Since(start)), err
	}

	if identity == "" {
		return fail(types.NewValidationError("caller identity is required"))
	}
	if req == nil {
		return fail(types.NewValidationError("request is nil"))
	}

	// 1. 准入
	if o.admission != nil {
		d := o.admission.Check(ctx, identity, tier)
		span.SetAttributes(attribute.Bool("admission.allowed", d.Allowed))
		if !d.Allowed {
			span.SetAttributes(attribute.String("admission.reason", d.Reason))
			return fail(d.Err())
		}
	}
	ctx = types.WithIdentity(ctx, identity)

	// 2. 条件图与提示词
	req = engine.ApplyDefaults(req, o.defaults)
	job := &engine.Job{
		Request:   req,
		Prompt:    prompt.Compose(req.StyleFields()),
		RequestID: requestID,
	}
	if o.extractor != nil {
		job.Conditioning = conditioning.NewLazy(o.extractor, req.Image, req.Resolution, o.observeConditioning(log))
	}

	// 3. 回退链
	res, err := o.generator.Generate(ctx, job)
	if res != nil && res.RequestID == "" {
		res.RequestID = requestID
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(types.GetErrorCode(err)))
		log.Warn("generation failed",
			zap.String("code", string(types.GetErrorCode(err))),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return res, err
	}

	span.SetAttributes(
		attribute.String("engine.name", res.Engine),
		attribute.Int("images", len(res.Images)),
	)
	span.SetStatus(codes.Ok, "")
	log.Info("generation completed",
		zap.String("engine", res.Engine),
		zap.Int("images", len(res.Images)),
		zap.Duration("elapsed", time.Since(start)))
	return res, nil
}

func (o *Orchestrator) observeConditioning(log *zap.Logger) conditioning.Observer {
	return func(m *conditioning.Map, err error, elapsed time.Duration) {
		if err != nil {
			code := types.GetErrorCode(err)
			if code == "" {
				code = types.ErrInternal
			}
			o.metrics.RecordConditioning(string(code), elapsed)
			log.Info("conditioning map rejected", zap.Duration("elapsed", elapsed), zap.Error(err))
			return
		}
		o.metrics.RecordConditioning("ok", elapsed)
		log.Debug("conditioning map computed",
			zap.Float64("edge_ratio", m.EdgeRatio),
			zap.Float64("low_threshold", m.LowThreshold),
			zap.Float64("high_threshold", m.HighThreshold),
			zap.Duration("elapsed", elapsed))
	}
}

// Health 返回每个引擎的健康探测结果
func (o *Orchestrator) Health(ctx context.Context) map[string]bool {
	return o.generator.HealthReport(ctx)
}
