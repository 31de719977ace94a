package orchestrator

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/BaSui01/interiorflow/admission"
	"github.com/BaSui01/interiorflow/artifact"
	"github.com/BaSui01/interiorflow/conditioning"
	"github.com/BaSui01/interiorflow/engine"
	"github.com/BaSui01/interiorflow/internal/metrics"
	"github.com/BaSui01/interiorflow/selector"
	"github.com/BaSui01/interiorflow/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// bandsPNG 生成水平色带照片，提取出的条件图满足质量下限
func bandsPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 256, 256))
	for y := 0; y < 256; y++ {
		v := uint8(60)
		if (y/16)%2 == 1 {
			v = 190
		}
		for x := 0; x < 256; x++ {
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func whitePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 256, 256))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newRequest(t *testing.T) *engine.GenerationRequest {
	return &engine.GenerationRequest{
		Image:            bandsPNG(t),
		RoomType:         "living_room",
		FurnitureStyle:   "Scandinavian",
		WallColor:        "sage green",
		FlooringMaterial: "light oak",
		Resolution:       engine.Resolution{Width: 256, Height: 256},
	}
}

type fixture struct {
	orch      *Orchestrator
	backends  []*engine.DeterministicBackend
	admission *admission.Controller
	registry  *prometheus.Registry
}

func newFixture(t *testing.T, admCfg admission.Config, backends ...*engine.DeterministicBackend) *fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("orch_test", reg, zap.NewNop())
	store := artifact.NewMemoryStore(64)

	engines := make([]engine.Engine, len(backends))
	for i, b := range backends {
		engines[i] = engine.NewAdapter(b, store, engine.DefaultAdapterConfig(), collector, zap.NewNop())
	}
	sel, err := selector.New(engines, selector.DefaultConfig(), collector, zap.NewNop())
	require.NoError(t, err)

	adm, err := admission.NewController(admCfg, nil, collector, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(adm.Close)

	ex := conditioning.New(conditioning.DefaultConfig(), zap.NewNop())
	return &fixture{
		orch:      New(adm, sel, ex, engine.DefaultDefaults(), collector, zap.NewNop()),
		backends:  backends,
		admission: adm,
		registry:  reg,
	}
}

func (f *fixture) conditioningRuns(t *testing.T) float64 {
	t.Helper()
	families, err := f.registry.Gather()
	require.NoError(t, err)
	var n float64
	for _, fam := range families {
		if fam.GetName() == "orch_test_conditioning_extractions_total" {
			for _, m := range fam.GetMetric() {
				n += m.GetCounter().GetValue()
			}
		}
	}
	return n
}

var member = admission.Metadata{Authenticated: true}

// =============================================================================
// 🧪 准入
// =============================================================================

func TestGenerate_AdmissionRejectionTouchesNoEngine(t *testing.T) {
	cfg := admission.DefaultConfig()
	cfg.AuthenticatedDaily = 1
	b := engine.NewDeterministicBackend(engine.DeterministicConfig{Name: "a", Conditioning: true})
	f := newFixture(t, cfg, b)
	ctx := context.Background()

	res, err := f.orch.Generate(ctx, "user-1", member, newRequest(t))
	require.NoError(t, err)
	require.True(t, res.Success)
	validations, renders := b.Validations(), b.Renders()

	res, err = f.orch.Generate(ctx, "user-1", member, newRequest(t))
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrAdmissionRejected))
	assert.False(t, res.Success)
	assert.Equal(t, types.ErrAdmissionRejected, res.ErrorCode)
	assert.NotEmpty(t, res.RequestID)

	e, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, time.Hour, e.RetryAfter)

	assert.Equal(t, validations, b.Validations(), "rejected request must not reach validation")
	assert.Equal(t, renders, b.Renders())
	assert.Equal(t, 1.0, f.conditioningRuns(t))
}

func TestGenerate_AnonymousTierFromMetadata(t *testing.T) {
	cfg := admission.DefaultConfig()
	cfg.AnonymousDaily = 1
	cfg.AuthenticatedDaily = 5
	f := newFixture(t, cfg, engine.NewDeterministicBackend(engine.DeterministicConfig{Name: "a"}))
	ctx := context.Background()

	_, err := f.orch.Generate(ctx, "guest", admission.Metadata{}, newRequest(t))
	require.NoError(t, err)
	_, err = f.orch.Generate(ctx, "guest", admission.Metadata{}, newRequest(t))
	assert.True(t, types.IsErrorCode(err, types.ErrAdmissionRejected))

	_, err = f.orch.Generate(ctx, "member", member, newRequest(t))
	assert.NoError(t, err)
}

func TestGenerate_RequiresIdentity(t *testing.T) {
	b := engine.NewDeterministicBackend(engine.DeterministicConfig{Name: "a"})
	f := newFixture(t, admission.DefaultConfig(), b)

	res, err := f.orch.Generate(context.Background(), "", member, newRequest(t))
	assert.True(t, types.IsErrorCode(err, types.ErrValidation))
	assert.Equal(t, types.ErrValidation, res.ErrorCode)
	assert.Zero(t, b.Validations())

	_, err = f.orch.Generate(context.Background(), "user", member, nil)
	assert.True(t, types.IsErrorCode(err, types.ErrValidation))
}

// =============================================================================
// 🧱 条件图
// =============================================================================

func TestGenerate_ConditioningSkippedWithoutCapableEngine(t *testing.T) {
	b := engine.NewDeterministicBackend(engine.DeterministicConfig{Name: "plain"})
	f := newFixture(t, admission.DefaultConfig(), b)

	res, err := f.orch.Generate(context.Background(), "user", member, newRequest(t))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Zero(t, f.conditioningRuns(t))
}

func TestGenerate_ConditioningComputedOnceAcrossEngines(t *testing.T) {
	first := engine.NewDeterministicBackend(engine.DeterministicConfig{Name: "first", Conditioning: true, FailPermanent: true})
	second := engine.NewDeterministicBackend(engine.DeterministicConfig{Name: "second", Conditioning: true})
	f := newFixture(t, admission.DefaultConfig(), first, second)

	res, err := f.orch.Generate(context.Background(), "user", member, newRequest(t))
	require.NoError(t, err)
	assert.Equal(t, "second", res.Engine)
	assert.Equal(t, 1.0, f.conditioningRuns(t))
}

func TestGenerate_ConditioningQualityAborts(t *testing.T) {
	first := engine.NewDeterministicBackend(engine.DeterministicConfig{Name: "first", Conditioning: true})
	second := engine.NewDeterministicBackend(engine.DeterministicConfig{Name: "second"})
	f := newFixture(t, admission.DefaultConfig(), first, second)

	req := newRequest(t)
	req.Image = whitePNG(t)
	res, err := f.orch.Generate(context.Background(), "user", member, req)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrConditioningQuality))
	assert.False(t, res.Success)
	assert.Zero(t, second.Renders(), "a bad photo fails every engine the same way")
}

// =============================================================================
// 🎨 生成
// =============================================================================

type capturingGenerator struct {
	job    *engine.Job
	ctx    context.Context
	health map[string]bool
}

func (c *capturingGenerator) Generate(ctx context.Context, job *engine.Job) (*engine.GenerationResult, error) {
	c.ctx, c.job = ctx, job
	return &engine.GenerationResult{Success: true, Images: []string{"x"}, Engine: "fake"}, nil
}

func (c *capturingGenerator) HealthReport(context.Context) map[string]bool { return c.health }

func TestGenerate_BuildsJob(t *testing.T) {
	gen := &capturingGenerator{}
	o := New(nil, gen, nil, engine.DefaultDefaults(), nil, nil)

	req := newRequest(t)
	req.Resolution = engine.Resolution{}
	ctx := types.WithRequestID(context.Background(), "req-42")
	res, err := o.Generate(ctx, "user", member, req)
	require.NoError(t, err)

	require.NotNil(t, gen.job)
	assert.Equal(t, "req-42", gen.job.RequestID)
	assert.Equal(t, "req-42", res.RequestID)
	assert.Equal(t, 3, gen.job.Request.FanOut)
	assert.Equal(t, engine.Resolution{Width: 1024, Height: 768}, gen.job.Request.Resolution)
	assert.Contains(t, gen.job.Prompt.Positive, "scandinavian")
	assert.Contains(t, gen.job.Prompt.Positive, "living room")
	assert.NotEmpty(t, gen.job.Prompt.Negative)
	assert.Nil(t, gen.job.Conditioning, "no extractor configured")

	id, ok := types.Identity(gen.ctx)
	assert.True(t, ok)
	assert.Equal(t, "user", id)

	// 调用方的请求不被修改
	assert.Zero(t, req.FanOut)
	assert.Zero(t, req.Resolution.Width)
}

func TestGenerate_GeneratesRequestID(t *testing.T) {
	gen := &capturingGenerator{}
	o := New(nil, gen, nil, engine.DefaultDefaults(), nil, nil)

	r1, err := o.Generate(context.Background(), "user", member, newRequest(t))
	require.NoError(t, err)
	r2, err := o.Generate(context.Background(), "user", member, newRequest(t))
	require.NoError(t, err)
	assert.Len(t, r1.RequestID, 36)
	assert.NotEqual(t, r1.RequestID, r2.RequestID)
}

func TestGenerate_ExhaustedPassesThrough(t *testing.T) {
	b := engine.NewDeterministicBackend(engine.DeterministicConfig{Name: "a", FailPermanent: true})
	f := newFixture(t, admission.DefaultConfig(), b)

	res, err := f.orch.Generate(context.Background(), "user", member, newRequest(t))
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrEnginesExhausted))
	assert.Equal(t, types.ErrEnginesExhausted, res.ErrorCode)
	assert.NotEmpty(t, res.RequestID)
}

func TestHealth(t *testing.T) {
	healthy := engine.NewDeterministicBackend(engine.DeterministicConfig{Name: "up"})
	down := engine.NewDeterministicBackend(engine.DeterministicConfig{Name: "down", Unhealthy: true})
	f := newFixture(t, admission.DefaultConfig(), healthy, down)

	assert.Equal(t, map[string]bool{"up": true, "down": false}, f.orch.Health(context.Background()))
}
