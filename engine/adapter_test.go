package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/interiorflow/artifact"
	"github.com/BaSui01/interiorflow/conditioning"
	"github.com/BaSui01/interiorflow/internal/metrics"
	"github.com/BaSui01/interiorflow/retry"
	"github.com/BaSui01/interiorflow/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastAdapterConfig() AdapterConfig {
	cfg := DefaultAdapterConfig()
	cfg.Retry = &retry.RetryPolicy{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
	return cfg
}

func newTestAdapter(b Backend, cfg AdapterConfig) (*Adapter, *artifact.MemoryStore) {
	store := artifact.NewMemoryStore(64)
	return NewAdapter(b, store, cfg, nil, zap.NewNop()), store
}

type fixedSource struct {
	m     *conditioning.Map
	err   error
	calls atomic.Int32
}

func (s *fixedSource) Get(context.Context) (*conditioning.Map, error) {
	s.calls.Add(1)
	return s.m, s.err
}

type failingStore struct{}

func (failingStore) Put(context.Context, []byte, string) (string, error) {
	return "", errors.New("disk full")
}

func (failingStore) Get(context.Context, string) ([]byte, string, error) {
	return nil, "", artifact.ErrNotFound
}

// =============================================================================
// 🧪 扇出与结果顺序
// =============================================================================

func TestAdapter_FanOutBounds(t *testing.T) {
	for _, fan := range []int{1, 3, 5, 8} {
		a, store := newTestAdapter(NewDeterministicBackend(DeterministicConfig{}), fastAdapterConfig())
		req := testRequest(t)
		req.FanOut = fan

		res, err := a.GenerateVariations(context.Background(), testJob(req))
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Len(t, res.Images, fan)
		assert.Len(t, res.Seeds, fan)
		assert.Equal(t, fan, store.Len())
		for _, ref := range res.Images {
			assert.True(t, artifact.IsRef(ref), ref)
		}
	}
}

func TestAdapter_DefaultFanOut(t *testing.T) {
	a, _ := newTestAdapter(NewDeterministicBackend(DeterministicConfig{}), fastAdapterConfig())
	res, err := a.GenerateVariations(context.Background(), testJob(testRequest(t)))
	require.NoError(t, err)
	assert.Len(t, res.Images, 3)
}

func TestAdapter_PartialSuccessKeepsSeedOrder(t *testing.T) {
	seeds := []int64{11, 22, 33, 44}
	b := NewDeterministicBackend(DeterministicConfig{FailSeeds: []int64{22}})
	a, _ := newTestAdapter(b, fastAdapterConfig())
	req := testRequest(t)
	req.FanOut = 4
	req.Seeds = seeds

	res, err := a.GenerateVariations(context.Background(), testJob(req))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []int64{11, 33, 44}, res.Seeds)
	assert.Len(t, res.Images, 3)
	assert.Equal(t, "deterministic", res.Engine)
	assert.Equal(t, "req-test", res.RequestID)
}

func TestAdapter_AllVariationsFail(t *testing.T) {
	b := NewDeterministicBackend(DeterministicConfig{FailPermanent: true})
	a, _ := newTestAdapter(b, fastAdapterConfig())

	res, err := a.GenerateVariations(context.Background(), testJob(testRequest(t)))
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.Empty(t, res.Images)
	assert.Equal(t, types.ErrProviderPermanent, res.ErrorCode)
	assert.Equal(t, "image provider rejected the request", res.Error)
	// 永久错误不重试
	assert.Equal(t, int64(3), b.Renders())
}

// =============================================================================
// 🔁 重试
// =============================================================================

func TestAdapter_RetriesTransientFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("adapter_test", reg, zap.NewNop())
	b := NewDeterministicBackend(DeterministicConfig{TransientFailures: 2})
	a := NewAdapter(b, artifact.NewMemoryStore(8), fastAdapterConfig(), collector, zap.NewNop())
	req := testRequest(t)
	req.FanOut = 1

	res, err := a.GenerateVariations(context.Background(), testJob(req))
	require.NoError(t, err)
	assert.Len(t, res.Images, 1)
	assert.Equal(t, int64(3), b.Renders())
	assert.Equal(t, 2.0, counterSum(t, reg, "adapter_test_provider_retries_total"))
}

func TestDeterministicBackend_TransientScriptSpansRequests(t *testing.T) {
	b := NewDeterministicBackend(DeterministicConfig{TransientFailures: 1})
	job := testJob(testRequest(t))

	_, err := b.Render(context.Background(), job, 1)
	assert.True(t, types.IsErrorCode(err, types.ErrProviderTransient))
	_, err = b.Render(context.Background(), job, 1)
	require.NoError(t, err, "script is consumed by the first render")

	b.Reset()
	assert.Zero(t, b.Renders())
	_, err = b.Render(context.Background(), job, 1)
	assert.True(t, types.IsErrorCode(err, types.ErrProviderTransient))
}

func TestAdapter_TransientExhaustedReportsCause(t *testing.T) {
	b := NewDeterministicBackend(DeterministicConfig{TransientFailures: 100})
	a, _ := newTestAdapter(b, fastAdapterConfig())
	req := testRequest(t)
	req.FanOut = 1

	res, err := a.GenerateVariations(context.Background(), testJob(req))
	require.Error(t, err)
	assert.Equal(t, types.ErrProviderTransient, res.ErrorCode)
	assert.Equal(t, int64(3), b.Renders())
}

func counterSum(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	var sum float64
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			sum += m.GetCounter().GetValue()
		}
	}
	return sum
}

// =============================================================================
// 🎲 种子可复现
// =============================================================================

func TestAdapter_ExplicitSeedsReproducible(t *testing.T) {
	req := testRequest(t)
	req.Seeds = []int64{1234, 5678}
	req.FanOut = 2

	a1, _ := newTestAdapter(NewDeterministicBackend(DeterministicConfig{}), fastAdapterConfig())
	a2, _ := newTestAdapter(NewDeterministicBackend(DeterministicConfig{}), fastAdapterConfig())

	r1, err := a1.GenerateVariations(context.Background(), testJob(req))
	require.NoError(t, err)
	r2, err := a2.GenerateVariations(context.Background(), testJob(req))
	require.NoError(t, err)

	assert.Equal(t, r1.Images, r2.Images)
	assert.Equal(t, []int64{1234, 5678}, r1.Seeds)
	assert.NotEqual(t, r1.Images[0], r1.Images[1])
}

func TestAdapter_DeterministicSeedFlag(t *testing.T) {
	cfg := fastAdapterConfig()
	cfg.DeterministicSeed = true
	req := testRequest(t)

	a, _ := newTestAdapter(NewDeterministicBackend(DeterministicConfig{}), cfg)
	r1, err := a.GenerateVariations(context.Background(), testJob(req))
	require.NoError(t, err)
	r2, err := a.GenerateVariations(context.Background(), testJob(req))
	require.NoError(t, err)
	assert.Equal(t, r1.Seeds, r2.Seeds)
	assert.Equal(t, r1.Images, r2.Images)
}

// =============================================================================
// ⛔ 取消与条件图
// =============================================================================

func TestAdapter_CanceledReturnsNoImages(t *testing.T) {
	a, _ := newTestAdapter(NewDeterministicBackend(DeterministicConfig{}), fastAdapterConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := a.GenerateVariations(ctx, testJob(testRequest(t)))
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrCanceled))
	assert.False(t, res.Success)
	assert.Empty(t, res.Images)
}

func TestAdapter_ConditioningErrorStopsBeforeRender(t *testing.T) {
	b := NewDeterministicBackend(DeterministicConfig{Conditioning: true})
	a, _ := newTestAdapter(b, fastAdapterConfig())
	src := &fixedSource{err: types.NewError(types.ErrConditioningQuality, "too noisy")}
	job := testJob(testRequest(t))
	job.Conditioning = src

	res, err := a.GenerateVariations(context.Background(), job)
	require.Error(t, err)
	assert.Equal(t, types.ErrConditioningQuality, res.ErrorCode)
	assert.Equal(t, int64(0), b.Renders())
}

func TestAdapter_ConditioningIgnoredWithoutCapability(t *testing.T) {
	a, _ := newTestAdapter(NewDeterministicBackend(DeterministicConfig{}), fastAdapterConfig())
	src := &fixedSource{err: errors.New("should not be called")}
	job := testJob(testRequest(t))
	job.Conditioning = src

	res, err := a.GenerateVariations(context.Background(), job)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int32(0), src.calls.Load())
}

func TestAdapter_StoreFailureIsInternal(t *testing.T) {
	a := NewAdapter(NewDeterministicBackend(DeterministicConfig{}), failingStore{}, fastAdapterConfig(), nil, zap.NewNop())
	res, err := a.GenerateVariations(context.Background(), testJob(testRequest(t)))
	require.Error(t, err)
	assert.Equal(t, types.ErrInternal, res.ErrorCode)
}

func TestAdapter_NilJob(t *testing.T) {
	a, _ := newTestAdapter(NewDeterministicBackend(DeterministicConfig{}), fastAdapterConfig())
	_, err := a.GenerateVariations(context.Background(), &Job{})
	assert.True(t, types.IsErrorCode(err, types.ErrValidation))
}

func TestAdapter_ValidateAndHealth(t *testing.T) {
	ok, _ := newTestAdapter(NewDeterministicBackend(DeterministicConfig{}), fastAdapterConfig())
	assert.NoError(t, ok.Validate(testRequest(t)))
	assert.True(t, ok.HealthCheck(context.Background()))

	bad := testRequest(t)
	bad.Image = nil
	assert.True(t, types.IsErrorCode(ok.Validate(bad), types.ErrValidation))

	scripted := NewDeterministicBackend(DeterministicConfig{FailValidation: true, Unhealthy: true})
	a, _ := newTestAdapter(scripted, fastAdapterConfig())
	assert.True(t, types.IsErrorCode(a.Validate(testRequest(t)), types.ErrValidation))
	assert.False(t, a.HealthCheck(context.Background()))
	assert.Equal(t, int64(1), scripted.Validations())
}

func TestAdapter_ValidateSeedsAgainstDefaultFanOut(t *testing.T) {
	a, _ := newTestAdapter(NewDeterministicBackend(DeterministicConfig{}), fastAdapterConfig())

	req := testRequest(t)
	req.FanOut = 0
	req.Seeds = []int64{1, 2, 3, 4, 5}
	err := a.Validate(req)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrValidation))
	assert.Contains(t, err.Error(), "5 seeds supplied for fan-out 3")

	req.Seeds = []int64{1, 2, 3}
	assert.NoError(t, a.Validate(req))

	req.FanOut = 5
	req.Seeds = []int64{1, 2, 3, 4, 5}
	assert.NoError(t, a.Validate(req))
}
