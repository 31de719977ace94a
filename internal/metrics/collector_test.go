package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

func newTestCollector() *Collector {
	return NewCollector(nextTestNamespace(), prometheus.NewRegistry(), zap.NewNop())
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestCollector_RecordGeneration(t *testing.T) {
	c := newTestCollector()

	c.RecordGeneration("flux", "success", 3, 2*time.Second)
	c.RecordGeneration("flux", "failure", 0, time.Second)
	c.RecordGeneration("local", "success", 2, 100*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.generationsTotal.WithLabelValues("flux", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.generationsTotal.WithLabelValues("flux", "failure")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.imagesTotal.WithLabelValues("flux")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.imagesTotal.WithLabelValues("local")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.generationDuration))
}

func TestCollector_RecordAdmission(t *testing.T) {
	c := newTestCollector()

	c.RecordAdmission("anonymous", true, "ok")
	c.RecordAdmission("anonymous", false, "daily_limit")
	c.RecordAdmission("anonymous", false, "daily_limit")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.admissionTotal.WithLabelValues("anonymous", "rejected", "daily_limit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.admissionTotal.WithLabelValues("anonymous", "allowed", "ok")))
}

func TestCollector_EngineHealthAndRetries(t *testing.T) {
	c := newTestCollector()

	c.RecordEngineHealth("gemini", true)
	c.RecordEngineHealth("flux", false)
	c.RecordRetry("flux")
	c.RecordUsageStoreError("load")
	c.RecordConditioning("ok", 40*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.engineHealthy.WithLabelValues("gemini")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.engineHealthy.WithLabelValues("flux")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.providerRetries.WithLabelValues("flux")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.usageStoreErrors.WithLabelValues("load")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.conditioningTotal.WithLabelValues("ok")))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordGeneration("x", "success", 1, time.Second)
		c.RecordAdmission("x", true, "ok")
		c.RecordConditioning("ok", time.Second)
		c.RecordHTTPRequest("GET", "/", 200, time.Second)
	})
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	c := newTestCollector()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordHTTPRequest("GET", "/healthz", 200, 10*time.Millisecond)
			c.RecordGeneration("local", "success", 1, time.Millisecond)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("GET", "/healthz", "2xx")))
	assert.Equal(t, 10.0, testutil.ToFloat64(c.generationsTotal.WithLabelValues("local", "success")))
}

func TestCollector_RegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("iflow", reg, nil)
	c.RecordGeneration("local", "success", 1, time.Millisecond)

	families, err := reg.Gather()
	assert.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "iflow_generations_total")
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, "2xx", statusCode(204))
	assert.Equal(t, "4xx", statusCode(429))
	assert.Equal(t, "5xx", statusCode(503))
	assert.Equal(t, "100", statusCode(100))
}
