// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。nil *Collector 的所有方法均为空操作。
type Collector struct {
	// 生成指标
	generationsTotal   *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	imagesTotal        *prometheus.CounterVec
	providerRetries    *prometheus.CounterVec
	engineHealthy      *prometheus.GaugeVec

	// 准入指标
	admissionTotal   *prometheus.CounterVec
	usageStoreErrors *prometheus.CounterVec

	// 条件图指标
	conditioningTotal    *prometheus.CounterVec
	conditioningDuration prometheus.Histogram

	// HTTP 指标（运维端口）
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器；reg 为 nil 时注册到 prometheus.DefaultRegisterer
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.generationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Engine generation attempts by outcome",
		},
		[]string{"engine", "outcome"},
	)

	c.generationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Engine generation duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"engine"},
	)

	c.imagesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generated_images_total",
			Help:      "Images produced per engine",
		},
		[]string{"engine"},
	)

	c.providerRetries = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_retries_total",
			Help:      "Same-engine retries of transient provider errors",
		},
		[]string{"engine"},
	)

	c.engineHealthy = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "engine_healthy",
			Help:      "Last health probe result per engine (1 healthy, 0 unhealthy)",
		},
		[]string{"engine"},
	)

	c.admissionTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_decisions_total",
			Help:      "Admission decisions by tier and reason",
		},
		[]string{"tier", "decision", "reason"},
	)

	c.usageStoreErrors = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_store_errors_total",
			Help:      "Usage store failures by operation",
		},
		[]string{"operation"},
	)

	c.conditioningTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conditioning_extractions_total",
			Help:      "Conditioning map extractions by outcome",
		},
		[]string{"outcome"},
	)

	c.conditioningDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conditioning_duration_seconds",
			Help:      "Conditioning map extraction duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
	)

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.logger.Debug("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// =============================================================================
// 🎨 生成指标记录
// =============================================================================

// RecordGeneration 记录一次引擎尝试；outcome 为 success / failure / invalid
func (c *Collector) RecordGeneration(engine, outcome string, images int, duration time.Duration) {
	if c == nil {
		return
	}
	c.generationsTotal.WithLabelValues(engine, outcome).Inc()
	c.generationDuration.WithLabelValues(engine).Observe(duration.Seconds())
	if images > 0 {
		c.imagesTotal.WithLabelValues(engine).Add(float64(images))
	}
}

// RecordRetry 记录同一引擎内的重试
func (c *Collector) RecordRetry(engine string) {
	if c == nil {
		return
	}
	c.providerRetries.WithLabelValues(engine).Inc()
}

// RecordEngineHealth 记录健康探测结果
func (c *Collector) RecordEngineHealth(engine string, healthy bool) {
	if c == nil {
		return
	}
	v := 0.0
	if healthy {
		v = 1
	}
	c.engineHealthy.WithLabelValues(engine).Set(v)
}

// =============================================================================
// 🚦 准入指标记录
// =============================================================================

// RecordAdmission 记录准入决策
func (c *Collector) RecordAdmission(tier string, allowed bool, reason string) {
	if c == nil {
		return
	}
	decision := "rejected"
	if allowed {
		decision = "allowed"
	}
	c.admissionTotal.WithLabelValues(tier, decision, reason).Inc()
}

// RecordUsageStoreError 记录用量存储失败
func (c *Collector) RecordUsageStoreError(operation string) {
	if c == nil {
		return
	}
	c.usageStoreErrors.WithLabelValues(operation).Inc()
}

// =============================================================================
// 🧱 条件图指标记录
// =============================================================================

// RecordConditioning 记录条件图提取
func (c *Collector) RecordConditioning(outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.conditioningTotal.WithLabelValues(outcome).Inc()
	c.conditioningDuration.Observe(duration.Seconds())
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return strconv.Itoa(code)
	}
}
