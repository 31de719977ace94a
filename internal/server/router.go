package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/interiorflow/admission"
	"github.com/BaSui01/interiorflow/internal/metrics"
	"github.com/BaSui01/interiorflow/selector"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// HealthReporter 报告每个引擎是否可用
type HealthReporter interface {
	Health(ctx context.Context) map[string]bool
}

// Pinger 外部依赖探测（Redis、数据库）
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatsReporter 引擎调用计数快照
type StatsReporter interface {
	Stats() map[string]selector.EngineStats
}

// QuotaReporter 查询调用方当日剩余额度（不消耗）
type QuotaReporter interface {
	Remaining(ctx context.Context, identity string, tier admission.Tier) (int, error)
}

// Deps 路由依赖；除 Gatherer 外都可为空
type Deps struct {
	Engines      HealthReporter
	EngineStats  StatsReporter
	Quota        QuotaReporter
	Dependencies map[string]Pinger
	Gatherer     prometheus.Gatherer
	Collector    *metrics.Collector
	Logger       *zap.Logger
	Version      string
	ProbeTimeout time.Duration
}

// NewRouter builds the ops handler: /healthz, /readyz, /metrics, /version,
// /debug/engines and /debug/quota/{identity}.
func NewRouter(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if deps.ProbeTimeout <= 0 {
		deps.ProbeTimeout = 3 * time.Second
	}
	h := &handlers{deps: deps, logger: deps.Logger.With(zap.String("component", "ops_router"))}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, h.observe)

	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)
	r.Get("/version", h.version)
	r.Get("/debug/engines", h.engineStats)
	r.Get("/debug/quota/{identity}", h.quota)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(h.logger),
	}))
	return r
}

type handlers struct {
	deps   Deps
	logger *zap.Logger
}

// observe 记录 HTTP 指标；路径使用路由模板以限制标签基数
func (h *handlers) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		h.deps.Collector.RecordHTTPRequest(r.Method, route, status, elapsed)
		h.logger.Debug("ops request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed),
		)
	})
}

func (h *handlers) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readinessReport /readyz 响应体
type readinessReport struct {
	Status       string            `json:"status"`
	Engines      map[string]bool   `json:"engines,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// readyz is ready when every dependency answers and at least one engine is
// healthy.
func (h *handlers) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.deps.ProbeTimeout)
	defer cancel()

	report := readinessReport{Status: "ready"}
	ready := true

	if len(h.deps.Dependencies) > 0 {
		report.Dependencies = h.probeDependencies(ctx)
		for _, state := range report.Dependencies {
			if state != "ok" {
				ready = false
			}
		}
	}

	if h.deps.Engines != nil {
		report.Engines = h.deps.Engines.Health(ctx)
		anyUp := false
		for _, up := range report.Engines {
			anyUp = anyUp || up
		}
		if !anyUp {
			ready = false
		}
	}

	status := http.StatusOK
	if !ready {
		report.Status = "not_ready"
		status = http.StatusServiceUnavailable
		h.logger.Warn("readiness check failed",
			zap.Any("engines", report.Engines),
			zap.Any("dependencies", report.Dependencies),
		)
	}
	writeJSON(w, status, report)
}

func (h *handlers) probeDependencies(ctx context.Context) map[string]string {
	names := make([]string, 0, len(h.deps.Dependencies))
	for name := range h.deps.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(map[string]string, len(names))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string, p Pinger) {
			defer wg.Done()
			state := "ok"
			if err := p.Ping(ctx); err != nil {
				state = err.Error()
			}
			mu.Lock()
			results[name] = state
			mu.Unlock()
		}(name, h.deps.Dependencies[name])
	}
	wg.Wait()
	return results
}

func (h *handlers) version(w http.ResponseWriter, _ *http.Request) {
	v := h.deps.Version
	if v == "" {
		v = "dev"
	}
	writeJSON(w, http.StatusOK, map[string]string{"version": v})
}

func (h *handlers) engineStats(w http.ResponseWriter, _ *http.Request) {
	if h.deps.EngineStats == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "engine stats unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, h.deps.EngineStats.Stats())
}

// quotaReport /debug/quota 响应体；-1 表示不限
type quotaReport struct {
	Identity  string         `json:"identity"`
	Remaining map[string]int `json:"remaining"`
}

// quota reports remaining quota for one tier (?tier=) or every tier.
func (h *handlers) quota(w http.ResponseWriter, r *http.Request) {
	if h.deps.Quota == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "quota unavailable"})
		return
	}
	identity := chi.URLParam(r, "identity")
	tiers := admission.Tiers()
	if raw := r.URL.Query().Get("tier"); raw != "" {
		tier, err := admission.ParseTier(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		tiers = []admission.Tier{tier}
	}

	report := quotaReport{Identity: identity, Remaining: make(map[string]int, len(tiers))}
	for _, tier := range tiers {
		n, err := h.deps.Quota.Remaining(r.Context(), identity, tier)
		if err != nil {
			h.logger.Warn("quota lookup failed", zap.String("identity", identity), zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "usage store unavailable"})
			return
		}
		report.Remaining[string(tier)] = n
	}
	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
