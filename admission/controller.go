package admission

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/interiorflow/internal/metrics"
	"github.com/BaSui01/interiorflow/types"
	"go.uber.org/zap"
)

// 拒绝原因
const (
	ReasonBlocked          = "blocked"
	ReasonQuotaExceeded    = "quota_exceeded"
	ReasonHighDemand       = "high_demand"
	ReasonUsageUnavailable = "usage_unavailable"
)

var reasonMessages = map[string]string{
	ReasonBlocked:          "daily generation limit reached, temporarily blocked",
	ReasonQuotaExceeded:    "daily generation limit reached",
	ReasonHighDemand:       "service is under high demand, please retry shortly",
	ReasonUsageUnavailable: "usage tracking unavailable, please retry shortly",
}

// Decision 准入决策结果
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Reason     string        `json:"reason,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Remaining  int           `json:"remaining"` // -1 表示不限
	Tier       Tier          `json:"tier"`
}

// Err returns nil when allowed, else an ADMISSION_REJECTED error.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return types.NewAdmissionError(reasonMessages[d.Reason], d.RetryAfter)
}

// Option 控制器选项
type Option func(*Controller)

// WithClock 替换时间源，测试使用
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller tracks per-identity daily usage and global throughput.
type Controller struct {
	cfg     Config
	store   UsageStore
	now     func() time.Time
	metrics *metrics.Collector
	logger  *zap.Logger

	mu         sync.Mutex
	records    map[string]*UsageRecord
	timestamps []time.Time // 已放行请求的时间，升序

	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

// NewController 创建准入控制器；store 为 nil 时只在内存计数
func NewController(cfg Config, store UsageStore, collector *metrics.Collector, logger *zap.Logger, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		cfg:     cfg,
		store:   store,
		now:     time.Now,
		metrics: collector,
		logger:  logger.With(zap.String("component", "admission")),
		records: make(map[string]*UsageRecord),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Check decides whether identity may start one generation now.
func (c *Controller) Check(ctx context.Context, identity string, tier Tier) Decision {
	if !tier.Valid() {
		tier = TierAnonymous
	}

	if err := c.ensureLoaded(ctx, identity); err != nil {
		d := Decision{Reason: ReasonUsageUnavailable, RetryAfter: time.Minute, Tier: tier}
		c.record(identity, d)
		return d
	}

	c.mu.Lock()
	now := c.now()
	rec := c.records[identity]
	if rec == nil {
		// 加载后被清理线程淘汰
		rec = &UsageRecord{Identity: identity, Day: now.UTC().Format(DayLayout), LastReset: now}
		c.records[identity] = rec
	}
	before := *rec
	d := c.decide(rec, tier, now)
	rec.LastTouched = now
	snapshot := *rec
	c.mu.Unlock()

	if snapshot.Count != before.Count || snapshot.Day != before.Day || !snapshot.BlockedUntil.Equal(before.BlockedUntil) {
		if err := c.store.Save(ctx, &snapshot); err != nil {
			c.metrics.RecordUsageStoreError("save")
			c.logger.Warn("usage save failed, continuing in memory",
				zap.String("identity", identity), zap.Error(err))
		}
	}
	c.record(identity, d)
	return d
}

// ensureLoaded loads the record outside the lock and inserts it unless a
// concurrent caller already did.
func (c *Controller) ensureLoaded(ctx context.Context, identity string) error {
	c.mu.Lock()
	_, ok := c.records[identity]
	now := c.now()
	c.mu.Unlock()
	if ok {
		return nil
	}

	day := now.UTC().Format(DayLayout)
	loaded, err := c.store.Load(ctx, identity, day)
	if err != nil {
		c.metrics.RecordUsageStoreError("load")
		if c.cfg.FailClosed {
			c.logger.Error("usage load failed, rejecting", zap.String("identity", identity), zap.Error(err))
			return err
		}
		c.logger.Warn("usage load failed, counting from zero", zap.String("identity", identity), zap.Error(err))
		loaded = nil
	}
	if loaded == nil {
		loaded = &UsageRecord{Identity: identity, Day: day, LastReset: now}
	}

	c.mu.Lock()
	if _, ok := c.records[identity]; !ok {
		c.records[identity] = loaded
	}
	c.mu.Unlock()
	return nil
}

// decide applies the admission steps to rec. Callers hold c.mu.
func (c *Controller) decide(rec *UsageRecord, tier Tier, now time.Time) Decision {
	limit := c.cfg.Limit(tier)
	d := Decision{Tier: tier, Remaining: remaining(limit, rec.Count)}

	if now.Before(rec.BlockedUntil) {
		d.Reason = ReasonBlocked
		d.RetryAfter = rec.BlockedUntil.Sub(now)
		return d
	}

	if day := now.UTC().Format(DayLayout); rec.Day != day {
		rec.Day = day
		rec.Count = 0
		rec.LastReset = now
		rec.BlockedUntil = time.Time{}
	}

	if limit > 0 && rec.Count >= limit {
		rec.BlockedUntil = now.Add(c.cfg.BlockDuration)
		d.Reason = ReasonQuotaExceeded
		d.RetryAfter = c.cfg.BlockDuration
		d.Remaining = 0
		return d
	}

	if wait, saturated := c.globalWait(now); saturated {
		d.Reason = ReasonHighDemand
		d.RetryAfter = wait
		d.Remaining = remaining(limit, rec.Count)
		return d
	}

	rec.Count++
	c.timestamps = append(c.timestamps, now)
	d.Allowed = true
	d.Remaining = remaining(limit, rec.Count)
	return d
}

// globalWait reports whether a global window is full and how long until its
// oldest entry leaves it. Callers hold c.mu.
func (c *Controller) globalWait(now time.Time) (time.Duration, bool) {
	var wait time.Duration
	saturated := false
	for _, w := range []struct {
		limit  int
		window time.Duration
	}{
		{c.cfg.GlobalPerMinute, time.Minute},
		{c.cfg.GlobalPerHour, time.Hour},
	} {
		if w.limit <= 0 {
			continue
		}
		cutoff := now.Add(-w.window)
		idx := sort.Search(len(c.timestamps), func(i int) bool { return c.timestamps[i].After(cutoff) })
		if len(c.timestamps)-idx < w.limit {
			continue
		}
		saturated = true
		// 窗口内第 (n-limit) 个时间戳离开后才有空位
		leave := c.timestamps[len(c.timestamps)-w.limit].Add(w.window).Sub(now)
		wait = max(wait, leave)
	}
	return wait, saturated
}

func remaining(limit, count int) int {
	if limit <= 0 {
		return -1
	}
	return max(0, limit-count)
}

func (c *Controller) record(identity string, d Decision) {
	reason := d.Reason
	if d.Allowed {
		reason = "ok"
	}
	c.metrics.RecordAdmission(string(d.Tier), d.Allowed, reason)
	if !d.Allowed {
		c.logger.Info("admission rejected",
			zap.String("identity", identity),
			zap.String("tier", string(d.Tier)),
			zap.String("reason", d.Reason),
			zap.Duration("retry_after", d.RetryAfter),
		)
	}
}

// Remaining reports the quota left today without consuming it; -1 means unlimited.
func (c *Controller) Remaining(ctx context.Context, identity string, tier Tier) (int, error) {
	limit := c.cfg.Limit(tier)
	if limit <= 0 {
		return -1, nil
	}
	day := c.now().UTC().Format(DayLayout)

	c.mu.Lock()
	rec, ok := c.records[identity]
	var count int
	if ok && rec.Day == day {
		count = rec.Count
	}
	c.mu.Unlock()
	if ok {
		return remaining(limit, count), nil
	}

	loaded, err := c.store.Load(ctx, identity, day)
	if err != nil {
		return 0, fmt.Errorf("remaining: %w", err)
	}
	if loaded != nil {
		count = loaded.Count
	}
	return remaining(limit, count), nil
}

// Snapshot returns a copy of the cached record for identity.
func (c *Controller) Snapshot(identity string) (UsageRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[identity]
	if !ok {
		return UsageRecord{}, false
	}
	return *rec, true
}

// Sweep evicts idle records and prunes timestamps outside the longest
// window, in a single lock acquisition. It returns the number evicted.
func (c *Controller) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	evicted := 0
	for id, rec := range c.records {
		if now.Sub(rec.LastTouched) > c.cfg.IdleEviction {
			delete(c.records, id)
			evicted++
		}
	}

	cutoff := now.Add(-c.cfg.longestWindow())
	idx := sort.Search(len(c.timestamps), func(i int) bool { return c.timestamps[i].After(cutoff) })
	if idx > 0 {
		c.timestamps = append(c.timestamps[:0], c.timestamps[idx:]...)
	}
	return evicted
}

// Start launches the background sweep. It is a no-op after the first call.
func (c *Controller) Start() {
	c.startOnce.Do(func() {
		go c.sweepLoop()
	})
}

func (c *Controller) sweepLoop() {
	defer close(c.done)
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Debug("usage records evicted", zap.Int("count", n))
			}
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.SweepInterval)
			if _, err := c.PurgeStore(ctx); err != nil {
				c.logger.Warn("usage purge failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// PurgeStore drops persisted records idle longer than IdleEviction when the
// store supports it. Stores without Purge rely on their own expiry (Redis TTL).
func (c *Controller) PurgeStore(ctx context.Context) (int64, error) {
	p, ok := c.store.(Purger)
	if !ok {
		return 0, nil
	}
	n, err := p.Purge(ctx, c.now().Add(-c.cfg.IdleEviction))
	if err != nil {
		c.metrics.RecordUsageStoreError("purge")
		return 0, err
	}
	if n > 0 {
		c.logger.Debug("persisted usage purged", zap.Int64("count", n))
	}
	return n, nil
}

// Close stops the background sweep and waits for it to exit.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
		started := true
		c.startOnce.Do(func() { started = false })
		if started {
			<-c.done
		}
	})
}

// Stats 返回缓存的记录数与窗口内时间戳数
func (c *Controller) Stats() (records, timestamps int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records), len(c.timestamps)
}
