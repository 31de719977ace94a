package admission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/interiorflow/internal/metrics"
	"github.com/BaSui01/interiorflow/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

// fakeClock 可手动推进的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.AnonymousDaily = 2
	cfg.AuthenticatedDaily = 5
	cfg.GlobalPerMinute = 0
	cfg.GlobalPerHour = 0
	return cfg
}

func newTestController(t *testing.T, cfg Config, store UsageStore) (*Controller, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	c, err := NewController(cfg, store, nil, zap.NewNop(), WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, clock
}

// =============================================================================
// 🧪 日限额与封禁
// =============================================================================

func TestController_ExactBlockWindow(t *testing.T) {
	c, clock := newTestController(t, testConfig(), nil)
	ctx := context.Background()

	d := c.Check(ctx, "alice", TierAnonymous)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
	assert.True(t, c.Check(ctx, "alice", TierAnonymous).Allowed)

	d = c.Check(ctx, "alice", TierAnonymous)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonQuotaExceeded, d.Reason)
	assert.Equal(t, time.Hour, d.RetryAfter)
	blockedAt := clock.Now()

	clock.Advance(time.Hour - time.Second)
	d = c.Check(ctx, "alice", TierAnonymous)
	assert.Equal(t, ReasonBlocked, d.Reason)
	assert.Equal(t, time.Second, d.RetryAfter)

	rec, ok := c.Snapshot("alice")
	require.True(t, ok)
	assert.Equal(t, blockedAt.Add(time.Hour), rec.BlockedUntil)
	assert.Equal(t, 2, rec.Count)

	// 封禁到期但仍在同一天：额度依旧用尽，重新封禁
	clock.Advance(time.Second)
	d = c.Check(ctx, "alice", TierAnonymous)
	assert.Equal(t, ReasonQuotaExceeded, d.Reason)

	// 第二天：计数清零
	clock.Advance(24 * time.Hour)
	d = c.Check(ctx, "alice", TierAnonymous)
	assert.True(t, d.Allowed)
	rec, _ = c.Snapshot("alice")
	assert.Equal(t, 1, rec.Count)
	assert.Equal(t, "2025-03-02", rec.Day)
	assert.True(t, rec.BlockedUntil.IsZero())
}

func TestController_DayRolloverWithoutBlock(t *testing.T) {
	c, clock := newTestController(t, testConfig(), nil)
	ctx := context.Background()

	c.Check(ctx, "bob", TierAnonymous)
	clock.Advance(14 * time.Hour) // 2025-03-02 00:00 UTC
	c.Check(ctx, "bob", TierAnonymous)
	rec, _ := c.Snapshot("bob")
	assert.Equal(t, 1, rec.Count)
	assert.Equal(t, clock.Now(), rec.LastReset)
}

func TestController_TierLimits(t *testing.T) {
	c, _ := newTestController(t, testConfig(), nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.True(t, c.Check(ctx, "carol", TierAuthenticated).Allowed, "call %d", i)
	}
	assert.False(t, c.Check(ctx, "carol", TierAuthenticated).Allowed)

	// admin 不限额
	for i := 0; i < 100; i++ {
		d := c.Check(ctx, "root", TierAdmin)
		require.True(t, d.Allowed)
		assert.Equal(t, -1, d.Remaining)
	}
}

func TestController_UnknownTierIsAnonymous(t *testing.T) {
	c, _ := newTestController(t, testConfig(), nil)
	d := c.Check(context.Background(), "x", Tier("platinum"))
	assert.Equal(t, TierAnonymous, d.Tier)
}

// =============================================================================
// 🌐 全局限流
// =============================================================================

func TestController_GlobalThrottleDoesNotChargeQuota(t *testing.T) {
	cfg := testConfig()
	cfg.GlobalPerMinute = 2
	c, clock := newTestController(t, cfg, nil)
	ctx := context.Background()

	assert.True(t, c.Check(ctx, "a", TierAuthenticated).Allowed)
	clock.Advance(10 * time.Second)
	assert.True(t, c.Check(ctx, "b", TierAuthenticated).Allowed)

	d := c.Check(ctx, "c", TierAuthenticated)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonHighDemand, d.Reason)
	assert.Equal(t, 50*time.Second, d.RetryAfter, "time until the oldest entry leaves the minute window")
	assert.Equal(t, 5, d.Remaining)

	rec, _ := c.Snapshot("c")
	assert.Equal(t, 0, rec.Count, "throttled request must not consume quota")

	clock.Advance(50 * time.Second)
	assert.True(t, c.Check(ctx, "c", TierAuthenticated).Allowed)
}

func TestController_HourWindow(t *testing.T) {
	cfg := testConfig()
	cfg.AuthenticatedDaily = 0
	cfg.GlobalPerHour = 3
	c, clock := newTestController(t, cfg, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.True(t, c.Check(ctx, "u", TierAuthenticated).Allowed)
		clock.Advance(10 * time.Minute)
	}
	d := c.Check(ctx, "u", TierAuthenticated)
	assert.Equal(t, ReasonHighDemand, d.Reason)
	assert.Equal(t, 30*time.Minute, d.RetryAfter)
}

// 任意请求序列：每个调用方的计数恰好等于其被放行的次数
func TestProperty_ThrottleNeverCharges(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		cfg := DefaultConfig()
		cfg.AnonymousDaily = rapid.IntRange(1, 5).Draw(rt, "daily")
		cfg.GlobalPerMinute = rapid.IntRange(1, 4).Draw(rt, "perMinute")
		cfg.GlobalPerHour = rapid.IntRange(0, 10).Draw(rt, "perHour")
		clock := newFakeClock()
		c, err := NewController(cfg, nil, nil, zap.NewNop(), WithClock(clock.Now))
		if err != nil {
			rt.Fatal(err)
		}

		allowed := map[string]int{}
		steps := rapid.IntRange(1, 60).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			id := fmt.Sprintf("id-%d", rapid.IntRange(0, 3).Draw(rt, "id"))
			clock.Advance(time.Duration(rapid.IntRange(0, 90).Draw(rt, "gap")) * time.Second)
			d := c.Check(context.Background(), id, TierAnonymous)
			if d.Allowed {
				allowed[id]++
			} else if d.RetryAfter <= 0 {
				rt.Fatalf("rejection without retry-after: %+v", d)
			}
			rec, _ := c.Snapshot(id)
			if rec.Count > cfg.AnonymousDaily {
				rt.Fatalf("count %d above limit %d", rec.Count, cfg.AnonymousDaily)
			}
		}
		// 序列最长 90 分钟，不会跨越 UTC 日
		for id, n := range allowed {
			rec, _ := c.Snapshot(id)
			if rec.Count != n {
				rt.Fatalf("%s: count %d, allowed %d", id, rec.Count, n)
			}
		}
	})
}

// =============================================================================
// 💾 存储交互
// =============================================================================

type brokenStore struct{ loadErr, saveErr error }

func (b brokenStore) Load(context.Context, string, string) (*UsageRecord, error) {
	return nil, b.loadErr
}
func (b brokenStore) Save(context.Context, *UsageRecord) error { return b.saveErr }

func TestController_PersistsAndReloads(t *testing.T) {
	store := NewMemoryStore()
	c, _ := newTestController(t, testConfig(), store)
	ctx := context.Background()
	c.Check(ctx, "dave", TierAnonymous)
	c.Check(ctx, "dave", TierAnonymous)

	saved, err := store.Load(ctx, "dave", "2025-03-01")
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, 2, saved.Count)

	// 新实例从存储恢复，额度不会因重启而重置
	c2, _ := newTestController(t, testConfig(), store)
	d := c2.Check(ctx, "dave", TierAnonymous)
	assert.Equal(t, ReasonQuotaExceeded, d.Reason)
}

func TestController_FailOpen(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("admission_test", reg, zap.NewNop())
	clock := newFakeClock()
	c, err := NewController(testConfig(), brokenStore{loadErr: errors.New("down"), saveErr: errors.New("down")},
		collector, zap.NewNop(), WithClock(clock.Now))
	require.NoError(t, err)

	assert.True(t, c.Check(context.Background(), "eve", TierAnonymous).Allowed)
	assert.True(t, c.Check(context.Background(), "eve", TierAnonymous).Allowed)
	assert.False(t, c.Check(context.Background(), "eve", TierAnonymous).Allowed, "memory still enforces the limit")

	assert.Equal(t, 1.0, counterSum(t, reg, "admission_test_usage_store_errors_total", "operation", "load"))
	assert.Equal(t, 3.0, counterSum(t, reg, "admission_test_usage_store_errors_total", "operation", "save"))
	assert.Equal(t, 1.0, counterSum(t, reg, "admission_test_admission_decisions_total", "reason", ReasonQuotaExceeded))
}

// counterSum 汇总 name 指标中 label=value 的所有序列
func counterSum(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var sum float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					sum += m.GetCounter().GetValue()
				}
			}
		}
	}
	return sum
}

func TestController_FailClosed(t *testing.T) {
	cfg := testConfig()
	cfg.FailClosed = true
	c, _ := newTestController(t, cfg, brokenStore{loadErr: errors.New("down")})

	d := c.Check(context.Background(), "frank", TierAnonymous)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonUsageUnavailable, d.Reason)
	assert.Equal(t, time.Minute, d.RetryAfter)

	err := d.Err()
	assert.True(t, types.IsErrorCode(err, types.ErrAdmissionRejected))
	e, _ := types.AsError(err)
	assert.Equal(t, time.Minute, e.RetryAfter)
}

func TestController_Remaining(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), &UsageRecord{Identity: "gina", Day: "2025-03-01", Count: 1}))
	c, _ := newTestController(t, testConfig(), store)

	n, err := c.Remaining(context.Background(), "gina", TierAnonymous)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, cached := c.Snapshot("gina")
	assert.False(t, cached, "Remaining must not populate the cache")

	c.Check(context.Background(), "gina", TierAnonymous)
	n, _ = c.Remaining(context.Background(), "gina", TierAnonymous)
	assert.Equal(t, 0, n)

	n, _ = c.Remaining(context.Background(), "gina", TierAdmin)
	assert.Equal(t, -1, n)
}

// =============================================================================
// 🧹 清理
// =============================================================================

func TestController_Sweep(t *testing.T) {
	cfg := testConfig()
	cfg.GlobalPerHour = 100
	c, clock := newTestController(t, cfg, nil)
	ctx := context.Background()

	c.Check(ctx, "old", TierAnonymous)
	clock.Advance(2 * time.Hour)
	c.Check(ctx, "fresh", TierAnonymous)

	assert.Equal(t, 0, c.Sweep())
	records, timestamps := c.Stats()
	assert.Equal(t, 2, records)
	assert.Equal(t, 1, timestamps, "timestamps older than an hour are pruned")

	clock.Advance(7*24*time.Hour - time.Hour)
	assert.Equal(t, 1, c.Sweep())
	_, ok := c.Snapshot("old")
	assert.False(t, ok)
	_, ok = c.Snapshot("fresh")
	assert.True(t, ok)
}

type failingPurger struct{ *MemoryStore }

func (failingPurger) Purge(context.Context, time.Time) (int64, error) {
	return 0, errors.New("purge unavailable")
}

func TestController_PurgeStore(t *testing.T) {
	store := newGormStore(t)
	c, clock := newTestController(t, testConfig(), store)
	ctx := context.Background()

	c.Check(ctx, "idle", TierAnonymous)
	clock.Advance(2 * 24 * time.Hour)
	c.Check(ctx, "active", TierAnonymous)

	n, err := c.PurgeStore(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clock.Advance(6 * 24 * time.Hour)
	n, err = c.PurgeStore(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "only the record idle past the eviction window is purged")

	day := t0.Format(DayLayout)
	got, err := store.Load(ctx, "idle", day)
	require.NoError(t, err)
	assert.Nil(t, got)
	got, err = store.Load(ctx, "active", t0.Add(2*24*time.Hour).Format(DayLayout))
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestController_PurgeStoreErrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("purge_test", reg, zap.NewNop())
	c, err := NewController(testConfig(), failingPurger{NewMemoryStore()}, collector, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(c.Close)

	_, err = c.PurgeStore(context.Background())
	assert.Error(t, err)

	plain, err := NewController(testConfig(), NewRedisStore(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), "", 0), nil, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(plain.Close)
	n, err := plain.PurgeStore(context.Background())
	assert.NoError(t, err, "stores without Purge are skipped")
	assert.Zero(t, n)
}

func TestController_StartClose(t *testing.T) {
	cfg := testConfig()
	cfg.SweepInterval = time.Millisecond
	c, err := NewController(cfg, nil, nil, zap.NewNop())
	require.NoError(t, err)
	c.Start()
	c.Start()
	time.Sleep(5 * time.Millisecond)
	c.Close()
	c.Close()

	never, err := NewController(cfg, nil, nil, zap.NewNop())
	require.NoError(t, err)
	never.Close()
}

func TestController_ConcurrentChecks(t *testing.T) {
	cfg := testConfig()
	cfg.AuthenticatedDaily = 50
	c, _ := newTestController(t, cfg, NewMemoryStore())

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Check(context.Background(), "shared", TierAuthenticated).Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, allowed)
	rec, _ := c.Snapshot("shared")
	assert.Equal(t, 50, rec.Count)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	bad := DefaultConfig()
	bad.BlockDuration = 0
	assert.Error(t, bad.Validate())
	bad = DefaultConfig()
	bad.PremiumDaily = -1
	assert.Error(t, bad.Validate())
	_, err := NewController(bad, nil, nil, nil)
	assert.Error(t, err)
}
