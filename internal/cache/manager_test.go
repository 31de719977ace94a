package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 Manager 测试
// =============================================================================

func testConfig(addr string) Config {
	cfg := DefaultConfig()
	cfg.Addr = addr
	cfg.MaxRetries = -1
	cfg.DialTimeout = time.Second
	cfg.HealthCheckInterval = 0
	return cfg
}

func TestNewManager(t *testing.T) {
	mr := miniredis.RunT(t)
	m, err := NewManager(context.Background(), testConfig(mr.Addr()), zap.NewNop())
	require.NoError(t, err)
	defer m.Close()

	assert.True(t, m.Healthy())
	require.NotNil(t, m.Client())

	ctx := context.Background()
	require.NoError(t, m.Client().Set(ctx, "k", "v", 0).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestNewManager_Unreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	m, err := NewManager(context.Background(), testConfig(addr), zap.NewNop())
	assert.Nil(t, m)
	assert.Error(t, err)
}

func TestNewManager_Password(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("s3cret")

	_, err := NewManager(context.Background(), testConfig(mr.Addr()), zap.NewNop())
	assert.Error(t, err)

	cfg := testConfig(mr.Addr())
	cfg.Password = "s3cret"
	m, err := NewManager(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	assert.NoError(t, m.Close())
}

func TestManager_PingAndClose(t *testing.T) {
	mr := miniredis.RunT(t)
	m, err := NewManager(context.Background(), testConfig(mr.Addr()), nil)
	require.NoError(t, err)

	ctx := context.Background()
	assert.NoError(t, m.Ping(ctx))

	require.NoError(t, m.Close())
	assert.NoError(t, m.Close())
	assert.ErrorIs(t, m.Ping(ctx), ErrClosed)
	assert.False(t, m.Healthy())
}

func TestManager_PingMarksUnhealthy(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	m, err := NewManager(context.Background(), testConfig(mr.Addr()), zap.NewNop())
	require.NoError(t, err)
	defer m.Close()

	mr.Close()
	assert.Error(t, m.Ping(context.Background()))
	assert.False(t, m.Healthy())
}

func TestManager_HealthCheckLoop(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cfg := testConfig(mr.Addr())
	cfg.HealthCheckInterval = 10 * time.Millisecond
	m, err := NewManager(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer m.Close()

	mr.Close()
	assert.Eventually(t, func() bool { return !m.Healthy() }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, mr.Restart())
	assert.Eventually(t, m.Healthy, 2*time.Second, 10*time.Millisecond)
}

func TestManager_GetStatsClosedServer(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	m, err := NewManager(context.Background(), testConfig(mr.Addr()), zap.NewNop())
	require.NoError(t, err)
	defer m.Close()

	mr.Close()
	stats, err := m.GetStats(context.Background())
	assert.Nil(t, stats)
	assert.Error(t, err)
}

func TestParseInfo(t *testing.T) {
	info := "# Stats\r\n" +
		"keyspace_hits:42\r\n" +
		"keyspace_misses:7\r\n" +
		"\r\n" +
		"# Memory\r\n" +
		"used_memory:1048576\r\n" +
		"used_memory_human:1.00M\r\n" +
		"# Clients\r\n" +
		"connected_clients:3\r\n" +
		"malformed line\r\n"

	got := parseInfo(info)
	assert.Equal(t, int64(42), got["keyspace_hits"])
	assert.Equal(t, int64(7), got["keyspace_misses"])
	assert.Equal(t, int64(1048576), got["used_memory"])
	assert.Equal(t, int64(3), got["connected_clients"])
	assert.NotContains(t, got, "used_memory_human")
	assert.Len(t, got, 4)
}

func TestHostOf(t *testing.T) {
	assert.Equal(t, "redis.internal", hostOf("redis.internal:6380"))
	assert.Equal(t, "localhost", hostOf("localhost"))
	assert.Equal(t, "::1", hostOf("[::1]:6379"))
}
