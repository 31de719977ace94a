package server

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/BaSui01/interiorflow/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
}

func testServerConfig() Config {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.ShutdownTimeout = time.Second
	return cfg
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.ServerConfig{Port: 9191, ReadTimeout: 3 * time.Second})
	assert.Equal(t, ":9191", cfg.Addr)
	assert.Equal(t, 3*time.Second, cfg.ReadTimeout)
	assert.Equal(t, DefaultConfig().WriteTimeout, cfg.WriteTimeout)
	assert.Equal(t, DefaultConfig().ShutdownTimeout, cfg.ShutdownTimeout)
}

func TestManager_StartAndShutdown(t *testing.T) {
	m := NewManager(okHandler(), testServerConfig(), zap.NewNop())
	assert.False(t, m.IsRunning())
	assert.Equal(t, "127.0.0.1:0", m.Addr())

	require.NoError(t, m.Start())
	assert.True(t, m.IsRunning())
	assert.NotEqual(t, "127.0.0.1:0", m.Addr())

	resp, err := http.Get("http://" + m.Addr() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	require.NoError(t, m.Shutdown(context.Background()))
	assert.False(t, m.IsRunning())
	assert.NoError(t, m.Shutdown(context.Background()))
	assert.ErrorIs(t, m.Start(), ErrServerClosed)
}

func TestManager_DoubleStart(t *testing.T) {
	m := NewManager(okHandler(), testServerConfig(), nil)
	require.NoError(t, m.Start())
	defer m.Shutdown(context.Background())

	assert.Error(t, m.Start())
}

func TestManager_ListenError(t *testing.T) {
	first := NewManager(okHandler(), testServerConfig(), zap.NewNop())
	require.NoError(t, first.Start())
	defer first.Shutdown(context.Background())

	cfg := testServerConfig()
	cfg.Addr = first.Addr()
	second := NewManager(okHandler(), cfg, zap.NewNop())
	assert.Error(t, second.Start())
}

func TestManager_WaitOnContextCancel(t *testing.T) {
	m := NewManager(okHandler(), testServerConfig(), zap.NewNop())
	require.NoError(t, m.Start())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Wait(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Wait did not return after cancel")
	}
	assert.False(t, m.IsRunning())
}
