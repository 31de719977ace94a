// Package cache manages the shared Redis connection used by the usage and
// artifact stores.
package cache

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/interiorflow/internal/tlsutil"
	"github.com/redis/go-redis/v9"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// ErrClosed 管理器已关闭
var ErrClosed = errors.New("cache manager is closed")

// =============================================================================
// 💾 Redis 连接管理器
// =============================================================================

// Config Redis 连接配置
type Config struct {
	Addr         string `yaml:"addr" json:"addr"`
	Password     string `yaml:"password" json:"-"`
	DB           int    `yaml:"db" json:"db"`
	PoolSize     int    `yaml:"pool_size" json:"pool_size"`
	MinIdleConns int    `yaml:"min_idle_conns" json:"min_idle_conns"`
	MaxRetries   int    `yaml:"max_retries" json:"max_retries"`
	TLS          bool   `yaml:"tls" json:"tls"`

	DialTimeout         time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"` // 0 表示不做后台探测
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Addr:                "localhost:6379",
		PoolSize:            10,
		MinIdleConns:        2,
		MaxRetries:          3,
		DialTimeout:         5 * time.Second,
		HealthCheckInterval: 30 * time.Second,
	}
}

// Manager owns one go-redis client and probes it in the background.
type Manager struct {
	client  *redis.Client
	config  Config
	logger  *zap.Logger
	healthy atomic.Bool

	mu     sync.Mutex
	closed bool
	stop   chan struct{}
	done   chan struct{}
}

// NewManager connects and pings once; an unreachable server is an error.
func NewManager(ctx context.Context, config Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 5 * time.Second
	}
	opts := &redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		MaxRetries:   config.MaxRetries,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
	}
	if config.TLS {
		opts.TLSConfig = tlsutil.ClientConfig(hostOf(config.Addr))
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, config.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", config.Addr, err)
	}

	m := &Manager{
		client: client,
		config: config,
		logger: logger.With(zap.String("component", "cache")),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	m.healthy.Store(true)

	if config.HealthCheckInterval > 0 {
		go m.healthCheckLoop()
	} else {
		close(m.done)
	}

	m.logger.Info("redis connected",
		zap.String("addr", config.Addr),
		zap.Int("db", config.DB),
		zap.Bool("tls", config.TLS),
	)
	return m, nil
}

// Client 返回底层客户端，供用量存储与图片存储使用
func (m *Manager) Client() *redis.Client {
	return m.client
}

// Healthy 返回最近一次探测结果
func (m *Manager) Healthy() bool {
	return m.healthy.Load()
}

// Ping 检查 Redis 连接
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}
	err := m.client.Ping(ctx).Err()
	m.healthy.Store(err == nil)
	return err
}

// Close 停止后台探测并关闭连接；重复调用无副作用
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.stop)
	m.mu.Unlock()

	<-m.done
	m.healthy.Store(false)
	m.logger.Info("closing redis connection")
	return m.client.Close()
}

// =============================================================================
// 🏥 健康检查
// =============================================================================

func (m *Manager) healthCheckLoop() {
	defer close(m.done)
	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.config.DialTimeout)
			wasHealthy := m.healthy.Load()
			if err := m.client.Ping(ctx).Err(); err != nil {
				m.healthy.Store(false)
				m.logger.Error("redis health check failed", zap.Error(err))
			} else {
				m.healthy.Store(true)
				if !wasHealthy {
					m.logger.Info("redis connection recovered")
				}
			}
			cancel()
		}
	}
}

// =============================================================================
// 📊 统计信息
// =============================================================================

// Stats 来自 INFO 的统计信息
type Stats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Keys        int64 `json:"keys"`
	UsedMemory  int64 `json:"used_memory"`
	Connections int64 `json:"connections"`
}

// GetStats 读取 INFO stats/memory/clients 与 DBSIZE
func (m *Manager) GetStats(ctx context.Context) (*Stats, error) {
	info, err := m.client.Info(ctx, "stats", "memory", "clients").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get redis info: %w", err)
	}
	fields := parseInfo(info)
	stats := &Stats{
		Hits:        fields["keyspace_hits"],
		Misses:      fields["keyspace_misses"],
		UsedMemory:  fields["used_memory"],
		Connections: fields["connected_clients"],
	}
	if stats.Keys, err = m.client.DBSize(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to get redis dbsize: %w", err)
	}
	return stats, nil
}

// parseInfo 解析 INFO 输出中的整数字段，忽略注释与非整数值
func parseInfo(info string) map[string]int64 {
	out := make(map[string]int64)
	sc := bufio.NewScanner(strings.NewReader(info))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			out[key] = n
		}
	}
	return out
}

func hostOf(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
