// =============================================================================
// 📦 interiorflow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/interiorflow/admission"
	"github.com/BaSui01/interiorflow/conditioning"
	"github.com/BaSui01/interiorflow/engine"
	"github.com/BaSui01/interiorflow/internal/pool"
	"github.com/BaSui01/interiorflow/retry"
	"github.com/BaSui01/interiorflow/selector"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:       DefaultServerConfig(),
		Redis:        DefaultRedisConfig(),
		Database:     DefaultDatabaseConfig(),
		Log:          DefaultLogConfig(),
		Telemetry:    DefaultTelemetryConfig(),
		Engines:      DefaultEnginesConfig(),
		Generation:   DefaultGenerationConfig(),
		Selector:     selector.DefaultConfig(),
		Admission:    admission.DefaultConfig(),
		Conditioning: conditioning.DefaultConfig(),
		Storage:      DefaultStorageConfig(),
	}
}

// DefaultServerConfig 返回默认运维端口配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:            9091,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:                "localhost:6379",
		DB:                  0,
		PoolSize:            10,
		MinIdleConns:        2,
		HealthCheckInterval: 30 * time.Second,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "interiorflow",
		Name:            "interiorflow",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: true,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		Insecure:     true,
		ServiceName:  "interiorflow",
		SampleRate:   0.1,
	}
}

// DefaultEnginesConfig 托管引擎在前，本地合成兜底
func DefaultEnginesConfig() EnginesConfig {
	return EnginesConfig{
		Order:         []string{EngineFlux, EngineStability, EngineGemini, EngineOpenAI, EngineLocal},
		Flux:          engine.DefaultFluxConfig(),
		Stability:     engine.DefaultStabilityConfig(),
		Gemini:        engine.DefaultGeminiConfig(),
		OpenAI:        engine.DefaultOpenAIConfig(),
		Local:         engine.DefaultLocalConfig(),
		LocalWorkers:  pool.DefaultConfig(),
		Deterministic: engine.DeterministicConfig{Name: EngineDeterministic},
	}
}

// DefaultGenerationConfig 扇出 3，1024x768
func DefaultGenerationConfig() GenerationConfig {
	d := engine.DefaultDefaults()
	return GenerationConfig{
		FanOut:        d.FanOut,
		Concurrency:   3,
		Width:         d.Resolution.Width,
		Height:        d.Resolution.Height,
		Steps:         d.Steps,
		GuidanceScale: d.GuidanceScale,
		Limits:        engine.DefaultLimits(),
		Retry:         retryConfigFrom(retry.DefaultRetryPolicy()),
	}
}

func retryConfigFrom(p *retry.RetryPolicy) RetryConfig {
	return RetryConfig{
		MaxRetries:   p.MaxRetries,
		InitialDelay: p.InitialDelay,
		MaxDelay:     p.MaxDelay,
		Multiplier:   p.Multiplier,
		Jitter:       p.Jitter,
	}
}

// DefaultStorageConfig 默认全部在内存中
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Usage:              BackendMemory,
		UsageKeyPrefix:     "usage:",
		UsageTTL:           8 * 24 * time.Hour,
		Artifacts:          BackendMemory,
		ArtifactMaxEntries: 256,
		ArtifactKeyPrefix:  "artifact:",
		ArtifactTTL:        24 * time.Hour,
	}
}
