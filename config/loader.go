// =============================================================================
// 📦 interiorflow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("INTERIORFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量 → 验证器
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/interiorflow/admission"
	"github.com/BaSui01/interiorflow/conditioning"
	"github.com/BaSui01/interiorflow/engine"
	"github.com/BaSui01/interiorflow/internal/pool"
	"github.com/BaSui01/interiorflow/retry"
	"github.com/BaSui01/interiorflow/selector"
	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix 环境变量前缀
const DefaultEnvPrefix = "INTERIORFLOW"

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 interiorflow 的完整配置结构
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	Redis     RedisConfig     `yaml:"redis" env:"REDIS"`
	Database  DatabaseConfig  `yaml:"database" env:"DATABASE"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Engines 引擎顺序与各后端参数
	Engines EnginesConfig `yaml:"engines" env:"ENGINES"`
	// Generation 扇出、默认分辨率、取值范围与重试策略
	Generation GenerationConfig `yaml:"generation" env:"GENERATION"`
	Selector   selector.Config  `yaml:"selector" env:"SELECTOR"`
	Admission  admission.Config `yaml:"admission" env:"ADMISSION"`
	// Conditioning 条件图提取参数，只来自 YAML
	Conditioning conditioning.Config `yaml:"conditioning"`
	Storage      StorageConfig       `yaml:"storage" env:"STORAGE"`
}

// ServerConfig 运维 HTTP 端口配置（健康检查、就绪检查、指标）
type ServerConfig struct {
	// 运维端口
	Port int `yaml:"port" env:"PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// 启用 TLS
	TLS bool `yaml:"tls" env:"TLS"`
	// 健康检查间隔，0 表示关闭
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名；sqlite 时为文件路径
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 是否使用明文 gRPC
	Insecure bool `yaml:"insecure" env:"INSECURE"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// 引擎名称，Order 中使用
const (
	EngineFlux          = "flux"
	EngineStability     = "stability"
	EngineGemini        = "gemini"
	EngineOpenAI        = "openai"
	EngineLocal         = "local"
	EngineDeterministic = "deterministic"
)

// KnownEngines 是 Order 可引用的全部引擎
var KnownEngines = []string{EngineFlux, EngineStability, EngineGemini, EngineOpenAI, EngineLocal, EngineDeterministic}

// EnginesConfig 引擎配置。Order 决定回退顺序；缺少凭据的托管引擎在构建时跳过。
type EnginesConfig struct {
	Order         []string                   `yaml:"order" env:"ORDER"`
	Flux          engine.HostedConfig        `yaml:"flux" env:"FLUX"`
	Stability     engine.HostedConfig        `yaml:"stability" env:"STABILITY"`
	Gemini        engine.GeminiConfig        `yaml:"gemini" env:"GEMINI"`
	OpenAI        engine.OpenAIConfig        `yaml:"openai" env:"OPENAI"`
	Local         engine.LocalConfig         `yaml:"local"`
	LocalWorkers  pool.Config                `yaml:"local_workers" env:"LOCAL_WORKERS"`
	Deterministic engine.DeterministicConfig `yaml:"deterministic"`
}

// GenerationConfig 生成参数
type GenerationConfig struct {
	FanOut            int           `yaml:"fan_out" env:"FAN_OUT"`
	Concurrency       int           `yaml:"concurrency" env:"CONCURRENCY"`
	DeterministicSeed bool          `yaml:"deterministic_seed" env:"DETERMINISTIC_SEED"`
	Width             int           `yaml:"width" env:"WIDTH"`
	Height            int           `yaml:"height" env:"HEIGHT"`
	Steps             int           `yaml:"steps" env:"STEPS"`
	GuidanceScale     float64       `yaml:"guidance_scale" env:"GUIDANCE_SCALE"`
	Limits            engine.Limits `yaml:"limits"`
	Retry             RetryConfig   `yaml:"retry" env:"RETRY"`
}

// RetryConfig 同一引擎内的瞬时错误重试
type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries" env:"MAX_RETRIES"`
	InitialDelay time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
	MaxDelay     time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	Multiplier   float64       `yaml:"multiplier" env:"MULTIPLIER"`
	Jitter       bool          `yaml:"jitter" env:"JITTER"`
}

// 存储后端
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendDatabase = "database"
)

// StorageConfig 选择用量与生成图片的存储后端
type StorageConfig struct {
	// 用量存储: memory, redis, database
	Usage string `yaml:"usage" env:"USAGE"`
	// Redis 用量键前缀与 TTL
	UsageKeyPrefix string        `yaml:"usage_key_prefix" env:"USAGE_KEY_PREFIX"`
	UsageTTL       time.Duration `yaml:"usage_ttl" env:"USAGE_TTL"`
	// 图片存储: memory, redis
	Artifacts string `yaml:"artifacts" env:"ARTIFACTS"`
	// 内存图片存储的最大条目数
	ArtifactMaxEntries int `yaml:"artifact_max_entries" env:"ARTIFACT_MAX_ENTRIES"`
	// Redis 图片键前缀与 TTL
	ArtifactKeyPrefix string        `yaml:"artifact_key_prefix" env:"ARTIFACT_KEY_PREFIX"`
	ArtifactTTL       time.Duration `yaml:"artifact_ttl" env:"ARTIFACT_TTL"`
}

// =============================================================================
// 🔄 转换
// =============================================================================

// Policy 转换为 retry.RetryPolicy
func (r RetryConfig) Policy() *retry.RetryPolicy {
	return &retry.RetryPolicy{
		MaxRetries:   r.MaxRetries,
		InitialDelay: r.InitialDelay,
		MaxDelay:     r.MaxDelay,
		Multiplier:   r.Multiplier,
		Jitter:       r.Jitter,
	}
}

// AdapterConfig 返回引擎适配层配置
func (g GenerationConfig) AdapterConfig() engine.AdapterConfig {
	return engine.AdapterConfig{
		Limits:            g.Limits,
		DefaultFanOut:     g.FanOut,
		Concurrency:       g.Concurrency,
		DeterministicSeed: g.DeterministicSeed,
		Retry:             g.Retry.Policy(),
	}
}

// Defaults 返回请求默认值
func (g GenerationConfig) Defaults() engine.Defaults {
	return engine.Defaults{
		FanOut:        g.FanOut,
		Resolution:    engine.Resolution{Width: g.Width, Height: g.Height},
		Steps:         g.Steps,
		GuidanceScale: g.GuidanceScale,
	}
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  DefaultEnvPrefix,
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置；文件不存在时保留默认值
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置带 env tag 的字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := os.LookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// setFieldValue 按字段类型解析字符串
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片，空项丢弃
		if field.Type().Elem().Kind() == reflect.String {
			parts := make([]string, 0)
			for _, p := range strings.Split(value, ",") {
				if p = strings.TrimSpace(p); p != "" {
					parts = append(parts, p)
				}
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
