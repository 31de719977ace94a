package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Validate 校验配置；返回所有问题的合并错误
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = append(errs, fmt.Errorf("log.format %q is not json or console", c.Log.Format))
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.OTLPEndpoint == "" {
			errs = append(errs, errors.New("telemetry.otlp_endpoint is required when telemetry is enabled"))
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			errs = append(errs, errors.New("telemetry.sample_rate must be within [0, 1]"))
		}
	}

	errs = append(errs, c.Engines.validate()...)
	errs = append(errs, c.Generation.validate()...)
	errs = append(errs, c.Storage.validate(c)...)

	if c.Selector.MaxAttempts <= 0 {
		errs = append(errs, errors.New("selector.max_attempts must be positive"))
	}
	if err := c.Admission.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Conditioning.MinEdgeRatio < 0 || c.Conditioning.MaxEdgeRatio > 1 || c.Conditioning.MinEdgeRatio >= c.Conditioning.MaxEdgeRatio {
		errs = append(errs, errors.New("conditioning edge ratio bounds must satisfy 0 <= min < max <= 1"))
	}
	if c.Conditioning.LowerBound <= 0 || c.Conditioning.LowerBound >= c.Conditioning.UpperBound {
		errs = append(errs, errors.New("conditioning threshold bounds must satisfy 0 < lower < upper"))
	}

	return errors.Join(errs...)
}

func (e EnginesConfig) validate() []error {
	var errs []error
	if len(e.Order) == 0 {
		errs = append(errs, errors.New("engines.order must name at least one engine"))
	}
	seen := make(map[string]bool, len(e.Order))
	for _, name := range e.Order {
		name = strings.ToLower(name)
		if !slices.Contains(KnownEngines, name) {
			errs = append(errs, fmt.Errorf("engines.order: unknown engine %q", name))
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Errorf("engines.order: %q listed twice", name))
		}
		seen[name] = true
	}
	return errs
}

func (g GenerationConfig) validate() []error {
	var errs []error
	l := g.Limits
	if g.FanOut <= 0 || g.FanOut > l.MaxFanOut {
		errs = append(errs, fmt.Errorf("generation.fan_out must be within [1, %d]", l.MaxFanOut))
	}
	for _, edge := range []int{g.Width, g.Height} {
		if edge < l.MinEdge || edge > l.MaxEdge || (l.EdgeMultiple > 0 && edge%l.EdgeMultiple != 0) {
			errs = append(errs, fmt.Errorf("generation resolution %dx%d outside the accepted range", g.Width, g.Height))
			break
		}
	}
	if g.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("generation.retry.max_retries must not be negative"))
	}
	if g.Retry.MaxRetries > 0 && (g.Retry.InitialDelay <= 0 || g.Retry.Multiplier < 1) {
		errs = append(errs, errors.New("generation.retry needs a positive initial_delay and multiplier >= 1"))
	}
	return errs
}

func (s StorageConfig) validate(c *Config) []error {
	var errs []error
	switch s.Usage {
	case BackendMemory, BackendRedis:
	case BackendDatabase:
		if c.Database.DSN() == "" {
			errs = append(errs, fmt.Errorf("storage.usage=database needs a supported database.driver, got %q", c.Database.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.usage %q is not memory, redis or database", s.Usage))
	}
	if s.Artifacts != BackendMemory && s.Artifacts != BackendRedis {
		errs = append(errs, fmt.Errorf("storage.artifacts %q is not memory or redis", s.Artifacts))
	}
	if (s.Usage == BackendRedis || s.Artifacts == BackendRedis) && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required by the selected storage"))
	}
	return errs
}

// UsesRedis 是否有组件需要 Redis 连接
func (c *Config) UsesRedis() bool {
	return c.Storage.Usage == BackendRedis || c.Storage.Artifacts == BackendRedis
}
