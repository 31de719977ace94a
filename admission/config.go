package admission

import (
	"errors"
	"time"
)

// Config 准入控制配置。日限额为 0 表示不限。
type Config struct {
	AnonymousDaily     int `json:"anonymous_daily" yaml:"anonymous_daily" env:"ANONYMOUS_DAILY"`
	AuthenticatedDaily int `json:"authenticated_daily" yaml:"authenticated_daily" env:"AUTHENTICATED_DAILY"`
	PremiumDaily       int `json:"premium_daily" yaml:"premium_daily" env:"PREMIUM_DAILY"`
	AdminDaily         int `json:"admin_daily" yaml:"admin_daily" env:"ADMIN_DAILY"`

	GlobalPerMinute int `json:"global_per_minute" yaml:"global_per_minute" env:"GLOBAL_PER_MINUTE"`
	GlobalPerHour   int `json:"global_per_hour" yaml:"global_per_hour" env:"GLOBAL_PER_HOUR"`

	BlockDuration time.Duration `json:"block_duration" yaml:"block_duration" env:"BLOCK_DURATION"`
	SweepInterval time.Duration `json:"sweep_interval" yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
	IdleEviction  time.Duration `json:"idle_eviction" yaml:"idle_eviction" env:"IDLE_EVICTION"`

	// FailClosed 为 true 时，首次加载用量失败直接拒绝（usage_unavailable）
	FailClosed bool `json:"fail_closed" yaml:"fail_closed" env:"FAIL_CLOSED"`
}

// DefaultConfig 返回默认准入配置
func DefaultConfig() Config {
	return Config{
		AnonymousDaily:     3,
		AuthenticatedDaily: 10,
		PremiumDaily:       50,
		AdminDaily:         0,
		GlobalPerMinute:    60,
		GlobalPerHour:      1000,
		BlockDuration:      time.Hour,
		SweepInterval:      10 * time.Minute,
		IdleEviction:       7 * 24 * time.Hour,
	}
}

// Limit returns the daily limit of tier; 0 means unlimited.
func (c Config) Limit(t Tier) int {
	switch t {
	case TierAdmin:
		return c.AdminDaily
	case TierPremium:
		return c.PremiumDaily
	case TierAuthenticated:
		return c.AuthenticatedDaily
	default:
		return c.AnonymousDaily
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	if c.AnonymousDaily < 0 || c.AuthenticatedDaily < 0 || c.PremiumDaily < 0 || c.AdminDaily < 0 {
		return errors.New("admission: daily limits must not be negative")
	}
	if c.GlobalPerMinute < 0 || c.GlobalPerHour < 0 {
		return errors.New("admission: global ceilings must not be negative")
	}
	if c.BlockDuration <= 0 {
		return errors.New("admission: block_duration must be positive")
	}
	if c.SweepInterval <= 0 {
		return errors.New("admission: sweep_interval must be positive")
	}
	if c.IdleEviction <= 0 {
		return errors.New("admission: idle_eviction must be positive")
	}
	return nil
}

// longestWindow 是需要保留的全局时间戳跨度
func (c Config) longestWindow() time.Duration {
	if c.GlobalPerHour > 0 {
		return time.Hour
	}
	return time.Minute
}
