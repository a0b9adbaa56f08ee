// Package retry 有界重试执行器
//
//	exec := retry.NewExecutor(retry.Config{MaxAttempts: 3, Strategy: retry.StrategyExponential},
//	    retry.WithCondition(retry.RetryOnTemporaryError()))
//	err := exec.Execute(ctx, func(ctx context.Context) error { return call(ctx) })
package retry

import (
	"fmt"
	"strings"
	"time"
)

// Strategy 退避策略名
type Strategy string

const (
	StrategyFixed       Strategy = "FIXED"
	StrategyExponential Strategy = "EXPONENTIAL"
	StrategyLinear      Strategy = "LINEAR"
	StrategyRandom      Strategy = "RANDOM"
)

// ParseStrategy 大小写不敏感
func ParseStrategy(s string) (Strategy, error) {
	st := Strategy(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StrategyFixed, StrategyExponential, StrategyLinear, StrategyRandom:
		return st, nil
	}
	return "", fmt.Errorf("retry: unknown strategy %q", s)
}

// Config 重试配置
type Config struct {
	MaxAttempts   int           `mapstructure:"max_attempts"`   // 最大尝试次数（含首次）
	Strategy      Strategy      `mapstructure:"strategy"`       // FIXED / EXPONENTIAL / LINEAR / RANDOM
	BaseDelay     time.Duration `mapstructure:"base_delay"`     // 基础延迟
	MaxDelay      time.Duration `mapstructure:"max_delay"`      // 延迟上限
	BackoffFactor float64       `mapstructure:"backoff_factor"` // 指数倍数
	Jitter        bool          `mapstructure:"jitter"`         // ±10% 抖动

	// BudgetRatio 重试预算（0 表示不限制），例如 0.2 表示窗口内重试不超过请求数的 20%
	BudgetRatio  float64       `mapstructure:"budget_ratio"`
	BudgetWindow time.Duration `mapstructure:"budget_window"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		Strategy:      StrategyExponential,
		BaseDelay:     time.Second,
		MaxDelay:      60 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
		BudgetWindow:  time.Minute,
	}
}

// ApplyDefaults 填充零值（Jitter 保持调用方设置）
func (c *Config) ApplyDefaults() {
	def := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.Strategy == "" {
		c.Strategy = def.Strategy
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = def.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.BackoffFactor <= 0 {
		c.BackoffFactor = def.BackoffFactor
	}
	if c.BudgetWindow <= 0 {
		c.BudgetWindow = def.BudgetWindow
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("retry: max_attempts must be >= 1, got %d", c.MaxAttempts)
	}
	if _, err := ParseStrategy(string(c.Strategy)); err != nil {
		return err
	}
	if c.BaseDelay < 0 || c.MaxDelay < 0 {
		return fmt.Errorf("retry: delays must be >= 0")
	}
	if c.MaxDelay < c.BaseDelay {
		return fmt.Errorf("retry: max_delay (%s) must be >= base_delay (%s)", c.MaxDelay, c.BaseDelay)
	}
	if c.Strategy == StrategyExponential && c.BackoffFactor < 1 {
		return fmt.Errorf("retry: backoff_factor must be >= 1, got %v", c.BackoffFactor)
	}
	if c.BudgetRatio < 0 || c.BudgetRatio > 1 {
		return fmt.Errorf("retry: budget_ratio must be in [0, 1], got %v", c.BudgetRatio)
	}
	return nil
}
