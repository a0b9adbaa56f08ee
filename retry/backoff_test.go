package retry

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseDelayFor_Strategies(t *testing.T) {
	tests := []struct {
		name     string
		strategy Strategy
		want     []time.Duration
	}{
		{"指数退避", StrategyExponential, []time.Duration{1, 2, 4, 8, 10}},
		{"线性退避", StrategyLinear, []time.Duration{1, 2, 3, 4, 5}},
		{"固定延迟", StrategyFixed, []time.Duration{1, 1, 1, 1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Strategy: tt.strategy, BaseDelay: time.Second, MaxDelay: 10 * time.Second, BackoffFactor: 2}
			for i, want := range tt.want {
				assert.Equal(t, want*time.Second, cfg.BaseDelayFor(i+1, nil), "retry %d", i+1)
			}
		})
	}
}

func TestBaseDelayFor_ExponentialCapped(t *testing.T) {
	cfg := Config{Strategy: StrategyExponential, BaseDelay: time.Second, MaxDelay: 5 * time.Second, BackoffFactor: 2}
	prev := time.Duration(0)
	for r := 1; r <= 200; r++ {
		d := cfg.BaseDelayFor(r, nil)
		require.GreaterOrEqual(t, d, prev, "delays must be monotonic")
		require.LessOrEqual(t, d, 5*time.Second)
		prev = d
	}
	assert.Equal(t, time.Duration(0), cfg.BaseDelayFor(0, nil))
}

func TestBaseDelayFor_RandomWithinRange(t *testing.T) {
	cfg := Config{Strategy: StrategyRandom, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	rnd := rand.New(rand.NewSource(7))
	for i := 0; i < 100; i++ {
		d := cfg.BaseDelayFor(1, rnd)
		require.GreaterOrEqual(t, d, 100*time.Millisecond)
		require.LessOrEqual(t, d, time.Second)
	}
}

func TestApplyJitter_Bounds(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		d := applyJitter(time.Second, rnd)
		require.GreaterOrEqual(t, d, 900*time.Millisecond)
		require.LessOrEqual(t, d, 1100*time.Millisecond)
	}
	assert.Equal(t, time.Duration(0), applyJitter(0, rnd))
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("exponential")
	require.NoError(t, err)
	assert.Equal(t, StrategyExponential, s)

	_, err = ParseStrategy("fibonacci")
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"尝试次数为0", func(c *Config) { c.MaxAttempts = 0 }},
		{"未知策略", func(c *Config) { c.Strategy = "SOMETIMES" }},
		{"上限小于基础延迟", func(c *Config) { c.MaxDelay = time.Millisecond }},
		{"指数小于1", func(c *Config) { c.BackoffFactor = 0.5 }},
		{"预算比例超过1", func(c *Config) { c.BudgetRatio = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, DefaultConfig().Validate())
}
