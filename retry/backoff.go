package retry

import (
	"math"
	"math/rand"
	"time"
)

// jitterRatio 抖动幅度
const jitterRatio = 0.1

// BaseDelayFor 第 retry 次重试前的延迟（不含抖动），retry 从 1 开始
//
//	FIXED        base
//	EXPONENTIAL  base * factor^(retry-1)   1s, 2s, 4s, 8s ...
//	LINEAR       base * retry              1s, 2s, 3s ...
//	RANDOM       [base, maxDelay] 均匀分布
//
// 结果不超过 MaxDelay
func (c Config) BaseDelayFor(retry int, rnd *rand.Rand) time.Duration {
	if retry < 1 {
		return 0
	}

	var delay float64
	base := float64(c.BaseDelay)
	switch c.Strategy {
	case StrategyFixed:
		delay = base
	case StrategyLinear:
		delay = base * float64(retry)
	case StrategyRandom:
		span := float64(c.MaxDelay) - base
		delay = base
		if span > 0 && rnd != nil {
			delay += rnd.Float64() * span
		}
	default:
		delay = base * math.Pow(c.BackoffFactor, float64(retry-1))
	}

	if delay > float64(c.MaxDelay) || math.IsInf(delay, 0) {
		delay = float64(c.MaxDelay)
	}
	return time.Duration(delay)
}

// applyJitter 在 [d*0.9, d*1.1] 内随机，不小于 0
func applyJitter(d time.Duration, rnd *rand.Rand) time.Duration {
	if d <= 0 || rnd == nil {
		return d
	}
	offset := (rnd.Float64()*2 - 1) * jitterRatio * float64(d)
	result := float64(d) + offset
	if result < 0 {
		return 0
	}
	return time.Duration(result)
}
