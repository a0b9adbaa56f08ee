package governance

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// 负载均衡策略名
const (
	StrategyRoundRobin         = "round_robin"
	StrategyRandom             = "random"
	StrategyLeastConnections   = "least_connections"
	StrategyWeightedRoundRobin = "weighted_round_robin"
)

// Strategies 所有支持的策略名
func Strategies() []string {
	return []string{StrategyRoundRobin, StrategyRandom, StrategyLeastConnections, StrategyWeightedRoundRobin}
}

func strategyValues() []any {
	out := make([]any, 0, 4)
	for _, s := range Strategies() {
		out = append(out, s)
	}
	return out
}

// ParseStrategy 规范化策略名（大小写不敏感，允许 "-"）
func ParseStrategy(name string) (string, error) {
	s := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	for _, known := range Strategies() {
		if s == known {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStrategy, name)
}

// LoadBalancer 负载均衡器
// instances 已按注册顺序排列且非空
type LoadBalancer interface {
	Select(service string, instances []ServiceInstance) ServiceInstance

	// Name 策略名
	Name() string
}

// RoundRobinBalancer 按服务维护单调递增计数器，对实例数取模
type RoundRobinBalancer struct {
	mu       sync.Mutex
	counters map[string]uint64
}

// NewRoundRobinBalancer 创建轮询负载均衡器
func NewRoundRobinBalancer() *RoundRobinBalancer {
	return &RoundRobinBalancer{counters: make(map[string]uint64)}
}

// Select 轮询选择实例
func (b *RoundRobinBalancer) Select(service string, instances []ServiceInstance) ServiceInstance {
	b.mu.Lock()
	idx := b.counters[service]
	b.counters[service] = idx + 1
	b.mu.Unlock()

	return instances[idx%uint64(len(instances))]
}

// Name 策略名
func (b *RoundRobinBalancer) Name() string {
	return StrategyRoundRobin
}

// RandomBalancer 均匀随机
type RandomBalancer struct {
	rand *rand.Rand
	mu   sync.Mutex
}

// NewRandomBalancer 创建随机负载均衡器（seed 为 0 时使用当前时间）
func NewRandomBalancer(seed int64) *RandomBalancer {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandomBalancer{rand: rand.New(rand.NewSource(seed))}
}

// Select 随机选择实例
func (b *RandomBalancer) Select(_ string, instances []ServiceInstance) ServiceInstance {
	b.mu.Lock()
	idx := b.rand.Intn(len(instances))
	b.mu.Unlock()

	return instances[idx]
}

// Name 策略名
func (b *RandomBalancer) Name() string {
	return StrategyRandom
}

// LeastConnectionsBalancer 选择在途连接最少的实例，相同时取注册顺序靠前的
type LeastConnectionsBalancer struct {
	counter *ConnectionCounter
}

// NewLeastConnectionsBalancer 基于连接计数器创建
func NewLeastConnectionsBalancer(counter *ConnectionCounter) *LeastConnectionsBalancer {
	return &LeastConnectionsBalancer{counter: counter}
}

// Select 选择在途连接最少的实例
func (b *LeastConnectionsBalancer) Select(_ string, instances []ServiceInstance) ServiceInstance {
	best := 0
	bestCount := b.counter.Count(instances[0].Address())
	for i := 1; i < len(instances); i++ {
		if n := b.counter.Count(instances[i].Address()); n < bestCount {
			best, bestCount = i, n
		}
	}
	return instances[best]
}

// Name 策略名
func (b *LeastConnectionsBalancer) Name() string {
	return StrategyLeastConnections
}

// WeightedRoundRobinBalancer 平滑加权轮询
//
// 每次选择：所有实例 current += weight，选 current 最大者，然后 current -= total。
// 权重 {5,1,1} 的序列为 a a b a c a a，不会出现连续扎堆。
type WeightedRoundRobinBalancer struct {
	mu      sync.Mutex
	current map[string]map[string]int // service -> instance key -> current weight
}

// NewWeightedRoundRobinBalancer 创建平滑加权轮询负载均衡器
func NewWeightedRoundRobinBalancer() *WeightedRoundRobinBalancer {
	return &WeightedRoundRobinBalancer{current: make(map[string]map[string]int)}
}

// Select 平滑加权选择
func (b *WeightedRoundRobinBalancer) Select(service string, instances []ServiceInstance) ServiceInstance {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.current[service]
	if !ok {
		state = make(map[string]int)
		b.current[service] = state
	}

	// 只保留当前实例的状态，下线实例的权重不会残留
	live := make(map[string]struct{}, len(instances))
	total, best := 0, -1
	for i, inst := range instances {
		key := inst.InstanceID
		live[key] = struct{}{}
		w := inst.Weight
		if w <= 0 {
			w = 1
		}
		total += w
		state[key] += w
		if best < 0 || state[key] > state[instances[best].InstanceID] {
			best = i
		}
	}
	for key := range state {
		if _, ok := live[key]; !ok {
			delete(state, key)
		}
	}

	state[instances[best].InstanceID] -= total
	return instances[best]
}

// Name 策略名
func (b *WeightedRoundRobinBalancer) Name() string {
	return StrategyWeightedRoundRobin
}
