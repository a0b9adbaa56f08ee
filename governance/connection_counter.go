package governance

import (
	"maps"
	"sync"
)

// ConnectionCounter 按地址统计在途连接数
//
// 实现 pool.Observer：连接池在借出/归还时回调，least_connections 策略据此选择实例。
type ConnectionCounter struct {
	mu     sync.RWMutex
	counts map[string]int64
}

// NewConnectionCounter 创建计数器
func NewConnectionCounter() *ConnectionCounter {
	return &ConnectionCounter{counts: make(map[string]int64)}
}

// ConnAcquired 在途连接 +1
func (c *ConnectionCounter) ConnAcquired(address string) {
	c.mu.Lock()
	c.counts[address]++
	c.mu.Unlock()
}

// ConnReleased 在途连接 -1，归零后删除
func (c *ConnectionCounter) ConnReleased(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := c.counts[address]; n > 1 {
		c.counts[address] = n - 1
		return
	}
	delete(c.counts, address)
}

// Count 地址的在途连接数
func (c *ConnectionCounter) Count(address string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counts[address]
}

// Snapshot 所有非零计数的副本
func (c *ConnectionCounter) Snapshot() map[string]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.counts)
}
