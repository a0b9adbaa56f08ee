package pool

import (
	"context"
	"io"
	"time"
)

// Factory 创建到上游的新连接
type Factory func(ctx context.Context) (io.Closer, error)

// Validator 校验连接是否可用（轻量 ping），nil 表示可用
type Validator func(ctx context.Context, conn io.Closer) error

// Observer 连接借出与归还的观察者（最少连接负载均衡据此统计在途连接数）
type Observer interface {
	ConnAcquired(address string)
	ConnReleased(address string)
}

// PooledConn 池化连接
type PooledConn struct {
	id        string
	conn      io.Closer
	pool      *Pool
	createdAt time.Time

	// 以下字段由 pool.mu 保护
	lastUsedAt time.Time
	inUse      bool
	discarded  bool
}

// ID 连接唯一标识
func (c *PooledConn) ID() string { return c.id }

// Conn 底层连接
func (c *PooledConn) Conn() io.Closer { return c.conn }

// CreatedAt 创建时间
func (c *PooledConn) CreatedAt() time.Time { return c.createdAt }

// Address 所属池的上游地址
func (c *PooledConn) Address() string { return c.pool.address }

// Release 归还到所属连接池
func (c *PooledConn) Release() error { return c.pool.Release(c) }

// Invalidate 关闭并从所属连接池移除
func (c *PooledConn) Invalidate() error { return c.pool.Invalidate(c) }

// As 把底层连接断言为具体类型
//
//	cc, ok := pool.As[*grpc.ClientConn](pc)
func As[T io.Closer](c *PooledConn) (T, bool) {
	v, ok := c.conn.(T)
	return v, ok
}
