package pool

import (
	"context"
	"io"
	"net"
	"time"
)

// TCPFactory 原始 TCP 连接工厂
func TCPFactory(address string, dialTimeout time.Duration) Factory {
	d := &net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}
	return func(ctx context.Context) (io.Closer, error) {
		return d.DialContext(ctx, "tcp", address)
	}
}

// TCPFactoryBuilder 供 Manager 使用的 TCP 工厂构造器
func TCPFactoryBuilder(dialTimeout time.Duration) FactoryBuilder {
	return func(address string) Factory {
		return TCPFactory(address, dialTimeout)
	}
}
