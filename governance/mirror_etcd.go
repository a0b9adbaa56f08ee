package governance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/KOMKZ/go-yogan-mesh/logger"
	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// EtcdMirrorConfig etcd 镜像配置
type EtcdMirrorConfig struct {
	Enabled     bool          `mapstructure:"enabled" json:"enabled"`
	Endpoints   []string      `mapstructure:"endpoints" json:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout" json:"dial_timeout"`
	Username    string        `mapstructure:"username" json:"username"`
	Password    string        `mapstructure:"password" json:"-"`

	// Prefix key 前缀，实例 key 为 <prefix>/<service>/<instance_id>
	Prefix string `mapstructure:"prefix" json:"prefix"`

	// LeaseTTL 租约秒数，镜像停止刷新后 key 自动过期
	LeaseTTL int64 `mapstructure:"lease_ttl" json:"lease_ttl"`
}

// EtcdMirror 把实例写入 etcd（绑定租约）
type EtcdMirror struct {
	client     *clientv3.Client
	ownsClient bool
	prefix     string
	ttl        int64
	logger     *logger.CtxZapLogger

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID
}

// NewEtcdMirror 连接 etcd 并创建镜像
func NewEtcdMirror(cfg EtcdMirrorConfig, log *logger.CtxZapLogger) (*EtcdMirror, error) {
	if log == nil {
		log = logger.GetLogger("mirror")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
		Logger:      log.GetZapLogger(),
	})
	if err != nil {
		return nil, fmt.Errorf("create etcd client: %w", err)
	}

	m := NewEtcdMirrorWithClient(client, cfg, log)
	m.ownsClient = true
	return m, nil
}

// NewEtcdMirrorWithClient 使用已有客户端
func NewEtcdMirrorWithClient(client *clientv3.Client, cfg EtcdMirrorConfig, log *logger.CtxZapLogger) *EtcdMirror {
	if log == nil {
		log = logger.GetLogger("mirror")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultMirrorConfig().Etcd.Prefix
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultMirrorConfig().Etcd.LeaseTTL
	}
	return &EtcdMirror{
		client: client,
		prefix: cfg.Prefix,
		ttl:    cfg.LeaseTTL,
		logger: log,
		leases: make(map[string]clientv3.LeaseID),
	}
}

// Name 镜像名
func (m *EtcdMirror) Name() string {
	return "etcd"
}

// Key 实例在 etcd 中的 key
func (m *EtcdMirror) Key(inst ServiceInstance) string {
	return path.Join(m.prefix, inst.ServiceName, inst.InstanceID)
}

// Publish 续约（租约失效时重新申请）并写入实例 JSON
func (m *EtcdMirror) Publish(ctx context.Context, inst ServiceInstance) error {
	key := m.Key(inst)
	value, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("marshal instance: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	lease, ok := m.leases[key]
	if ok {
		if _, err := m.client.KeepAliveOnce(ctx, lease); err != nil {
			if !errors.Is(err, rpctypes.ErrLeaseNotFound) {
				return fmt.Errorf("keepalive lease: %w", err)
			}
			ok = false
		}
	}
	if !ok {
		resp, err := m.client.Grant(ctx, m.ttl)
		if err != nil {
			return fmt.Errorf("grant lease: %w", err)
		}
		lease = resp.ID
		m.leases[key] = lease
	}

	if _, err := m.client.Put(ctx, key, string(value), clientv3.WithLease(lease)); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	m.logger.DebugCtx(ctx, "instance mirrored to etcd",
		zap.String("key", key),
		zap.String("lease_id", fmt.Sprintf("%x", lease)))
	return nil
}

// Remove 删除 key 并撤销租约
func (m *EtcdMirror) Remove(ctx context.Context, inst ServiceInstance) error {
	key := m.Key(inst)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.client.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	if lease, ok := m.leases[key]; ok {
		delete(m.leases, key)
		if _, err := m.client.Revoke(ctx, lease); err != nil && !errors.Is(err, rpctypes.ErrLeaseNotFound) {
			m.logger.WarnCtx(ctx, "revoke lease failed", zap.String("key", key), zap.Error(err))
		}
	}
	return nil
}

// Close 关闭自行创建的客户端（租约随 TTL 过期）
func (m *EtcdMirror) Close() error {
	if m.ownsClient {
		return m.client.Close()
	}
	return nil
}
