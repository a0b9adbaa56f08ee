// Package testutil 网格相关测试的公共夹具
package testutil

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/KOMKZ/go-yogan-mesh/httpapi"
	"github.com/KOMKZ/go-yogan-mesh/logger"
	"github.com/KOMKZ/go-yogan-mesh/mesh"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

// MeshConfig 测试用网格配置：事件同步分发，发现不缓存
func MeshConfig() mesh.Config {
	cfg := mesh.DefaultConfig()
	cfg.Event.SetAllSync = true
	cfg.Discovery.CacheTTL = 0
	return cfg
}

// NewMesh 创建不输出日志的网格（不启动），测试结束时停止
// modify 可为 nil
func NewMesh(t *testing.T, modify func(*mesh.Config), opts ...mesh.Option) *mesh.Mesh {
	t.Helper()
	cfg := MeshConfig()
	if modify != nil {
		modify(&cfg)
	}

	opts = append([]mesh.Option{mesh.WithLogger(logger.NewNop())}, opts...)
	m, err := mesh.New(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Stop(context.Background()) })
	return m
}

// NewAPIServer 用 httptest 承载 m 的管理 API（gin test 模式，无链路追踪）
func NewAPIServer(t *testing.T, m *mesh.Mesh, modify func(*httpapi.Config)) *httptest.Server {
	t.Helper()
	cfg := httpapi.DefaultConfig()
	cfg.Mode = gin.TestMode
	cfg.Tracing = false
	if modify != nil {
		modify(&cfg)
	}

	s, err := httpapi.NewServer(cfg, m, httpapi.WithLogger(logger.NewNop()))
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}
