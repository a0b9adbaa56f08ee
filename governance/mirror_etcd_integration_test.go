//go:build integration

package governance

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/KOMKZ/go-yogan-mesh/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// 使用本地 etcd：go test -tags integration ./governance/...
var testEtcdEndpoints = []string{"127.0.0.1:2379"}

func TestEtcdMirror_Integration(t *testing.T) {
	client, err := clientv3.New(clientv3.Config{Endpoints: testEtcdEndpoints, DialTimeout: 2 * time.Second})
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := client.Status(ctx, testEtcdEndpoints[0]); err != nil {
		t.Skipf("Skipping etcd integration test: %v", err)
	}

	mirror := NewEtcdMirrorWithClient(client, EtcdMirrorConfig{Prefix: "/test/mesh", LeaseTTL: 5}, logger.NewNop())
	inst := healthy("user-svc", "u-1", 8080, 2)
	key := mirror.Key(inst)
	assert.Equal(t, "/test/mesh/user-svc/u-1", key)

	t.Run("Publish writes instance with lease", func(t *testing.T) {
		require.NoError(t, mirror.Publish(ctx, inst))

		resp, err := client.Get(ctx, key)
		require.NoError(t, err)
		require.Len(t, resp.Kvs, 1)
		assert.NotZero(t, resp.Kvs[0].Lease)

		var got ServiceInstance
		require.NoError(t, json.Unmarshal(resp.Kvs[0].Value, &got))
		assert.Equal(t, StatusHealthy, got.Status)
	})

	t.Run("Publish renews the same lease", func(t *testing.T) {
		before, err := client.Get(ctx, key)
		require.NoError(t, err)

		inst.Status = StatusUnhealthy
		require.NoError(t, mirror.Publish(ctx, inst))

		after, err := client.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, before.Kvs[0].Lease, after.Kvs[0].Lease)
	})

	t.Run("Publish regrants revoked lease", func(t *testing.T) {
		resp, err := client.Get(ctx, key)
		require.NoError(t, err)
		_, err = client.Revoke(ctx, clientv3.LeaseID(resp.Kvs[0].Lease))
		require.NoError(t, err)

		require.NoError(t, mirror.Publish(ctx, inst))
		resp, err = client.Get(ctx, key)
		require.NoError(t, err)
		require.Len(t, resp.Kvs, 1)
	})

	t.Run("Remove deletes key", func(t *testing.T) {
		require.NoError(t, mirror.Remove(ctx, inst))
		resp, err := client.Get(ctx, key)
		require.NoError(t, err)
		assert.Empty(t, resp.Kvs)

		// 不存在不是错误
		require.NoError(t, mirror.Remove(ctx, inst))
	})

	require.NoError(t, mirror.Close())
}
