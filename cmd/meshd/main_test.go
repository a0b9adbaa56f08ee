package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/KOMKZ/go-yogan-mesh/governance"
	"github.com/KOMKZ/go-yogan-mesh/mesh"
	"github.com/KOMKZ/go-yogan-mesh/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAPIServer(t *testing.T) (*httptest.Server, *mesh.Mesh) {
	t.Helper()
	m := testutil.NewMesh(t, nil)
	return testutil.NewAPIServer(t, m, nil), m
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "meshd v"+Version)
	assert.Contains(t, out, "Go Version:")
	assert.Contains(t, out, "OS/Arch:")
}

func TestClientCommands(t *testing.T) {
	ts, m := newAPIServer(t)

	out, err := execute(t, "register", "--server", ts.URL,
		"-s", "orders", "--id", "o-1", "--host", "10.0.0.1", "-p", "8080",
		"--tag", "canary", "--meta", "zone=a")
	require.NoError(t, err)
	var inst governance.ServiceInstance
	require.NoError(t, json.Unmarshal([]byte(out), &inst))
	assert.Equal(t, "o-1", inst.InstanceID)
	assert.Equal(t, "a", inst.Metadata["zone"])

	out, err = execute(t, "services", "--server", ts.URL)
	require.NoError(t, err)
	assert.Equal(t, "orders", strings.TrimSpace(out))

	// 新注册的实例状态未知，心跳后才能被发现
	_, err = execute(t, "discover", "orders", "--server", ts.URL)
	require.Error(t, err)

	require.True(t, m.Registry.Heartbeat("orders", "o-1"))
	out, err = execute(t, "discover", "orders", "--server", ts.URL, "--tag", "canary")
	require.NoError(t, err)
	assert.Contains(t, out, `"instance_id": "o-1"`)

	out, err = execute(t, "instances", "orders", "--server", ts.URL, "--healthy")
	require.NoError(t, err)
	var list []governance.ServiceInstance
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	assert.Len(t, list, 1)

	out, err = execute(t, "deregister", "orders", "o-1", "--server", ts.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "deregistered orders/o-1")

	_, err = execute(t, "health", "--server", ts.URL)
	require.NoError(t, err)
}

func TestRegisterCmd_Validation(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"缺少必填参数", []string{"register", "--server", "http://127.0.0.1:1", "-s", "orders"}},
		{"端口越界", []string{"register", "--server", "http://127.0.0.1:1", "-s", "orders", "--host", "h", "-p", "70000"}},
		{"多余参数", []string{"deregister", "orders"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestServeCmd_MissingConfig(t *testing.T) {
	_, err := execute(t, "serve", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
