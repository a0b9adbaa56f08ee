package di

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/KOMKZ/go-yogan-mesh/config"
	"github.com/KOMKZ/go-yogan-mesh/dnsapi"
	"github.com/KOMKZ/go-yogan-mesh/governance"
	meshgrpc "github.com/KOMKZ/go-yogan-mesh/grpc"
	"github.com/KOMKZ/go-yogan-mesh/httpapi"
	"github.com/KOMKZ/go-yogan-mesh/mesh"
	"github.com/miekg/dns"
	"github.com/samber/do/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const quietLogger = `
logger:
  enable_console: false
  enable_file: false
event:
  set_all_sync: true
discovery:
  cache_ttl: 0s
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meshd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(quietLogger+body), 0o644))
	return path
}

func TestApplication_Lifecycle(t *testing.T) {
	path := writeConfig(t, `
http:
  addr: 127.0.0.1:0
  mode: test
dns:
  enabled: true
  addr: 127.0.0.1:0
  net: udp
  domain: mesh.
`)
	app := NewApplication(WithConfigFile(path), WithName("meshd-test"))
	assert.Equal(t, StateInit, app.State())

	require.NoError(t, app.Setup())
	assert.Equal(t, StateSetup, app.State())
	assert.Equal(t, []string{"mesh", "httpapi", "dnsapi"}, app.Components())
	assert.Same(t, app.Mesh(), do.MustInvoke[*mesh.Mesh](app.Injector()))

	ctx := context.Background()
	require.NoError(t, app.Start(ctx))
	assert.Equal(t, StateRunning, app.State())

	reg := app.Mesh().Registry
	_, err := reg.Register(governance.ServiceInstance{
		ServiceName: "orders",
		InstanceID:  "orders-1",
		Host:        "10.0.0.7",
		Port:        8080,
		Weight:      1,
	})
	require.NoError(t, err)
	require.True(t, reg.Heartbeat("orders", "orders-1"))

	// DNS
	dnsSrv := do.MustInvoke[*dnsapi.Server](app.Injector())
	q := new(dns.Msg)
	q.SetQuestion("orders.mesh.", dns.TypeA)
	resp, _, err := (&dns.Client{Net: "udp"}).Exchange(q, dnsSrv.Addr())
	require.NoError(t, err)
	require.Len(t, resp.Answer, 1)
	assert.Equal(t, "10.0.0.7", resp.Answer[0].(*dns.A).A.String())

	// HTTP
	httpSrv := do.MustInvoke[*httpapi.Server](app.Injector())
	res, err := http.Get(fmt.Sprintf("http://%s/health", httpSrv.Addr()))
	require.NoError(t, err)
	_ = res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	report := app.HealthCheck(ctx)
	require.NotNil(t, report)
	assert.Contains(t, report.Checks, "registry")

	require.NoError(t, app.Shutdown(ctx))
	assert.Equal(t, StateStopped, app.State())
	assert.ErrorIs(t, app.Mesh().Start(ctx), mesh.ErrMeshStopped)
}

func TestApplication_OptionalComponents(t *testing.T) {
	path := writeConfig(t, "http:\n  enabled: false\n")
	app := NewApplication(WithConfigFile(path))
	require.NoError(t, app.Setup())
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })

	assert.Equal(t, []string{"mesh"}, app.Components())
	assert.False(t, app.Config().DNS.Enabled)
}

func TestApplication_GRPCSelfRegistration(t *testing.T) {
	path := writeConfig(t, `
http:
  enabled: false
grpc:
  enabled: true
  addr: 127.0.0.1:0
  tracing: false
  registration:
    enabled: true
    service_name: billing
    instance_id: billing-1
`)
	registered := false
	app := NewApplication(WithConfigFile(path), WithGRPCServices(func(s *meshgrpc.Server) {
		registered = s.GRPCServer() != nil
	}))
	require.NoError(t, app.Setup())
	assert.True(t, registered)
	assert.Equal(t, []string{"mesh", "grpc"}, app.Components())

	ctx := context.Background()
	require.NoError(t, app.Start(ctx))
	inst, ok := app.Mesh().Registry.GetInstance("billing", "billing-1")
	require.True(t, ok)
	assert.Equal(t, governance.StatusHealthy, inst.Status)

	require.NoError(t, app.Shutdown(ctx))
	_, ok = app.Mesh().Registry.GetInstance("billing", "billing-1")
	assert.False(t, ok)
}

func TestApplication_RunStopsOnCancel(t *testing.T) {
	path := writeConfig(t, "http:\n  enabled: false\n")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := false
	app := NewApplication(WithConfigFile(path), WithOnReady(func(a *Application) error {
		ready = true
		cancel()
		return nil
	}))

	require.NoError(t, app.Run(ctx))
	assert.True(t, ready)
	assert.Equal(t, StateStopped, app.State())
}

func TestApplication_SetupErrors(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{"配置文件不存在", []Option{WithConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))}},
		{"配置校验失败", []Option{WithConfigFile(writeConfig(t, "client:\n  protocol: quic\n"))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewApplication(tt.opts...).Run(context.Background())
			assert.Error(t, err)
		})
	}
}

func TestProvideMesh_FromLoader(t *testing.T) {
	loader, err := config.NewLoaderBuilder().WithConfigFile(writeConfig(t, "")).Build()
	require.NoError(t, err)

	injector := do.New()
	do.Provide(injector, config.ProvideLoaderValue(loader))
	do.Provide(injector, config.ProvideAppConfig)
	do.Provide(injector, ProvideLoggerManager)
	do.Provide(injector, ProvideMesh())

	m, err := do.Invoke[*mesh.Mesh](injector)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Stop(context.Background()) })

	assert.Equal(t, "mesh", m.Name())
	assert.NotNil(t, m.Client())

	log, err := ProvideCtxLogger("pool")(injector)
	require.NoError(t, err)
	assert.Equal(t, "pool", log.Module())
}
