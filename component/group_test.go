package component

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingComponent struct {
	name     string
	startErr error
	log      *[]string
}

func (c *recordingComponent) Name() string { return c.name }

func (c *recordingComponent) Start(ctx context.Context) error {
	if c.startErr != nil {
		return c.startErr
	}
	*c.log = append(*c.log, "start:"+c.name)
	return nil
}

func (c *recordingComponent) Stop(ctx context.Context) error {
	*c.log = append(*c.log, "stop:"+c.name)
	return nil
}

func TestGroup_StartStopOrder(t *testing.T) {
	var log []string
	g := NewGroup()
	require.NoError(t, g.Add(&recordingComponent{name: "registry", log: &log}))
	require.NoError(t, g.Add(&recordingComponent{name: "http_api", log: &log}))

	require.NoError(t, g.Start(context.Background()))
	require.NoError(t, g.Stop(context.Background()))

	assert.Equal(t, []string{"start:registry", "start:http_api", "stop:http_api", "stop:registry"}, log)
	assert.Equal(t, []string{"registry", "http_api"}, g.Names())
}

func TestGroup_StartFailureRollsBack(t *testing.T) {
	var log []string
	g := NewGroup()
	require.NoError(t, g.Add(&recordingComponent{name: "registry", log: &log}))
	require.NoError(t, g.Add(&recordingComponent{name: "dns_api", startErr: errors.New("bind failed"), log: &log}))

	err := g.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dns_api")
	assert.Equal(t, []string{"start:registry", "stop:registry"}, log)

	// 再次 Stop 不会重复停止
	require.NoError(t, g.Stop(context.Background()))
	assert.Len(t, log, 2)
}

func TestGroup_DuplicateName(t *testing.T) {
	var log []string
	g := NewGroup()
	require.NoError(t, g.Add(&recordingComponent{name: "pool", log: &log}))
	assert.Error(t, g.Add(&recordingComponent{name: "pool", log: &log}))
	assert.Error(t, g.Add(nil))
}
