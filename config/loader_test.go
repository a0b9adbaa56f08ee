package config

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	name     string
	priority int
	data     map[string]interface{}
	err      error
}

func (s staticSource) Name() string                          { return s.name }
func (s staticSource) Priority() int                         { return s.priority }
func (s staticSource) Load() (map[string]interface{}, error) { return s.data, s.err }

func TestLoader_PriorityMerge(t *testing.T) {
	l := NewLoader()
	// 添加顺序与优先级无关
	l.AddSource(staticSource{name: "flags", priority: PriorityFlag, data: map[string]interface{}{
		"http.addr": ":9100",
	}})
	l.AddSource(staticSource{name: "file", priority: PriorityFile, data: map[string]interface{}{
		"http.addr":                 ":9000",
		"http.mode":                 "debug",
		"registry.cleanup_interval": "10s",
	}})
	l.AddSource(staticSource{name: "env", priority: PriorityEnv, data: map[string]interface{}{
		"registry.cleanup_interval": "20s",
	}})
	require.NoError(t, l.Load())

	assert.Equal(t, ":9100", l.GetString("http.addr"))
	assert.Equal(t, "debug", l.GetString("http.mode"))
	assert.Equal(t, "20s", l.GetString("registry.cleanup_interval"))
	assert.True(t, l.IsSet("registry"))
	assert.False(t, l.IsSet("dns.addr"))
	assert.Contains(t, l.AllSettings(), "http")
}

func TestLoader_SourceError(t *testing.T) {
	l := NewLoader()
	l.AddSource(staticSource{name: "broken", err: errors.New("boom")})
	err := l.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestLoader_LoadedFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "dns:\n  ttl: 9\n")

	l := NewLoader()
	l.AddSource(NewFileSource(path, PriorityFile))
	l.AddSource(NewFileSource(filepath.Join(dir, "dev.yaml"), PriorityEnvFile))
	require.NoError(t, l.Load())

	assert.Equal(t, []string{path}, l.LoadedFiles())
	assert.Equal(t, 9, l.GetInt("dns.ttl"))

	// Reload 不会重复累积
	require.NoError(t, l.Reload())
	assert.Equal(t, []string{path}, l.LoadedFiles())
}

func TestUnflattenMap(t *testing.T) {
	tests := []struct {
		name   string
		flat   map[string]interface{}
		expect map[string]interface{}
	}{
		{
			name: "多层嵌套",
			flat: map[string]interface{}{"a.b.c": 1, "a.d": 2},
			expect: map[string]interface{}{
				"a": map[string]interface{}{
					"b": map[string]interface{}{"c": 1},
					"d": 2,
				},
			},
		},
		{
			name:   "标量被子 key 覆盖",
			flat:   map[string]interface{}{"a": 1, "a.b": 2},
			expect: map[string]interface{}{"a": map[string]interface{}{"b": 2}},
		},
		{
			name:   "忽略空段",
			flat:   map[string]interface{}{"a..b": 1, "": 2},
			expect: map[string]interface{}{"a": map[string]interface{}{"b": 1}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, unflattenMap(tt.flat))
		})
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("MESH_ENV", "")
	t.Setenv("APP_ENV", "")
	t.Setenv("ENV", "")
	assert.Equal(t, "dev", GetEnv())

	t.Setenv("ENV", "test")
	assert.Equal(t, "test", GetEnv())
	t.Setenv("APP_ENV", "staging")
	assert.Equal(t, "staging", GetEnv())
	t.Setenv("MESH_ENV", "prod")
	assert.Equal(t, "prod", GetEnv())
}
