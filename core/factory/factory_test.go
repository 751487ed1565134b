package factory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sink struct {
	URL     string
	Timeout time.Duration
	Batch   int
}

type sinkConf struct {
	URL     string        `json:"url"`
	Timeout time.Duration `json:"timeout"`
	Batch   int           `json:"batch"`
}

func TestRegistryCreate(t *testing.T) {
	reg := NewRegistry[*sink]()
	require.NoError(t, reg.Register("influx", func(conf map[string]any) (*sink, error) {
		var c sinkConf
		if err := Decode(conf, &c); err != nil {
			return nil, err
		}
		return &sink{URL: c.URL, Timeout: c.Timeout, Batch: c.Batch}, nil
	}))
	inst, err := reg.Create(ModuleConfig{Type: "influx", Conf: map[string]any{
		"url": "http://influx:8086", "timeout": "2s", "batch": "50",
	}})
	require.NoError(t, err)
	assert.Equal(t, "http://influx:8086", inst.URL)
	assert.Equal(t, 2*time.Second, inst.Timeout)
	assert.Equal(t, 50, inst.Batch)
}

func TestRegistryErrors(t *testing.T) {
	reg := NewRegistry[int]()
	require.NoError(t, reg.Register("x", func(map[string]any) (int, error) { return 1, nil }))
	assert.Error(t, reg.Register("x", func(map[string]any) (int, error) { return 2, nil }))
	assert.Error(t, reg.Register("y", nil))
	_, err := reg.Create(ModuleConfig{Type: "z"})
	assert.ErrorContains(t, err, "known: [x]")
	assert.Equal(t, []string{"x"}, reg.Types())
}
