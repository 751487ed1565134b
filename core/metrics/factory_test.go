package metrics

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/depannage/core/factory"
)

type closingSink struct {
	NopSink
	closed bool
}

func (c *closingSink) Close() { c.closed = true }

func TestNewMetricsSinkShapes(t *testing.T) {
	built := &closingSink{}
	require.NoError(t, RegisterMetricsSink("test-shapes", func(map[string]any) (MetricsSink, error) {
		return built, nil
	}))

	sink, err := NewMetricsSink(nil)
	require.NoError(t, err)
	assert.IsType(t, NopSink{}, sink)

	sink, err = NewMetricsSink([]factory.ModuleConfig{{Type: "test-shapes"}})
	require.NoError(t, err)
	assert.Same(t, built, sink)

	sink, err = NewMetricsSink([]factory.ModuleConfig{{Type: "test-shapes"}, {Type: "test-shapes"}})
	require.NoError(t, err)
	assert.IsType(t, &MultiSink{}, sink)
}

func TestNewMetricsSinkClosesBuiltSinksOnFailure(t *testing.T) {
	first := &closingSink{}
	require.NoError(t, RegisterMetricsSink("test-first", func(map[string]any) (MetricsSink, error) {
		return first, nil
	}))
	boom := errors.New("influx unreachable")
	require.NoError(t, RegisterMetricsSink("test-broken", func(map[string]any) (MetricsSink, error) {
		return nil, boom
	}))

	_, err := NewMetricsSink([]factory.ModuleConfig{{Type: "test-first"}, {Type: "test-broken"}})
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "metrics sink 1")
	assert.True(t, first.closed)

	_, err = NewMetricsSink([]factory.ModuleConfig{{Type: "nope"}})
	assert.ErrorContains(t, err, `unknown module type "nope"`)
}
