package monitoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/depannage/config"
	coremon "github.com/kilianp07/depannage/core/monitoring"
)

func TestNewSentryMonitorWithoutDSN(t *testing.T) {
	mon, err := NewSentryMonitor(config.SentryConfig{})
	require.NoError(t, err)
	assert.IsType(t, coremon.NopMonitor{}, mon)
}

func TestNewSentryMonitorBadDSN(t *testing.T) {
	_, err := NewSentryMonitor(config.SentryConfig{DSN: "::not a dsn"})
	assert.Error(t, err)
}
