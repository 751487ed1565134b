package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, "config.yaml", `http:
  addr: ":9000"
mqtt:
  broker: "tcp://localhost:1883"
  client_id: "cli"
  username: "user"
  password: "pass"
  qos:
    status: 1
dispatch:
  initial_radius_km: 5
  min_candidates: 2
geo:
  average_speed_kmh: 30
store:
  backend: "postgres"
  dsn: "postgres://u:p@localhost/dep?sslmode=disable"
audit:
  backend: "sqlite"
  path: "audit.db"
metrics:
  sinks:
    - type: "prometheus"
sentry:
  dsn: ""
logging:
  level: "debug"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"http.addr", cfg.HTTP.Addr, ":9000"},
		{"http.shutdown", cfg.HTTP.ShutdownTimeoutSeconds, 5},
		{"mqtt.broker", cfg.MQTT.Broker, "tcp://localhost:1883"},
		{"mqtt.client_id", cfg.MQTT.ClientID, "cli"},
		{"mqtt.prefix", cfg.MQTT.TopicPrefix, "depannage"},
		{"mqtt.qos", cfg.MQTT.QoS["status"], byte(1)},
		{"dispatch.initial", cfg.Dispatch.InitialRadiusKm, 5.0},
		{"dispatch.min", cfg.Dispatch.MinCandidates, 2},
		{"dispatch.max", cfg.Dispatch.MaxRadiusKm, 50.0},
		{"geo.speed", cfg.Geo.AverageSpeedKmh, 30.0},
		{"store.backend", cfg.Store.Backend, "postgres"},
		{"audit.backend", cfg.Audit.Backend, "sqlite"},
		{"metrics.sink", cfg.Metrics.Sinks[0].Type, "prometheus"},
		{"metrics.path", cfg.Metrics.Path, "/metrics"},
		{"logging.level", cfg.Logging.Level, "debug"},
		{"logging.format", cfg.Logging.Format, "json"},
	}
	for _, c := range checks {
		assert.Equal(t, c.want, c.got, c.name)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "config.json", `{"http": {"addr": ":8080"}}`)
	t.Setenv("K_HTTP__ADDR", ":7000")
	t.Setenv("K_DISPATCH__MAX_RADIUS_KM", "80")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.HTTP.Addr)
	assert.Equal(t, 80.0, cfg.Dispatch.MaxRadiusKm)
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, err := Load(writeConfig(t, "config.toml", ""))
	assert.ErrorContains(t, err, "unsupported config format")

	_, err = Load(writeConfig(t, "bad.yaml", "store:\n  backend: postgres\n"))
	assert.ErrorContains(t, err, "store: dsn is required")

	_, err = Load(writeConfig(t, "bad.yaml", "logging:\n  format: xml\n"))
	assert.ErrorContains(t, err, "logging")

	_, err = Load(writeConfig(t, "bad.yaml", "sentry:\n  traces_sample_rate: 2\n"))
	assert.ErrorContains(t, err, "sentry")
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "jsonl", cfg.Audit.Backend)
	assert.False(t, cfg.MQTT.Enabled())
}
