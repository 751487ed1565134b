package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioYAML = `
name: cli
technicians:
  - id: t1
    rating: 4.5
    vehicles: [voiture]
    lat: 6.37
    lng: 2.39
steps:
  - op: create
    demande: d1
    client: c1
    lat: 6.38
    lng: 2.39
    vehicle: voiture
    panne: batterie
  - op: accept
    demande: d1
    technician: t1
expected:
  won: %d
`

func writeScenario(t *testing.T, won int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(scenarioYAML, won)), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		cfgPath = "config.yaml"
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestSimulateReplaysScenario(t *testing.T) {
	out, err := execute(t, "simulate", writeScenario(t, 1))
	require.NoError(t, err)
	assert.Contains(t, out, "d1 candidates=1")
	assert.Contains(t, out, "d1 won by t1")
	assert.Contains(t, out, "accepts: won=1 lost=0")
}

func TestSimulateFailsOnUnmetExpectation(t *testing.T) {
	_, err := execute(t, "simulate", writeScenario(t, 2))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 2 won accepts")
}

func TestSimulateRejectsMissingExplicitConfig(t *testing.T) {
	_, err := execute(t, "simulate", "-c", filepath.Join(t.TempDir(), "nope.yaml"), writeScenario(t, 1))
	assert.Error(t, err)
}

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	cfgPath = filepath.Join(t.TempDir(), "missing.yaml")
	t.Cleanup(func() { cfgPath = "config.yaml" })
	c := &cobra.Command{}
	c.Flags().StringVarP(new(string), "config", "c", "config.yaml", "")
	cfg, err := loadConfig(c)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
}
