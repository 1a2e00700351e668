package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyclecloud/azslurmd/pkg/errs"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "azslurmd.json")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"cluster_name": "hpc1", "web_server": "https://10.0.0.4"}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, defaultMaxNodesInList, cfg.MaxNodesInList)
	assert.Equal(t, defaultReconcileIntervalSecs, cfg.ReconcileIntervalSecs)
	assert.Equal(t, float64(defaultReconcileIntervalSecs), cfg.ReconcileInterval().Seconds())
	assert.Equal(t, defaultMetricsAddr, cfg.MetricsAddr)
}

func TestLoadRejectsMissingClusterName(t *testing.T) {
	path := writeConfig(t, `{}`)

	_, err := Load(path)
	assert.True(t, errs.Is(err, errs.ConfigError))
}

func TestLoadRejectsMissingWebServer(t *testing.T) {
	path := writeConfig(t, `{"cluster_name": "hpc1"}`)

	_, err := Load(path)
	assert.True(t, errs.Is(err, errs.ConfigError))
}

func TestLoadRejectsInvalidChaosChance(t *testing.T) {
	path := writeConfig(t, `{"cluster_name": "hpc1", "web_server": "https://10.0.0.4", "chaos_mode_failure_chance": 1.5}`)

	_, err := Load(path)
	assert.True(t, errs.Is(err, errs.ConfigError))
}

func TestLoadHonorsExplicitValues(t *testing.T) {
	path := writeConfig(t, `{
		"cluster_name": "hpc1",
		"web_server": "https://10.0.0.4",
		"max_nodes_in_list": 100,
		"reconcile_interval_seconds": 30,
		"cost_rates": {"Standard_HB120rs_v3": 3.5}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.MaxNodesInList)
	assert.Equal(t, 3.5, cfg.CostRates["Standard_HB120rs_v3"])
}
