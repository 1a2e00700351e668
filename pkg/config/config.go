// Package config loads and validates azslurmd's startup configuration.
// Unlike other operator-facing files elsewhere in this stack (which
// favor gopkg.in/yaml.v3), azslurmd's config is JSON only, matching
// the autoscale.json file CycleCloud itself writes into the
// cluster-init directory this daemon replaces.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/cyclecloud/azslurmd/pkg/errs"
)

// CostRates maps a VM size to an hourly rate, used by the `cost` command.
type CostRates map[string]float64

// Config is azslurmd's complete startup configuration, read once from a
// JSON file at daemon start and shared as a *Config with every component.
type Config struct {
	ClusterName    string   `json:"cluster_name"`
	ValidHostnames []string `json:"valid_hostnames"`

	WebServer string `json:"web_server"`
	Username  string `json:"username"`
	Password  string `json:"password"`

	MaxNodesInList         int     `json:"max_nodes_in_list"`
	ReconcileIntervalSecs  int     `json:"reconcile_interval_seconds"`
	AzureSlurmChaosMode    bool    `json:"azure_slurm_chaos_mode"`
	ChaosModeFailureChance float64 `json:"chaos_mode_failure_chance"`

	PIDLockPath     string `json:"pid_lock_path"`
	KeepAliveDBPath string `json:"keepalive_db_path"`

	MetricsAddr string `json:"metrics_addr"`

	CostRates CostRates `json:"cost_rates"`

	LogLevel string `json:"log_level"`
	LogJSON  bool   `json:"log_json"`
}

const (
	defaultMaxNodesInList        = 500
	defaultReconcileIntervalSecs = 10
	defaultPIDLockPath           = "/var/run/azslurmd.pid"
	defaultKeepAliveDBPath       = "/var/spool/azslurmd/keepalive.db"
	defaultMetricsAddr           = "127.0.0.1:9090"
)

// Load reads and validates the JSON config file at path, filling in the
// spec's documented defaults for any field left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.ConfigError, "reading config file "+path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errs.Wrap(errs.ConfigError, "parsing config file "+path, err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.MaxNodesInList <= 0 {
		c.MaxNodesInList = defaultMaxNodesInList
	}
	if c.ReconcileIntervalSecs <= 0 {
		c.ReconcileIntervalSecs = defaultReconcileIntervalSecs
	}
	if c.PIDLockPath == "" {
		c.PIDLockPath = defaultPIDLockPath
	}
	if c.KeepAliveDBPath == "" {
		c.KeepAliveDBPath = defaultKeepAliveDBPath
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = defaultMetricsAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate enforces the invariants that are fatal at startup:
// cluster_name is required, since every provider and scheduler call is
// scoped to it.
func (c *Config) Validate() error {
	if c.ClusterName == "" {
		return errs.New(errs.ConfigError, "cluster_name is required")
	}
	if c.WebServer == "" {
		return errs.New(errs.ConfigError, "web_server is required")
	}
	if c.ChaosModeFailureChance < 0 || c.ChaosModeFailureChance > 1 {
		return errs.New(errs.ConfigError, fmt.Sprintf("chaos_mode_failure_chance must be in [0,1], got %v", c.ChaosModeFailureChance))
	}
	return nil
}

// ReconcileInterval is ReconcileIntervalSecs as a time.Duration.
func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileIntervalSecs) * time.Second
}
