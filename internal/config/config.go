// Package config loads the simulation daemon's runtime settings: built-in
// defaults, overlaid by an optional YAML file, overlaid by environment
// variables, following cmd/shaper's original fileConfig/env-override
// pipeline generalized to this domain's knobs.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the simulation daemon's fully-resolved runtime configuration.
type Config struct {
	Sim      SimConfig
	Wheel    WheelConfig
	HTTP     HTTPConfig
	OCI      OCIConfig
	Governor GovernorConfig
}

// SimConfig controls the tick driver.
type SimConfig struct {
	// TickInterval is the wall-clock sleep between simulated ticks.
	TickInterval time.Duration
	// Horizon is the number of ticks to run before exiting; zero means run
	// until the context is cancelled.
	Horizon int
	// HostLoad, when true, drives pkg/shape.Pool workers so each simulated
	// CPU lane's host-observable utilization tracks its computed
	// running_bw/capacity ratio.
	HostLoad bool
	// HostAware, when true, wires pkg/est's /proc/stat sampler into a
	// governor.FreqGovernor that reacts to the real host's load.
	HostAware bool
}

// WheelConfig controls the timer wheel depth.
type WheelConfig struct {
	Levels int
}

// HTTPConfig controls the metrics/status HTTP surfaces.
type HTTPConfig struct {
	MetricsAddr string
	StatusAddr  string
}

// OCIConfig controls the telemetry publisher.
type OCIConfig struct {
	Enabled         bool
	CompartmentID   string
	PublishInterval time.Duration
}

// GovernorConfig controls the best-effort real-OS SCHED_DEADLINE adapter.
type GovernorConfig struct {
	ApplySchedAttr bool
}

// DefaultConfig returns the built-in baseline configuration.
func DefaultConfig() Config {
	return Config{
		Sim: SimConfig{
			TickInterval: time.Millisecond,
			Horizon:      0,
			HostLoad:     false,
			HostAware:    false,
		},
		Wheel: WheelConfig{
			Levels: 9,
		},
		HTTP: HTTPConfig{
			MetricsAddr: ":9090",
			StatusAddr:  ":9091",
		},
		OCI: OCIConfig{
			Enabled:         false,
			CompartmentID:   "",
			PublishInterval: 30 * time.Second,
		},
		Governor: GovernorConfig{
			ApplySchedAttr: false,
		},
	}
}

type simFileConfig struct {
	TickInterval *string `yaml:"tickInterval"`
	Horizon      *int    `yaml:"horizon"`
	HostLoad     *bool   `yaml:"hostLoad"`
	HostAware    *bool   `yaml:"hostAware"`
}

type wheelFileConfig struct {
	Levels *int `yaml:"levels"`
}

type httpFileConfig struct {
	MetricsAddr *string `yaml:"metricsAddr"`
	StatusAddr  *string `yaml:"statusAddr"`
}

type ociFileConfig struct {
	Enabled         *bool   `yaml:"enabled"`
	CompartmentID   *string `yaml:"compartmentId"`
	PublishInterval *string `yaml:"publishInterval"`
}

type governorFileConfig struct {
	ApplySchedAttr *bool `yaml:"applySchedAttr"`
}

type fileConfig struct {
	Sim      *simFileConfig      `yaml:"sim"`
	Wheel    *wheelFileConfig    `yaml:"wheel"`
	HTTP     *httpFileConfig     `yaml:"http"`
	OCI      *ociFileConfig      `yaml:"oci"`
	Governor *governorFileConfig `yaml:"governor"`
}

// Load resolves a Config: defaults, then path's YAML contents (if path is
// non-empty and the file exists), then environment variable overrides.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			var fc fileConfig

			if err := yaml.Unmarshal(data, &fc); err != nil {
				return Config{}, err
			}

			mergeFileConfig(&cfg, fc)
		} else if !os.IsNotExist(err) {
			return Config{}, err
		}
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}

func mergeFileConfig(cfg *Config, fc fileConfig) {
	if fc.Sim != nil {
		assignDuration(&cfg.Sim.TickInterval, fc.Sim.TickInterval)
		assignInt(&cfg.Sim.Horizon, fc.Sim.Horizon)
		assignBool(&cfg.Sim.HostLoad, fc.Sim.HostLoad)
		assignBool(&cfg.Sim.HostAware, fc.Sim.HostAware)
	}

	if fc.Wheel != nil {
		assignInt(&cfg.Wheel.Levels, fc.Wheel.Levels)
	}

	if fc.HTTP != nil {
		assignString(&cfg.HTTP.MetricsAddr, fc.HTTP.MetricsAddr)
		assignString(&cfg.HTTP.StatusAddr, fc.HTTP.StatusAddr)
	}

	if fc.OCI != nil {
		assignBool(&cfg.OCI.Enabled, fc.OCI.Enabled)
		assignString(&cfg.OCI.CompartmentID, fc.OCI.CompartmentID)
		assignDuration(&cfg.OCI.PublishInterval, fc.OCI.PublishInterval)
	}

	if fc.Governor != nil {
		assignBool(&cfg.Governor.ApplySchedAttr, fc.Governor.ApplySchedAttr)
	}
}

func assignString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func assignInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func assignBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func assignDuration(dst *time.Duration, src *string) {
	if src == nil {
		return
	}

	if d, err := time.ParseDuration(*src); err == nil {
		*dst = d
	}
}

// lookupEnv is overridable in tests.
//
//nolint:gochecknoglobals
var lookupEnv = os.LookupEnv

func applyEnvOverrides(cfg *Config) {
	cfg.Sim.TickInterval = envDuration("DLSCHED_TICK_INTERVAL", cfg.Sim.TickInterval)
	cfg.Sim.Horizon = envInt("DLSCHED_HORIZON", cfg.Sim.Horizon)
	cfg.Sim.HostLoad = envBool("DLSCHED_HOST_LOAD", cfg.Sim.HostLoad)
	cfg.Sim.HostAware = envBool("DLSCHED_HOST_AWARE", cfg.Sim.HostAware)

	cfg.Wheel.Levels = envInt("DLSCHED_WHEEL_LEVELS", cfg.Wheel.Levels)

	cfg.HTTP.MetricsAddr = envString("DLSCHED_METRICS_ADDR", cfg.HTTP.MetricsAddr)
	cfg.HTTP.StatusAddr = envString("DLSCHED_STATUS_ADDR", cfg.HTTP.StatusAddr)

	cfg.OCI.Enabled = envBool("DLSCHED_OCI_ENABLED", cfg.OCI.Enabled)
	cfg.OCI.CompartmentID = envString("DLSCHED_OCI_COMPARTMENT_ID", cfg.OCI.CompartmentID)
	cfg.OCI.PublishInterval = envDuration("DLSCHED_OCI_PUBLISH_INTERVAL", cfg.OCI.PublishInterval)

	cfg.Governor.ApplySchedAttr = envBool("DLSCHED_APPLY_SCHED_ATTR", cfg.Governor.ApplySchedAttr)
}

func envString(key, fallback string) string {
	v, ok := lookupEnv(key)
	if !ok {
		return fallback
	}

	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return fallback
	}

	return trimmed
}

func envInt(key string, fallback int) int {
	v, ok := lookupEnv(key)
	if !ok {
		return fallback
	}

	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}

	return n
}

func envBool(key string, fallback bool) bool {
	v, ok := lookupEnv(key)
	if !ok {
		return fallback
	}

	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}

	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v, ok := lookupEnv(key)
	if !ok {
		return fallback
	}

	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}

	return d
}
