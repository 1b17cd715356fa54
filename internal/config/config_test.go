package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := DefaultConfig()
	if cfg != want {
		t.Fatalf("Load() = %+v, want defaults %+v", cfg, want)
	}
}

func TestLoadMergesYAMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.yaml"

	contents := []byte(`
sim:
  tickInterval: 2ms
  horizon: 1000
wheel:
  levels: 8
http:
  metricsAddr: "127.0.0.1:8080"
oci:
  enabled: true
  compartmentId: "ocid1.compartment.oc1..test"
`)

	if err := os.WriteFile(path, contents, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Sim.TickInterval != 2*time.Millisecond {
		t.Fatalf("TickInterval = %v, want 2ms", cfg.Sim.TickInterval)
	}

	if cfg.Sim.Horizon != 1000 {
		t.Fatalf("Horizon = %d, want 1000", cfg.Sim.Horizon)
	}

	if cfg.Wheel.Levels != 8 {
		t.Fatalf("Wheel.Levels = %d, want 8", cfg.Wheel.Levels)
	}

	if cfg.HTTP.MetricsAddr != "127.0.0.1:8080" {
		t.Fatalf("MetricsAddr = %q, want 127.0.0.1:8080", cfg.HTTP.MetricsAddr)
	}

	if !cfg.OCI.Enabled || cfg.OCI.CompartmentID != "ocid1.compartment.oc1..test" {
		t.Fatalf("OCI = %+v, want enabled with compartment set", cfg.OCI)
	}

	// HTTP.StatusAddr was not set in the file, so the default survives.
	if cfg.HTTP.StatusAddr != DefaultConfig().HTTP.StatusAddr {
		t.Fatalf("StatusAddr = %q, want default %q", cfg.HTTP.StatusAddr, DefaultConfig().HTTP.StatusAddr)
	}
}

func TestApplyEnvOverridesTakePrecedence(t *testing.T) {
	original := lookupEnv
	t.Cleanup(func() { lookupEnv = original })

	env := map[string]string{
		"DLSCHED_TICK_INTERVAL": "5ms",
		"DLSCHED_HORIZON":       "42",
		"DLSCHED_HOST_LOAD":     "true",
		"DLSCHED_METRICS_ADDR":  ":1234",
	}

	lookupEnv = func(key string) (string, bool) {
		v, ok := env[key]

		return v, ok
	}

	cfg := DefaultConfig()
	applyEnvOverrides(&cfg)

	if cfg.Sim.TickInterval != 5*time.Millisecond {
		t.Fatalf("TickInterval = %v, want 5ms", cfg.Sim.TickInterval)
	}

	if cfg.Sim.Horizon != 42 {
		t.Fatalf("Horizon = %d, want 42", cfg.Sim.Horizon)
	}

	if !cfg.Sim.HostLoad {
		t.Fatal("HostLoad = false, want true")
	}

	if cfg.HTTP.MetricsAddr != ":1234" {
		t.Fatalf("MetricsAddr = %q, want :1234", cfg.HTTP.MetricsAddr)
	}
}

func TestEnvHelpersFallBackOnInvalidValues(t *testing.T) {
	original := lookupEnv
	t.Cleanup(func() { lookupEnv = original })

	lookupEnv = func(key string) (string, bool) {
		return "not-a-number", true
	}

	if got := envInt("X", 7); got != 7 {
		t.Fatalf("envInt fallback = %d, want 7", got)
	}

	if got := envDuration("X", time.Second); got != time.Second {
		t.Fatalf("envDuration fallback = %v, want 1s", got)
	}

	if got := envBool("X", true); got != true {
		t.Fatalf("envBool fallback = %v, want true", got)
	}
}
