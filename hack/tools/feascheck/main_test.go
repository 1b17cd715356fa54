package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dlsched/pkg/domain"
)

var (
	errQueryFailure   = errors.New("boom")
	errFactoryFailure = errors.New("factory failure")

	metricsClientMutex sync.Mutex //nolint:gochecknoglobals // test seam
)

type fakeP95Querier struct {
	value float32
	err   error
}

func (f *fakeP95Querier) QueryCapacityHeadroomQ20(_ context.Context, _ string, _ bool) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}

	const oneQ20 = int64(1) << capacityHeadroomShift

	used := int64(float64(f.value) / 100 * float64(oneQ20))

	switch {
	case used >= oneQ20:
		return 0, nil
	case used < 0:
		return oneQ20, nil
	default:
		return oneQ20 - used, nil
	}
}

func withMetricsClient(t *testing.T, client p95Querier, execute func()) {
	t.Helper()

	metricsClientMutex.Lock()

	previous := newMetricsClient
	newMetricsClient = func(string) (p95Querier, error) {
		return client, nil
	}

	defer func() {
		newMetricsClient = previous

		metricsClientMutex.Unlock()
	}()

	execute()
}

func TestParseConfigRequiresTopology(t *testing.T) {
	_, err := parseConfig(nil)
	if !errors.Is(err, errMissingTopology) {
		t.Fatalf("parseConfig(nil) = %v, want errMissingTopology", err)
	}
}

func TestParseConfigParsesFlags(t *testing.T) {
	cfg, err := parseConfig([]string{
		"-topology", "topo.yaml",
		"-workload", "work.yaml",
		"-instance", "ocid1.instance",
		"-compartment", "ocid1.compartment",
		"-timeout", "5s",
	})
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}

	if cfg.topologyPath != "topo.yaml" || cfg.workloadPath != "work.yaml" {
		t.Fatalf("unexpected paths: %+v", cfg)
	}

	if cfg.instanceID != "ocid1.instance" || cfg.compartmentID != "ocid1.compartment" {
		t.Fatalf("unexpected ids: %+v", cfg)
	}

	if cfg.timeout != 5*time.Second {
		t.Fatalf("timeout = %v, want 5s", cfg.timeout)
	}
}

func TestQueryCapacityScaleConvertsP95ToHeadroom(t *testing.T) {
	client := &fakeP95Querier{value: 75}

	withMetricsClient(t, client, func() {
		scale, err := queryCapacityScale(checkConfig{
			instanceID:    "ocid1.instance",
			compartmentID: "ocid1.compartment",
			timeout:       time.Second,
		})
		if err != nil {
			t.Fatalf("queryCapacityScale: %v", err)
		}

		if scale != 0.25 {
			t.Fatalf("scale = %v, want 0.25 (1 - 75%%)", scale)
		}
	})
}

func TestQueryCapacityScaleClampsNegativeHeadroomToZero(t *testing.T) {
	client := &fakeP95Querier{value: 150}

	withMetricsClient(t, client, func() {
		scale, err := queryCapacityScale(checkConfig{
			instanceID:    "ocid1.instance",
			compartmentID: "ocid1.compartment",
			timeout:       time.Second,
		})
		if err != nil {
			t.Fatalf("queryCapacityScale: %v", err)
		}

		if scale != 0 {
			t.Fatalf("scale = %v, want 0 when P95 exceeds 100%%", scale)
		}
	})
}

func TestQueryCapacityScalePropagatesQueryErrors(t *testing.T) {
	client := &fakeP95Querier{err: errQueryFailure}

	withMetricsClient(t, client, func() {
		_, err := queryCapacityScale(checkConfig{
			instanceID:    "ocid1.instance",
			compartmentID: "ocid1.compartment",
			timeout:       time.Second,
		})
		if err == nil || !errors.Is(err, errQueryFailure) {
			t.Fatalf("queryCapacityScale error = %v, want wrapped errQueryFailure", err)
		}
	})
}

func TestQueryCapacityScalePropagatesFactoryErrors(t *testing.T) {
	metricsClientMutex.Lock()

	previous := newMetricsClient
	newMetricsClient = func(string) (p95Querier, error) {
		return nil, errFactoryFailure
	}

	defer func() {
		newMetricsClient = previous

		metricsClientMutex.Unlock()
	}()

	_, err := queryCapacityScale(checkConfig{
		instanceID:    "ocid1.instance",
		compartmentID: "ocid1.compartment",
		timeout:       time.Second,
	})
	if err == nil || !errors.Is(err, errFactoryFailure) {
		t.Fatalf("queryCapacityScale error = %v, want wrapped errFactoryFailure", err)
	}
}

func TestLoadWorkloadEmptyPathReturnsNil(t *testing.T) {
	params, err := loadWorkload("")
	if err != nil || params != nil {
		t.Fatalf("loadWorkload(\"\") = %v, %v, want nil, nil", params, err)
	}
}

func TestRunRejectsMissingTopologyFile(t *testing.T) {
	err := run(checkConfig{topologyPath: "/nonexistent/topology.yaml"})
	if err == nil {
		t.Fatal("run() with a missing topology file = nil, want error")
	}
}

func TestDomainCPUIDsPreservesOrder(t *testing.T) {
	cpus := []domain.CPUInfo{{ID: 2}, {ID: 0}, {ID: 1}}

	ids := domainCPUIDs(cpus)

	if ids[0] != 2 || ids[1] != 0 || ids[2] != 1 {
		t.Fatalf("unexpected id order: %v", ids)
	}
}
