// feascheck offline-checks a workload/topology pair for EDF+CBS admission
// feasibility without running the simulation daemon, optionally scaling
// each domain's usable capacity down by a real host's trailing P95 CPU
// utilization pulled from OCI Monitoring (spec.md §4.5's admission_control,
// mirrored offline rather than online).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"dlsched/pkg/admission"
	"dlsched/pkg/deadline"
	"dlsched/pkg/domain"
	"dlsched/pkg/oci"
)

const defaultTimeout = 30 * time.Second

var errMissingTopology = errors.New("topology file is required")

type checkConfig struct {
	topologyPath  string
	workloadPath  string
	instanceID    string
	compartmentID string
	timeout       time.Duration
}

type workloadFile struct {
	Tasks []taskFile `yaml:"tasks"`
}

type taskFile struct {
	ID         int64 `yaml:"id"`
	RuntimeNS  int64 `yaml:"runtimeNs"`
	DeadlineNS int64 `yaml:"deadlineNs"`
	PeriodNS   int64 `yaml:"periodNs"`
}

//nolint:gochecknoglobals // test seam for injecting a fake P95 client
var newMetricsClient = func(compartmentID string) (p95Querier, error) {
	return oci.NewInstancePrincipalClient(compartmentID)
}

type p95Querier interface {
	QueryCapacityHeadroomQ20(ctx context.Context, instanceOCID string, last7d bool) (int64, error)
}

const capacityHeadroomShift = 20

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		logFatal(err)
	}

	if err := run(cfg); err != nil {
		logFatal(err)
	}
}

func run(cfg checkConfig) error {
	topologyData, err := os.ReadFile(cfg.topologyPath)
	if err != nil {
		return fmt.Errorf("read topology file: %w", err)
	}

	_, domainCPUs, err := domain.ParseTopology(topologyData)
	if err != nil {
		return fmt.Errorf("parse topology file: %w", err)
	}

	tasks, err := loadWorkload(cfg.workloadPath)
	if err != nil {
		return fmt.Errorf("load workload file: %w", err)
	}

	capacityScale := 1.0

	if cfg.instanceID != "" && cfg.compartmentID != "" {
		scale, err := queryCapacityScale(cfg)
		if err != nil {
			log.Printf("warning: P95 lookup failed, assuming full capacity: %v", err)
		} else {
			capacityScale = scale
		}
	}

	bounds := deadline.DefaultPeriodBounds()

	for _, cpus := range domainCPUs {
		scaled := make([]domain.CPUInfo, len(cpus))

		for i, info := range cpus {
			info.Capacity = uint32(float64(info.Capacity) * capacityScale)
			scaled[i] = info
		}

		d := domain.NewDomain(scaled)

		admitted, rejected := 0, 0

		for _, t := range tasks {
			_, err := admission.Admit(d, bounds, admission.Request{Params: t})
			if err != nil {
				rejected++

				continue
			}

			admitted++
		}

		log.Printf("domain cpus=%v capacity=%d total_bw=%d admitted=%d rejected=%d",
			domainCPUIDs(scaled), d.Capacity(), d.TotalBW(), admitted, rejected)
	}

	return nil
}

func queryCapacityScale(cfg checkConfig) (float64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	client, err := newMetricsClient(cfg.compartmentID)
	if err != nil {
		return 0, fmt.Errorf("build instance principal client: %w", err)
	}

	headroomQ20, err := client.QueryCapacityHeadroomQ20(ctx, cfg.instanceID, true)
	if err != nil {
		return 0, fmt.Errorf("query P95 CPU: %w", err)
	}

	return float64(headroomQ20) / float64(int64(1)<<capacityHeadroomShift), nil
}

func loadWorkload(path string) ([]deadline.Params, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workload file %q: %w", path, err)
	}

	var file workloadFile

	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode workload file %q: %w", path, err)
	}

	params := make([]deadline.Params, 0, len(file.Tasks))

	for _, tf := range file.Tasks {
		params = append(params, deadline.Params{Runtime: tf.RuntimeNS, Deadline: tf.DeadlineNS, Period: tf.PeriodNS})
	}

	return params, nil
}

func domainCPUIDs(cpus []domain.CPUInfo) []int {
	ids := make([]int, len(cpus))
	for i, c := range cpus {
		ids[i] = c.ID
	}

	return ids
}

func parseConfig(args []string) (checkConfig, error) {
	var cfg checkConfig

	flags := flag.NewFlagSet("feascheck", flag.ContinueOnError)
	flags.SetOutput(io.Discard)

	flags.StringVar(&cfg.topologyPath, "topology", "", "Path to the CPU topology file")
	flags.StringVar(&cfg.workloadPath, "workload", "", "Path to the YAML workload file")
	flags.StringVar(&cfg.instanceID, "instance", "", "OCID of a real instance to scale capacity by (optional)")
	flags.StringVar(&cfg.compartmentID, "compartment", "", "Compartment OCID scoped for Monitoring queries")
	flags.DurationVar(&cfg.timeout, "timeout", defaultTimeout, "Timeout for the Monitoring API request")

	if err := flags.Parse(args); err != nil {
		return checkConfig{}, fmt.Errorf("parse flags: %w", err)
	}

	if cfg.topologyPath == "" {
		return checkConfig{}, errMissingTopology
	}

	return cfg, nil
}

func logFatal(err error) {
	log.Printf("error: %v", err)
	os.Exit(1)
}
