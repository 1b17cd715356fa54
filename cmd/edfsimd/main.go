// Package main wires the edfsimd daemon entrypoint.
package main

//nolint:depguard // main wires project-internal modules and zap logging
import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"dlsched/internal/buildinfo"
	"dlsched/internal/config"
	"dlsched/pkg/adapt"
	"dlsched/pkg/domain"
	"dlsched/pkg/est"
	"dlsched/pkg/governor"
	"dlsched/pkg/httpapi/metrics"
	"dlsched/pkg/httpapi/status"
	"dlsched/pkg/imds"
	"dlsched/pkg/telemetry"
)

const (
	defaultConfigPath   = "/etc/dlsched/config.yaml"
	defaultTopologyPath = "/etc/dlsched/topology.yaml"
	defaultLogLevel     = "info"
	defaultLockPath     = "/var/run/dlsched/edfsimd.lock"

	exitCodeSuccess      = 0
	exitCodeRuntimeError = 1
	exitCodeParseError   = 2
)

func main() {
	code := run(context.Background(), os.Args[1:], os.Stderr)
	if code != 0 {
		os.Exit(code)
	}
}

type options struct {
	configPath   string
	topologyPath string
	workloadPath string
	logLevel     string
	lockPath     string
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	opts, err := parseArgs(args)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)

		return exitCodeParseError
	}

	logger, err := newLogger(opts.logLevel)
	if err != nil {
		fmt.Fprintf(stderr, "failed to configure logger: %v\n", err)

		return exitCodeRuntimeError
	}

	defer func() {
		_ = logger.Sync()
	}()

	fileLock := flock.New(opts.lockPath)

	locked, err := fileLock.TryLock()
	if err != nil {
		logger.Error("failed to acquire runtime lock", zap.String("path", opts.lockPath), zap.Error(err))

		return exitCodeRuntimeError
	}

	if !locked {
		logger.Error("another edfsimd instance holds the runtime lock", zap.String("path", opts.lockPath))

		return exitCodeRuntimeError
	}

	defer func() {
		_ = fileLock.Unlock()
	}()

	info := buildinfo.Current()
	logger.Info("starting edfsimd",
		zap.String("build", info.String()),
		zap.String("configPath", opts.configPath),
		zap.String("topologyPath", opts.topologyPath),
	)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		logger.Error("failed to load config", zap.Error(err))

		return exitCodeRuntimeError
	}

	topologyData, err := os.ReadFile(opts.topologyPath)
	if err != nil {
		logger.Error("failed to read topology file", zap.Error(err))

		return exitCodeRuntimeError
	}

	_, domainCPUs, err := domain.ParseTopology(topologyData)
	if err != nil {
		logger.Error("failed to parse topology file", zap.Error(err))

		return exitCodeRuntimeError
	}

	tasks, sugovFlags, err := loadWorkload(opts.workloadPath)
	if err != nil {
		logger.Error("failed to load workload file", zap.Error(err))

		return exitCodeRuntimeError
	}

	exporter := metrics.NewExporter()

	publisher, idle, freq, instanceID := buildCollaborators(ctx, logger, cfg)

	if instanceID != "" {
		for i, cpus := range domainCPUs {
			domainCPUs[i] = applyShapeCapacityHint(ctx, logger, instanceID, cpus)
		}
	}

	var schedAttr governor.SchedAttrApplier
	if cfg.Governor.ApplySchedAttr {
		schedAttr = governor.NewSchedAttrApplier()
	}

	sim := adapt.NewSimulation(domainCPUs, adapt.Config{
		Mode:              "simulate",
		Log:               logger,
		TickInterval:      cfg.Sim.TickInterval,
		TelemetryInterval: cfg.OCI.PublishInterval,
		Exporter:          exporter,
		Publisher:         publisher,
		Idle:              idle,
		Freq:              freq,
		SchedAttr:         schedAttr,
		HostLoad:          cfg.Sim.HostLoad,
		WheelLevels:       cfg.Wheel.Levels,
	})

	for i, task := range tasks {
		if err := sim.AdmitTask(task, sugovFlags[i]); err != nil {
			logger.Warn("task rejected at admission", zap.Uint64("taskId", uint64(task.ID)), zap.Error(err))
		}
	}

	if cfg.Sim.HostLoad {
		sim.StartHostLoad(ctx)
	}

	statusHandler := status.NewHandler(sim)

	stopHTTP := startHTTPServers(logger, cfg, exporter, statusHandler)
	defer stopHTTP()

	var runErr error
	if cfg.Sim.Horizon > 0 {
		runErr = sim.RunTicks(ctx, cfg.Sim.Horizon)
	} else {
		runErr = sim.Run(ctx)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("simulation run failed", zap.Error(runErr))

		return exitCodeRuntimeError
	}

	return exitCodeSuccess
}

// buildCollaborators assembles the optional OCI telemetry publisher and the
// idle/cpufreq governor collaborators named by SPEC_FULL.md §9, degrading
// to no-ops when the corresponding config knob is off or construction
// fails (the daemon should keep simulating even if OCI auth is broken).
func buildCollaborators(
	ctx context.Context,
	logger *zap.Logger,
	cfg config.Config,
) (*telemetry.Publisher, governor.IdleController, governor.FreqGovernor, string) {
	var publisher *telemetry.Publisher

	var instanceID string

	if cfg.OCI.Enabled {
		client := imds.NewClient(http.DefaultClient)

		id, err := client.InstanceID(ctx)
		if err != nil {
			logger.Warn("imds instance id lookup failed, disabling telemetry", zap.Error(err))
		} else {
			instanceID = id

			p, err := telemetry.NewInstancePrincipalPublisher(cfg.OCI.CompartmentID, instanceID)
			if err != nil {
				logger.Warn("telemetry publisher construction failed", zap.Error(err))
			} else {
				publisher = p
			}
		}
	}

	idle := governor.IdleController(governor.NoopIdleController{})

	var freq governor.FreqGovernor = governor.NewLoggingFreqGovernor(logger)

	if cfg.Sim.HostAware {
		sampler := est.NewSampler(est.FileSource{Path: "/proc/stat"}, est.DefaultInterval)
		observed := governor.NewObservedFreqGovernor(logger, sampler)

		go observed.Run(ctx)

		freq = observed
	}

	return publisher, idle, freq, instanceID
}

// applyShapeCapacityHint scales each CPU's reported SCHED_CAPACITY_SCALE
// capacity down by the running instance's shape-config baseline OCPU ratio
// (§4.5 admission_control must not admit dl_bw the host can only sustain
// during a burst window). A lookup failure leaves the topology file's
// capacities untouched rather than aborting the daemon.
func applyShapeCapacityHint(
	ctx context.Context,
	logger *zap.Logger,
	instanceID string,
	cpus []domain.CPUInfo,
) []domain.CPUInfo {
	client := imds.NewClient(http.DefaultClient)

	scale, err := client.CapacityScale(ctx)
	if err != nil {
		logger.Warn("imds shape-config lookup failed, using topology capacities as-is",
			zap.String("instanceId", instanceID), zap.Error(err))

		return cpus
	}

	if scale >= 1 {
		return cpus
	}

	logger.Info("scaling domain capacity by burstable shape baseline",
		zap.String("instanceId", instanceID),
		zap.Float64("scale", scale),
	)

	scaled := make([]domain.CPUInfo, len(cpus))

	for i, c := range cpus {
		c.Capacity = uint32(float64(c.Capacity) * scale)
		scaled[i] = c
	}

	return scaled
}

func startHTTPServers(
	logger *zap.Logger,
	cfg config.Config,
	exporter *metrics.Exporter,
	statusHandler *status.Handler,
) func() {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", exporter)
	metricsServer := &http.Server{Addr: cfg.HTTP.MetricsAddr, Handler: metricsMux, ReadHeaderTimeout: 5 * time.Second}

	statusMux := http.NewServeMux()
	statusMux.Handle("/status", statusHandler)
	statusServer := &http.Server{Addr: cfg.HTTP.StatusAddr, Handler: statusMux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	go func() {
		if err := statusServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server failed", zap.Error(err))
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = metricsServer.Shutdown(shutdownCtx)
		_ = statusServer.Shutdown(shutdownCtx)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "" {
		level = defaultLogLevel
	}

	cfg := zap.NewProductionConfig()

	err := cfg.Level.UnmarshalText([]byte(level))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidLogLevel, err)
	}

	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.CallerKey = "caller"

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}

	return logger, nil
}

func parseArgs(args []string) (options, error) {
	var opts options

	flagSet := flag.NewFlagSet("edfsimd", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.StringVar(&opts.configPath, "config", defaultConfigPath, "Path to the daemon configuration file")
	flagSet.StringVar(&opts.topologyPath, "topology", defaultTopologyPath, "Path to the CPU topology file")
	flagSet.StringVar(&opts.workloadPath, "workload", "", "Path to the YAML workload file")
	flagSet.StringVar(&opts.logLevel, "log-level", defaultLogLevel, "Structured log level (debug, info, warn, error)")
	flagSet.StringVar(&opts.lockPath, "lock", defaultLockPath, "Path to the exclusive runtime lock file")

	if err := flagSet.Parse(args); err != nil {
		return options{}, fmt.Errorf("parse CLI arguments: %w", err)
	}

	opts.configPath = strings.TrimSpace(opts.configPath)
	opts.topologyPath = strings.TrimSpace(opts.topologyPath)
	opts.workloadPath = strings.TrimSpace(opts.workloadPath)
	opts.lockPath = strings.TrimSpace(opts.lockPath)

	opts.logLevel = strings.TrimSpace(opts.logLevel)
	if opts.logLevel == "" {
		opts.logLevel = defaultLogLevel
	}

	return opts, nil
}

var errInvalidLogLevel = errors.New("invalid log level")
