// Package adapt wires the deadline scheduling core, timer wheel, PELT
// tracker, push/pull controller and admission checks into one runnable
// simulation: the orchestrator cmd/edfsimd drives, and the concrete
// implementation of the status/metrics surfaces' Controller contracts.
package adapt

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"dlsched/pkg/admission"
	"dlsched/pkg/clock"
	"dlsched/pkg/deadline"
	"dlsched/pkg/domain"
	"dlsched/pkg/governor"
	"dlsched/pkg/httpapi/metrics"
	"dlsched/pkg/httpapi/status"
	"dlsched/pkg/pelt"
	"dlsched/pkg/pushpull"
	"dlsched/pkg/shape"
	"dlsched/pkg/telemetry"
	"dlsched/pkg/wheel"
)

var errUnknownCPU = errors.New("adapt: cpu not present in simulation")

// lane is everything the simulation owns for one simulated CPU.
type lane struct {
	cpu    int
	clock  *clock.Source
	rq     *deadline.Runqueue
	pool   *shape.Pool // nil unless host-load mode is enabled
	signal pelt.Signal // aggregate runqueue-level PELT signal (§4.4 RunqueueInputs)
}

// Simulation owns one or more scheduling domains, their member CPU lanes,
// the push/pull controllers balancing load across each domain, and the
// optional telemetry/metrics/governor collaborators. It satisfies
// pkg/httpapi/status.Controller directly.
type Simulation struct {
	log  *zap.Logger
	mode string

	bounds deadline.PeriodBounds

	lanes       map[int]*lane
	laneDomain  map[int]*domain.Domain
	domains     []*domain.Domain
	controllers map[*domain.Domain]*pushpull.Controller

	rtBandwidth *admission.SharedRTBandwidth

	idle      governor.IdleController
	freq      governor.FreqGovernor
	schedAttr governor.SchedAttrApplier

	exporter  *metrics.Exporter
	publisher *telemetry.Publisher

	tickInterval      time.Duration
	telemetryInterval time.Duration

	mu                sync.Mutex
	state             status.State
	lastAdmissionErr  error
	lastTelemetryErr  error
	nowNS             int64
	ticksRun          int64
}

// Config carries everything NewSimulation needs to assemble a run.
type Config struct {
	Mode              string
	Log               *zap.Logger
	Bounds            deadline.PeriodBounds
	TickInterval      time.Duration
	TelemetryInterval time.Duration
	Exporter          *metrics.Exporter
	Publisher         *telemetry.Publisher // nil disables telemetry publishing
	Idle              governor.IdleController
	Freq              governor.FreqGovernor
	RTBandwidth       *admission.SharedRTBandwidth
	HostLoad          bool
	WheelLevels       int
	SchedAttr         governor.SchedAttrApplier // nil disables real sched_setattr application
}

// NewSimulation builds a Simulation from a topology's per-domain CPU lists.
// Each entry of domainCPUs becomes one domain.Domain with its own
// pushpull.Controller; lanes are shared across domains only in naming (cpu
// ids must be globally unique across the whole topology).
func NewSimulation(domainCPUs [][]domain.CPUInfo, cfg Config) *Simulation {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}

	idle := cfg.Idle
	if idle == nil {
		idle = governor.NoopIdleController{}
	}

	freq := cfg.Freq
	if freq == nil {
		freq = governor.NewLoggingFreqGovernor(log)
	}

	bounds := cfg.Bounds
	if bounds.Max == 0 {
		bounds = deadline.DefaultPeriodBounds()
	}

	tickInterval := cfg.TickInterval
	if tickInterval <= 0 {
		tickInterval = time.Millisecond
	}

	wheelLevels := cfg.WheelLevels
	if wheelLevels < wheel.MinLevels {
		wheelLevels = wheel.MaxLevels
	}

	sim := &Simulation{
		log:               log,
		mode:              cfg.Mode,
		bounds:            bounds,
		lanes:             make(map[int]*lane),
		laneDomain:        make(map[int]*domain.Domain),
		controllers:       make(map[*domain.Domain]*pushpull.Controller),
		rtBandwidth:       cfg.RTBandwidth,
		idle:              idle,
		freq:              freq,
		schedAttr:         cfg.SchedAttr,
		exporter:          cfg.Exporter,
		publisher:         cfg.Publisher,
		tickInterval:      tickInterval,
		telemetryInterval: cfg.TelemetryInterval,
		state:             status.StateRunning,
	}

	for _, cpus := range domainCPUs {
		d := domain.NewDomain(cpus)
		sim.domains = append(sim.domains, d)

		runqueues := make(map[int]*deadline.Runqueue, len(cpus))

		for _, info := range cpus {
			clk := clock.NewManualSource(0)
			wb := newWheelBase(wheelLevels)
			rq := deadline.NewRunqueue(info.ID, clk, wb)

			l := &lane{cpu: info.ID, clock: clk, rq: rq}
			if cfg.HostLoad {
				pool, err := shape.NewPool(1, shape.DefaultQuantum)
				if err == nil {
					l.pool = pool
				}
			}

			sim.lanes[info.ID] = l
			sim.laneDomain[info.ID] = d
			runqueues[info.ID] = rq
		}

		controller := pushpull.NewController(d, runqueues)
		sim.controllers[d] = controller
	}

	return sim
}

// Mode reports the simulation's configured run mode.
func (s *Simulation) Mode() string { return s.mode }

// State reports the coarse health state, satisfying status.Controller.
func (s *Simulation) State() status.State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// LastTelemetryError returns the most recent telemetry publish error, or
// nil, satisfying status.Controller.
func (s *Simulation) LastTelemetryError() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastTelemetryErr
}

// LastAdmissionError returns the most recent admission rejection, or nil,
// satisfying status.Controller.
func (s *Simulation) LastAdmissionError() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastAdmissionErr
}

// AdmitTask validates and enqueues a new task onto its chosen CPU: runs
// admission against the owning domain, then enqueues it on the runqueue
// selected by push/pull's wake-time placement rule (§4.1
// select_cpu_for_wakeup_dl). On admission failure the task is not
// enqueued and the error is recorded for the status surface.
func (s *Simulation) AdmitTask(t *deadline.Task, sugov bool) error {
	cpu, err := s.pickLaneForTask(t)
	if err != nil {
		s.recordAdmissionErr(err)

		return err
	}

	d := s.laneDomain[cpu]

	bw, err := admission.Admit(d, s.bounds, admission.Request{
		Params:      t.Params,
		SUGOV:       sugov,
		RTBandwidth: s.rtBandwidth,
	})
	if err != nil {
		s.recordAdmissionErr(err)

		return err
	}

	t.BW = bw
	t.CPU = cpu

	rq := s.lanes[cpu].rq
	now := s.lanes[cpu].clock.NowNS()

	rq.Enqueue(t.Entity, deadline.EnqueueWakeup, now)
	s.recordAdmissionErr(nil)

	return nil
}

func (s *Simulation) pickLaneForTask(t *deadline.Task) (int, error) {
	for _, controller := range s.controllers {
		cpu, err := controller.SelectCPUForWakeup(t.Entity)
		if err == nil {
			return cpu, nil
		}
	}

	return 0, fmt.Errorf("%w: no domain could place task %d", pushpull.ErrNoTarget, t.ID)
}

func (s *Simulation) recordAdmissionErr(err error) {
	s.mu.Lock()
	s.lastAdmissionErr = err
	s.mu.Unlock()
}

func (s *Simulation) recordTelemetryErr(err error) {
	s.mu.Lock()
	s.lastTelemetryErr = err
	s.mu.Unlock()
}

// RunTicks advances the simulation by n ticks of tickInterval each,
// sleeping in real wall-clock time between ticks so host-load mode's
// duty-cycle workers and the observed governor have something real to
// react to. It returns early if ctx is cancelled.
func (s *Simulation) RunTicks(ctx context.Context, n int) error {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for i := 0; n <= 0 || i < n; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick()
		}
	}

	return nil
}

// Run drives the simulation until ctx is cancelled, returning nil when it
// stops because of that cancellation.
func (s *Simulation) Run(ctx context.Context) error {
	err := s.RunTicks(ctx, 0)
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

func (s *Simulation) tick() {
	s.mu.Lock()
	s.nowNS += s.tickInterval.Nanoseconds()
	now := s.nowNS
	s.ticksRun++
	ticksRun := s.ticksRun
	s.mu.Unlock()

	shouldPublish := false

	if s.publisher != nil && s.telemetryInterval > 0 {
		ticksPerPublish := int64(s.telemetryInterval / s.tickInterval)
		if ticksPerPublish < 1 {
			ticksPerPublish = 1
		}

		shouldPublish = ticksRun%ticksPerPublish == 0
	}

	cpus := s.sortedCPUs()

	samples := make([]telemetry.Sample, 0, len(cpus)*2)

	for _, cpu := range cpus {
		l := s.lanes[cpu]
		l.clock.Advance(s.tickInterval.Nanoseconds())

		s.tickLane(l, now)

		if shouldPublish {
			samples = append(samples,
				telemetry.Sample{CPU: cpu, Name: "running_bw", Value: q20ToFloat(l.rq.RunningBW), Timestamp: time.Unix(0, now)},
				telemetry.Sample{CPU: cpu, Name: "util_avg", Value: float64(l.signal.UtilAvg) / 1024, Timestamp: time.Unix(0, now)},
			)
		}
	}

	for d, controller := range s.controllers {
		s.balance(d, controller)

		if s.exporter != nil {
			s.exporter.SetDomainBandwidth(d.TotalBW(), d.Capacity())
		}
	}

	if shouldPublish {
		s.publish(samples)
	}

	s.refreshState()
}

func (s *Simulation) tickLane(l *lane, now int64) {
	rq := l.rq

	for _, due := range rq.Wheel.Advance(now) {
		if due.Fn != nil {
			due.Fn(due)
		}
	}

	curr := rq.Curr
	next := rq.PickNext()

	if next != curr {
		if curr != nil {
			rq.PutPrev(curr)
		}

		if next != nil {
			rq.SetNext(next, now)
		}
	}

	capacityQ10 := int64(1024)
	if d, ok := s.laneDomain[l.cpu]; ok {
		if info, ok := d.CPU(l.cpu); ok {
			capacityQ10 = int64(info.Capacity)
		}
	}

	scale := deadline.CPUScale{FreqQ10: s.freq.Scale(l.cpu), CapacityQ10: capacityQ10}

	grub := deadline.GRUBInputs{
		ThisBW:    rq.ThisBW,
		RunningBW: rq.RunningBW,
		ExtraBW:   rq.ExtraBW,
		BWRatio:   rq.BWRatio,
	}

	var rtAccum *int64
	if s.rtBandwidth != nil {
		rtAccum = s.rtBandwidth.Accumulator()
	}

	throttled := rq.Tick(now, grub, scale, rtAccum)

	weight := uint32(0)
	if rq.NrRunning() > 0 {
		weight = domain.CapacityScale
	}

	load, runnable, running := pelt.RunqueueInputs(weight, uint32(rq.NrRunning()), rq.Curr != nil)
	l.signal.Update(now, load, runnable, running)

	if s.exporter != nil {
		s.exporter.SetRunningBW(l.cpu, rq.RunningBW)
		s.exporter.SetThisBW(l.cpu, rq.ThisBW)
		s.exporter.SetUtilAvg(l.cpu, int64(l.signal.UtilAvg))
		s.exporter.SetNrRunning(l.cpu, rq.NrRunning())
		s.exporter.SetOverloaded(l.cpu, rq.Overloaded())

		if throttled {
			s.exporter.IncThrottle(l.cpu)
		}
	}

	requestUtil := int64(0)
	if rq.Curr != nil {
		requestUtil = 1024
	}

	s.freq.UpdateUtil(l.cpu, requestUtil)

	if rq.NrRunning() == 0 {
		s.idle.VetoIdle(l.cpu)
	}

	if l.pool != nil {
		target := float64(0)
		if d, ok := s.laneDomain[l.cpu]; ok && d.Capacity() > 0 {
			target = float64(rq.RunningBW) / float64(d.Capacity())
		}

		l.pool.SetTarget(target)
	}

	if s.schedAttr != nil && rq.Curr != nil {
		tid := int(rq.Curr.ID)

		err := s.schedAttr.Apply(context.Background(), tid,
			uint64(rq.Curr.Params.Runtime), uint64(rq.Curr.Params.Deadline), uint64(rq.Curr.Params.Period))
		if err != nil && !errors.Is(err, governor.ErrUnsupported) {
			s.log.Debug("sched_setattr application failed", zap.Int("tid", tid), zap.Error(err))
		}
	}
}

func (s *Simulation) balance(d *domain.Domain, controller *pushpull.Controller) {
	for cpu, l := range s.lanes {
		if s.laneDomain[cpu] != d {
			continue
		}

		controller.NoteCurrDeadline(cpu, l.rq.EarliestCurr())

		if l.rq.Overloaded() {
			_, _ = controller.TryPush(cpu)
		} else {
			_, _ = controller.TryPull(cpu)
		}
	}
}

func (s *Simulation) publish(samples []telemetry.Sample) {
	if len(samples) == 0 {
		return
	}

	err := s.publisher.Publish(context.Background(), samples)
	s.recordTelemetryErr(err)

	if err != nil {
		s.log.Warn("telemetry publish failed", zap.Error(err))
	}
}

func (s *Simulation) refreshState() {
	degraded := false

	for _, l := range s.lanes {
		if l.rq.Overloaded() {
			degraded = true

			break
		}
	}

	if s.LastTelemetryError() != nil {
		degraded = true
	}

	s.mu.Lock()
	if degraded {
		s.state = status.StateDegraded
	} else {
		s.state = status.StateRunning
	}
	s.mu.Unlock()
}

func (s *Simulation) sortedCPUs() []int {
	cpus := make([]int, 0, len(s.lanes))
	for cpu := range s.lanes {
		cpus = append(cpus, cpu)
	}

	sort.Ints(cpus)

	return cpus
}

// StartHostLoad launches every lane's duty-cycle load generator (host-load
// mode only; lanes built without it are no-ops).
func (s *Simulation) StartHostLoad(ctx context.Context) {
	for _, l := range s.lanes {
		if l.pool != nil {
			l.pool.Start(ctx)
		}
	}
}

// DomainFor returns the domain.Domain owning cpu, or an error if cpu is not
// part of this simulation.
func (s *Simulation) DomainFor(cpu int) (*domain.Domain, error) {
	d, ok := s.laneDomain[cpu]
	if !ok {
		return nil, fmt.Errorf("%w: %d", errUnknownCPU, cpu)
	}

	return d, nil
}

func q20ToFloat(v int64) float64 {
	const q20 = float64(int64(1) << 20)

	return float64(v) / q20
}

func newWheelBase(levels int) *wheel.Base {
	return wheel.NewBase(levels, 0)
}
