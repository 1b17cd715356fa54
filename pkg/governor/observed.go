package governor

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"dlsched/pkg/est"
)

// observedScaleMax is the full-scale value in the same Q10 fixed point as
// FreqGovernor.Scale (1024 = no throttling).
const observedScaleMax = int64(1024)

// highUtilisationThresholdQ10 is the host CPU utilisation, in the same Q10
// fixed point as est.Observation.UtilisationQ10 and FreqGovernor.Scale,
// above which ObservedFreqGovernor starts reporting a reduced scale,
// modeling a host under enough real contention that a cpufreq governor
// would back off. 922/1024 ~= 90%.
const highUtilisationThresholdQ10 = int64(922)

// throttledScale is the reduced scale reported once the host crosses
// highUtilisationThresholdQ10.
const throttledScale = int64(820)

// ObservedFreqGovernor is a FreqGovernor backed by the real host's
// /proc/stat utilisation (pkg/est), for cmd/edfsimd's --host-aware mode:
// the simulated CPUs' GRUB scale tracks actual host contention instead of
// always reporting full scale.
type ObservedFreqGovernor struct {
	log      *zap.Logger
	sampler  *est.Sampler
	scaleQ10 atomic.Int64
}

// NewObservedFreqGovernor constructs an ObservedFreqGovernor fed by
// sampler's observations, which Run consumes; it reports full scale until
// Run has seen one.
func NewObservedFreqGovernor(log *zap.Logger, sampler *est.Sampler) *ObservedFreqGovernor {
	if log == nil {
		log = zap.NewNop()
	}

	g := &ObservedFreqGovernor{log: log, sampler: sampler}
	g.scaleQ10.Store(observedScaleMax)

	return g
}

// Run consumes the sampler's observation stream until ctx is cancelled,
// updating the governor's reported scale from each host utilisation
// reading.
func (g *ObservedFreqGovernor) Run(ctx context.Context) {
	for obs := range g.sampler.Run(ctx) {
		if obs.Err != nil {
			g.log.Warn("host cpu sample failed", zap.Error(obs.Err))

			continue
		}

		scale := observedScaleMax
		if obs.UtilisationQ10() >= highUtilisationThresholdQ10 {
			scale = throttledScale
		}

		g.scaleQ10.Store(scale)
	}
}

// UpdateUtil logs the requested utilization; the observed governor does
// not use it to compute scale, since scale is driven by the real host
// reading instead.
func (g *ObservedFreqGovernor) UpdateUtil(cpu int, utilQ10 int64) {
	g.log.Debug("cpufreq_update_util", zap.Int("cpu", cpu), zap.Int64("util_q10", utilQ10))
}

// Scale returns the last observed host-driven scale.
func (g *ObservedFreqGovernor) Scale(int) int64 {
	return g.scaleQ10.Load()
}
