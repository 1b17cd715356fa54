// Package governor hosts the external collaborators named by §4.8 but left
// outside the scheduling class proper: the idle-state controller and the
// cpufreq governor. Both are consumed read-only by the deadline core
// (GRUB's CPUScale, §4.1's cpufreq_update_util hook) and are modeled here as
// interfaces with logging/no-op defaults, since the spec names their call
// shape but not their implementation.
package governor

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// ErrUnsupported is returned by a SchedAttrApplier.Apply implementation on a
// platform with no SCHED_DEADLINE adapter.
var ErrUnsupported = errors.New("governor: sched_setattr not supported on this platform")

// IdleController is the idle_state collaborator: the deadline class asks it
// whether entering a deep idle state is currently vetoed (e.g. because a
// bandwidth-reclaiming entity is still contending).
type IdleController interface {
	// VetoIdle reports whether cpu must stay out of deep idle states right
	// now.
	VetoIdle(cpu int) bool
}

// FreqGovernor is the cpufreq_update_util collaborator: the deadline class
// reports its instantaneous utilization request so the governor can pick a
// frequency, and the class reads back the resulting scale for GRUB's
// CPUScale.apply (§4.1).
type FreqGovernor interface {
	// UpdateUtil reports cpu's requested utilization in Q10 fixed point
	// (1024 = full capacity), as update_curr would call cpufreq_update_util.
	UpdateUtil(cpu int, utilQ10 int64)
	// Scale returns the frequency x capacity scale currently in effect for
	// cpu, in the same Q10 fixed point.
	Scale(cpu int) int64
}

// NoopIdleController never vetoes idle. It is the default when no real idle
// governor is wired.
type NoopIdleController struct{}

// VetoIdle always returns false.
func (NoopIdleController) VetoIdle(int) bool { return false }

// LoggingFreqGovernor records utilization requests via structured logging
// and always reports full scale, modeling an "ondemand at max" policy. It
// mirrors the teacher's pattern of a thin logging adapter standing in for a
// real control loop during early development.
type LoggingFreqGovernor struct {
	log *zap.Logger
}

// NewLoggingFreqGovernor constructs a FreqGovernor that logs at debug level
// and never actually scales down.
func NewLoggingFreqGovernor(log *zap.Logger) *LoggingFreqGovernor {
	if log == nil {
		log = zap.NewNop()
	}

	return &LoggingFreqGovernor{log: log}
}

// UpdateUtil logs the requested utilization.
func (g *LoggingFreqGovernor) UpdateUtil(cpu int, utilQ10 int64) {
	g.log.Debug("cpufreq_update_util", zap.Int("cpu", cpu), zap.Int64("util_q10", utilQ10))
}

// Scale always reports 1024 (full scale, no throttling).
func (g *LoggingFreqGovernor) Scale(int) int64 { return 1024 }

// SchedAttrApplier is the §4.10 best-effort real-OS adapter contract:
// applying the computed SCHED_DEADLINE parameters to an OS thread backing a
// simulated CPU's current task. A platform with no implementation gets
// ErrUnsupported from the build-tag-gated default.
type SchedAttrApplier interface {
	Apply(ctx context.Context, tid int, runtimeNS, deadlineNS, periodNS uint64) error
}
