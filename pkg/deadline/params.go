package deadline

import "fmt"

// FixedPointShift is the 2^20 fixed-point scale used for dl_bw and
// dl_density (§3, §4.1).
const FixedPointShift = 20

// MinRuntimeNS is the minimum accepted dl_runtime (2^10 ns).
const MinRuntimeNS = 1 << 10

// Params are the static scheduling parameters an entity is configured with
// (dl_runtime, dl_deadline, dl_period). All fields are nanoseconds.
type Params struct {
	Runtime  int64
	Deadline int64
	Period   int64
}

// PeriodBounds are the admission-time sysctl bounds on effective_period
// (§4.1, §6: sysctl_sched_dl_period_min/max).
type PeriodBounds struct {
	Min int64
	Max int64
}

// DefaultPeriodBounds matches the sysctl defaults named in §6: >=100us,
// <=~4s.
func DefaultPeriodBounds() PeriodBounds {
	return PeriodBounds{Min: 100_000, Max: 4_000_000_000}
}

// EffectivePeriod returns dl_period if set, else dl_deadline, per §4.1's
// "(period || dl_deadline)".
func (p Params) EffectivePeriod() int64 {
	if p.Period != 0 {
		return p.Period
	}

	return p.Deadline
}

// Implicit reports whether this is an implicit-deadline task
// (dl_deadline == dl_period).
func (p Params) Implicit() bool {
	return p.Deadline == p.EffectivePeriod()
}

// Validate applies §4.1's "Parameter validity" rule set.
func (p Params) Validate(bounds PeriodBounds) error {
	if p.Deadline <= 0 {
		return fmt.Errorf("%w: dl_deadline must be > 0, got %d", ErrInvalidParameter, p.Deadline)
	}

	if p.Runtime < MinRuntimeNS {
		return fmt.Errorf("%w: dl_runtime must be >= %d ns, got %d", ErrInvalidParameter, MinRuntimeNS, p.Runtime)
	}

	if hasBit63(p.Deadline) || hasBit63(p.Period) {
		return fmt.Errorf("%w: dl_deadline/dl_period must not have bit 63 set", ErrInvalidParameter)
	}

	period := p.EffectivePeriod()

	if !(p.Runtime <= p.Deadline && p.Deadline <= period) {
		return fmt.Errorf(
			"%w: require dl_runtime <= dl_deadline <= period, got runtime=%d deadline=%d period=%d",
			ErrInvalidParameter, p.Runtime, p.Deadline, period,
		)
	}

	effective := p.EffectivePeriod()
	if effective < bounds.Min || effective > bounds.Max {
		return fmt.Errorf(
			"%w: effective_period=%d out of bounds [%d,%d]",
			ErrInvalidParameter, effective, bounds.Min, bounds.Max,
		)
	}

	return nil
}

func hasBit63(v int64) bool {
	return v < 0
}

// BW returns dl_bw = runtime/period in 2^20 fixed point.
func (p Params) BW() int64 {
	period := p.EffectivePeriod()
	if period == 0 {
		return 0
	}

	return (p.Runtime << FixedPointShift) / period
}

// Density returns dl_density = runtime/deadline in 2^20 fixed point.
func (p Params) Density() int64 {
	if p.Deadline == 0 {
		return 0
	}

	return (p.Runtime << FixedPointShift) / p.Deadline
}
