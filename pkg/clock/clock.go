// Package clock supplies the monotonic nanosecond time base shared by the
// timer wheel, the deadline scheduler, and the PELT tracker. It is the only
// authoritative notion of "now" the rest of the module uses.
package clock

import (
	"sync/atomic"
	"time"
)

// nsecPerSec is the number of nanoseconds the converted clock targets per
// second of raw cycle counter.
const nsecPerSec = 1_000_000_000

// maxShift bounds the mult/shift search so the computed multiplier never
// needs more than 32 bits, matching the safety margin a hardware clocksource
// conversion is expected to keep.
const maxShift = 32

// ComputeMultShift derives a (mult, shift) pair such that for any cycle
// delta up to one second at the given frequency hz, (delta*mult)>>shift
// approximates delta*nsecPerSec/hz while keeping mult*delta within 64 bits
// with at least a 50% safety margin against overflow, mirroring a hardware
// clocksource's mult/shift conversion.
func ComputeMultShift(hz uint64) (mult uint32, shift uint32) {
	if hz == 0 {
		return 1, 0
	}

	// Try shifts from maxShift downwards and return the first (largest) one
	// whose multiplier for one second of cycles at hz fits in 32 bits.
	for shift = maxShift; shift > 0; shift-- {
		candidate := (nsecPerSec << shift) / hz
		if candidate == 0 || candidate > (1<<32-1) {
			continue
		}

		// Rounding check: candidate is floored, so one second of cycles
		// converted back through it never exceeds one second.
		if candidate*hz>>shift <= nsecPerSec {
			return uint32(candidate), shift
		}
	}

	return uint32(nsecPerSec / hz), 0
}

// Convert applies a computed mult/shift pair to a raw cycle delta, yielding
// nanoseconds.
func Convert(cycles uint64, mult uint32, shift uint32) int64 {
	return int64((cycles * uint64(mult)) >> shift)
}

// Source produces the monotonic nanosecond counter consumed throughout the
// scheduler. Production code uses NewSource, which wraps time.Now's
// monotonic reading; tests use NewManualSource for deterministic control.
type Source struct {
	epoch time.Time
	manual *int64
}

// NewSource returns a Source backed by the runtime's monotonic clock.
func NewSource() *Source {
	return &Source{epoch: time.Now()}
}

// NewManualSource returns a Source whose NowNS is driven entirely by Advance,
// starting at startNS.
func NewManualSource(startNS int64) *Source {
	v := startNS
	return &Source{manual: &v}
}

// NowNS returns the current nanosecond reading.
func (s *Source) NowNS() int64 {
	if s.manual != nil {
		return *s.manual
	}

	return int64(time.Since(s.epoch))
}

// Advance moves a manual source forward by delta nanoseconds. It panics if
// called on a non-manual Source, since production sources are driven by
// wall-clock time and cannot be forced backwards or forwards.
func (s *Source) Advance(delta int64) int64 {
	if s.manual == nil {
		panic("clock: Advance called on a non-manual Source")
	}

	*s.manual += delta

	return *s.manual
}

// Published is a lock-free snapshot type cross-CPU readers can use to
// observe a published "now" without racing the writer (§5: PELT signals are
// mutated only by the owning runqueue; cross-CPU readers use acquire loads
// and accept mild staleness).
type Published struct {
	ns atomic.Int64
}

// Store publishes a new "now" value for cross-CPU readers.
func (p *Published) Store(ns int64) {
	p.ns.Store(ns)
}

// Load returns the last published "now" value.
func (p *Published) Load() int64 {
	return p.ns.Load()
}
