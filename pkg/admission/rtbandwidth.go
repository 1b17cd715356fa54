package admission

import (
	"errors"
	"fmt"
	"sync"
)

// ErrRTBandwidthExceeded is returned when admitting a deadline-class
// reservation would push the domain's combined RT+DL utilization over the
// configured RT bandwidth cap (§4.5/§6: sysctl_sched_rt_period_us,
// sysctl_sched_rt_runtime_us).
var ErrRTBandwidthExceeded = errors.New("admission: combined rt+dl bandwidth would exceed limit")

// SharedRTBandwidth is the per-domain RT-sibling accumulator named by §4.1
// ("the shared RT-bandwidth credit"): update_curr's unscaled delta_exec is
// credited here regardless of which runqueue produced it, and a single cap
// bounds the domain's combined RT+DL utilization.
type SharedRTBandwidth struct {
	mu sync.Mutex

	// periodNS/runtimeNS mirror sysctl_sched_rt_period_us/
	// sysctl_sched_rt_runtime_us, both in nanoseconds, defining the RT
	// class's own bandwidth cap in the same Q20 terms as dl_bw.
	periodNS  int64
	runtimeNS int64

	credited int64 // cumulative unscaled delta_exec, ns
}

// NewSharedRTBandwidth constructs an accumulator bounded by the given
// RT period/runtime sysctl-equivalents.
func NewSharedRTBandwidth(periodNS, runtimeNS int64) *SharedRTBandwidth {
	return &SharedRTBandwidth{periodNS: periodNS, runtimeNS: runtimeNS}
}

// Accumulator exposes the raw credited counter as an *int64, matching
// deadline.Runqueue.Tick's rtBWAccumulator parameter shape. Callers driving
// a single-threaded tick loop may pass this directly instead of calling
// Credit, since Tick writes to it without its own locking.
func (b *SharedRTBandwidth) Accumulator() *int64 {
	return &b.credited
}

// Credit records deltaNS of unscaled exec time against the shared
// accumulator, called from update_curr for every deadline-class entity
// regardless of CPU (§4.1).
func (b *SharedRTBandwidth) Credit(deltaNS int64) {
	if b == nil || deltaNS <= 0 {
		return
	}

	b.mu.Lock()
	b.credited += deltaNS
	b.mu.Unlock()
}

// RTBandwidthQ20 returns the RT class's own bandwidth cap (runtime/period)
// in 2^20 fixed point, matching dl_bw's scale.
func (b *SharedRTBandwidth) RTBandwidthQ20() int64 {
	if b == nil || b.periodNS == 0 {
		return 0
	}

	const fixedPointShift = 20

	return (b.runtimeNS << fixedPointShift) / b.periodNS
}

// CheckCombined rejects a deadline-class reservation of dlBW (Q20) if,
// added to the RT class's own bandwidth cap, the domain-wide total would
// exceed capacityQ20 — the combined RT+DL utilization bound named but not
// shaped by spec.md §4.5/§6.
func (b *SharedRTBandwidth) CheckCombined(dlBW, capacityQ20 int64) error {
	if b == nil {
		return nil
	}

	if b.RTBandwidthQ20()+dlBW > capacityQ20 {
		return fmt.Errorf("%w: rt_bw=%d + dl_bw=%d > capacity=%d", ErrRTBandwidthExceeded, b.RTBandwidthQ20(), dlBW, capacityQ20)
	}

	return nil
}
