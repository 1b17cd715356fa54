// Package domain models a scheduling domain: the set of CPUs that share one
// admission-control bandwidth cap and one cross-CPU push/pull view (§3
// Domain, §4.5 Admission, §4.8 Topology layer).
package domain

import (
	"fmt"
	"sync"
)

// CapacityScale is SCHED_CAPACITY_SCALE: the fixed-point normalization used
// for per-CPU capacity values (§4.1 FitsCapacity, §4.5 Admission).
const CapacityScale = 1024

// CPUInfo is the read-only topology information for one member CPU (§4.8
// Topology layer: "domain spans, LLC sibling masks, and per-CPU
// capacity/raw-capacity; consumed read-only").
type CPUInfo struct {
	ID           int
	Capacity     uint32 // scaled to CapacityScale = 1024
	RawCapacity  uint32
	LLCID        int
	Online       bool
}

// Domain is a scheduling domain: member-CPU set, total allocated bandwidth,
// and a visit-generation counter used by push/pull to avoid re-visiting a
// CPU twice in one balancing pass (§3 Domain).
type Domain struct {
	mu sync.RWMutex

	cpus map[int]*CPUInfo

	totalBW     int64 // Q20, sum of admitted dl_bw across all member CPUs
	capacity    int64 // Q20, sum of per-CPU capacity in SCHED_CAPACITY units
	generation  uint64
}

// NewDomain constructs a Domain from its static topology. capacity is
// computed as Σ per-CPU Capacity, expressed in the same 2^20 fixed point as
// dl_bw (so a CPU at full capacity contributes 1<<20 of domain capacity).
func NewDomain(cpus []CPUInfo) *Domain {
	d := &Domain{cpus: make(map[int]*CPUInfo, len(cpus))}

	for i := range cpus {
		c := cpus[i]
		d.cpus[c.ID] = &c
		d.capacity += capacityToQ20(c.Capacity)
	}

	return d
}

func capacityToQ20(capacity uint32) int64 {
	const fixedPointShift = 20

	return (int64(capacity) << fixedPointShift) / CapacityScale
}

// Capacity returns the domain's total capacity in Q20 fixed point.
func (d *Domain) Capacity() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.capacity
}

// TotalBW returns the domain's currently allocated bandwidth in Q20.
func (d *Domain) TotalBW() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.totalBW
}

// CPU returns the topology info for id, or false if id is not a member.
func (d *Domain) CPU(id int) (CPUInfo, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	c, ok := d.cpus[id]
	if !ok {
		return CPUInfo{}, false
	}

	return *c, true
}

// Members returns the domain's CPU ids in ascending order.
func (d *Domain) Members() []int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ids := make([]int, 0, len(d.cpus))
	for id := range d.cpus {
		ids = append(ids, id)
	}

	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}

	return ids
}

// ReserveBW attempts to add deltaBW (Q20) to the domain's total, rejecting
// the change if it would exceed domain capacity (§4.5 Admission). On
// rejection, totalBW is left unchanged.
func (d *Domain) ReserveBW(deltaBW int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.totalBW+deltaBW > d.capacity {
		return fmt.Errorf("%w: total_bw=%d + delta=%d exceeds capacity=%d", ErrWouldExceedCapacity, d.totalBW, deltaBW, d.capacity)
	}

	d.totalBW += deltaBW

	return nil
}

// ReleaseBW subtracts deltaBW (Q20) from the domain's total, used on
// task_dead and on policy changes away from the deadline class.
func (d *Domain) ReleaseBW(deltaBW int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.totalBW -= deltaBW
}

// SetOnline marks a member CPU online or offline (§4.1 rq_online/rq_offline;
// §4.8 hot-plug).
func (d *Domain) SetOnline(cpu int, online bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if c, ok := d.cpus[cpu]; ok {
		c.Online = online
	}
}

// Rebuild replaces the domain's CPU set wholesale, for hot-plug topology
// changes, and recomputes capacity. Bandwidth reservations made against the
// old span are not moved here and totalBW is left unchanged; a caller moves
// them with ReserveBW/ReleaseBW, each of which takes only its own domain's
// lock.
func (d *Domain) Rebuild(cpus []CPUInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cpus = make(map[int]*CPUInfo, len(cpus))
	d.capacity = 0

	for i := range cpus {
		c := cpus[i]
		d.cpus[c.ID] = &c
		d.capacity += capacityToQ20(c.Capacity)
	}

	d.generation++
}

// Generation returns the domain's hot-plug generation counter, used by
// push/pull to detect a topology change mid-scan.
func (d *Domain) Generation() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.generation
}
