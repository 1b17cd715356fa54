package deadline

import (
	"dlsched/pkg/rbtree"
	"dlsched/pkg/wheel"
)

// TaskID identifies a task across CPUs.
type TaskID uint64

// EntFlag holds an entity's boolean state bits (§3 Deadline entity flags).
type EntFlag uint32

const (
	FlagThrottled EntFlag = 1 << iota
	FlagYielded
	FlagNonContending // active-non-contending: dequeued, inactive timer armed
	FlagInactive      // fully inactive: not contributing to running_bw
	FlagBoosted
	FlagOverrun
	FlagSUGOV
	FlagReclaim // GRUB reclaim requested (dl_flags & RECLAIM)
)

func (f EntFlag) has(bit EntFlag) bool { return f&bit != 0 }

// Entity is the deadline-scheduling part of a Task (§3 Deadline entity).
type Entity struct {
	ID TaskID

	Params Params
	BW     int64 // dl_bw, Q20
	Density int64 // dl_density, Q20

	Flags EntFlag

	// Live, mutable fields.
	Runtime  int64 // live runtime, ns
	Deadline int64 // live absolute deadline, ns

	CPU          int
	AllowedCPUs  map[int]bool
	ExecStart    int64

	ReplenishTimer *wheel.Timer
	InactiveTimer  *wheel.Timer
	HRTimer        *wheel.Timer

	// PIDonor is a weak back-link used to re-inherit parameters when
	// Params.Deadline == 0 (the "demoted while boosted" sentinel, §9 Open
	// Question / SPEC_FULL §12.1).
	PIDonor *Entity

	node     *rbtree.Node
	pushNode *rbtree.Node
	seq      uint64

	onRQ     bool
	pushable bool
}

// NewEntity constructs a runnable-ready entity with the given id, static
// parameters and allowed-CPU set.
func NewEntity(id TaskID, p Params, allowed map[int]bool) *Entity {
	return &Entity{
		ID:          id,
		Params:      p,
		BW:          p.BW(),
		Density:     p.Density(),
		AllowedCPUs: allowed,
	}
}

// NumCPUsAllowed returns |AllowedCPUs|, used by the push/pull migratory
// classification (cardinality > 1 means this entity can be migrated).
func (e *Entity) NumCPUsAllowed() int {
	return len(e.AllowedCPUs)
}

// Migratory reports whether this entity may be moved across CPUs.
func (e *Entity) Migratory() bool {
	return e.NumCPUsAllowed() > 1
}

// FitsCapacity checks the heterogeneous-capacity admission rule used by
// push/select_cpu_for_wakeup: dl_deadline * cap >= dl_runtime *
// SCHED_CAPACITY_SCALE.
func (e *Entity) FitsCapacity(capacity uint32) bool {
	const schedCapacityScale = 1024

	return e.Params.Deadline*int64(capacity) >= e.Params.Runtime*schedCapacityScale
}
