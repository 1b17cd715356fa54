package deadline

import (
	"math"
	"sync"

	"dlsched/pkg/clock"
	"dlsched/pkg/rbtree"
	"dlsched/pkg/wheel"
)

// NoDeadline represents "no deadline task" (⊤) for earliest_dl tracking and
// the cross-CPU deadline heap.
const NoDeadline = int64(math.MaxInt64)

// EnqueueFlags mirror §6's enumeration.
type EnqueueFlags uint32

const (
	EnqueueWakeup EnqueueFlags = 1 << iota
	EnqueueReplenish
	EnqueueMigrated
	EnqueueRestore
	EnqueueHead
	EnqueueNoClock
)

// DequeueFlags mirror §6's enumeration.
type DequeueFlags uint32

const (
	DequeueSleep DequeueFlags = 1 << iota
	DequeueSave
	DequeueMove
)

// BWConfig is the per-runqueue bandwidth configuration (§4.5).
type BWConfig struct {
	// BWRatio is 1/U_max in Q8 fixed point.
	BWRatio int64
}

// Runqueue is the deadline part of one CPU's runqueue (§3 Runqueue).
type Runqueue struct {
	mu sync.Mutex

	CPU   int
	Clock *clock.Source
	Wheel *wheel.Base

	tree     *rbtree.Tree // runnable entities ordered by absolute deadline
	pushable *rbtree.Tree // pushable subset, same ordering

	entities map[TaskID]*Entity

	nrRunning   int
	nrMigratory int
	overloaded  bool

	earliestCurr int64 // §I1: equals tree.Min()'s deadline, or NoDeadline
	earliestNext int64

	RunningBW int64
	ThisBW    int64
	ExtraBW   int64
	BWRatio   int64

	Curr *Entity

	// lastGRUB, lastScale and lastRTBWAcc cache the most recent arguments
	// passed to UpdateCurr/Tick, so the hrtick timer's callback (§4.1's
	// "high-resolution timer armed at runtime exhaustion") can re-run
	// update_curr with the same accounting context between driven ticks
	// instead of needing its own copy threaded through the wheel.
	lastGRUB    GRUBInputs
	lastScale   CPUScale
	lastRTBWAcc *int64

	seqCounter uint64

	// onOverloadChange notifies the push/pull layer when this runqueue's
	// overloaded bit flips, so the domain-level dlo_mask stays in sync
	// without the runqueue needing to know about the domain.
	onOverloadChange func(overloaded bool)
	// onPreemptNeeded requests that the caller reschedule this CPU.
	onPreemptNeeded func()
}

// NewRunqueue constructs an empty deadline runqueue for the given CPU.
func NewRunqueue(cpu int, clk *clock.Source, wb *wheel.Base) *Runqueue {
	return &Runqueue{
		CPU:          cpu,
		Clock:        clk,
		Wheel:        wb,
		tree:         rbtree.New(),
		pushable:     rbtree.New(),
		entities:     make(map[TaskID]*Entity),
		earliestCurr: NoDeadline,
		earliestNext: NoDeadline,
		BWRatio:      1 << 8,
	}
}

// SetCallbacks installs the push/pull and reschedule notification hooks.
func (rq *Runqueue) SetCallbacks(onOverload func(bool), onPreempt func()) {
	rq.mu.Lock()
	rq.onOverloadChange = onOverload
	rq.onPreemptNeeded = onPreempt
	rq.mu.Unlock()
}

// Lock/Unlock expose the runqueue spinlock for the double-locking protocol
// in pkg/pushpull (§5).
func (rq *Runqueue) Lock()   { rq.mu.Lock() }
func (rq *Runqueue) Unlock() { rq.mu.Unlock() }

// NrRunning, Overloaded, EarliestCurr are read-only accessors used by the
// push/pull heap and admission checks. Callers must hold rq's lock (or
// tolerate the documented staleness for cross-CPU reads, §5).
func (rq *Runqueue) NrRunning() int       { return rq.nrRunning }
func (rq *Runqueue) Overloaded() bool     { return rq.overloaded }
func (rq *Runqueue) EarliestCurr() int64  { return rq.earliestCurr }
func (rq *Runqueue) NrMigratory() int     { return rq.nrMigratory }

func (rq *Runqueue) nextSeq() uint64 {
	rq.seqCounter++

	return rq.seqCounter
}

// treeInsert adds e to the runnable tree and refreshes I1's cached
// earliest_dl.curr.
func (rq *Runqueue) treeInsert(e *Entity) {
	e.node = rq.tree.Insert(e.Deadline, rq.nextSeq(), e)
	e.onRQ = true
	rq.nrRunning++

	if e.Migratory() {
		rq.nrMigratory++
	}

	rq.refreshEarliest()
	rq.refreshOverloaded()
	rq.addPushable(e)
}

// treeRemove removes e from the runnable tree.
func (rq *Runqueue) treeRemove(e *Entity) {
	if !e.onRQ {
		return
	}

	rq.tree.Delete(e.node)
	e.node = nil
	e.onRQ = false
	rq.nrRunning--

	if e.Migratory() {
		rq.nrMigratory--
	}

	rq.refreshEarliest()
	rq.refreshOverloaded()
	rq.removePushable(e)
}

func (rq *Runqueue) refreshEarliest() {
	min := rq.tree.Min()
	if min == nil {
		rq.earliestCurr = NoDeadline

		return
	}

	rq.earliestCurr = min.Key
}

func (rq *Runqueue) refreshOverloaded() {
	overloaded := rq.nrMigratory > 0 && rq.nrRunning > 1
	if overloaded == rq.overloaded {
		return
	}

	rq.overloaded = overloaded

	if rq.onOverloadChange != nil {
		rq.onOverloadChange(overloaded)
	}
}

func (rq *Runqueue) addPushable(e *Entity) {
	if !e.Migratory() || e.pushable {
		return
	}

	e.pushNode = rq.pushable.Insert(e.Deadline, rq.nextSeq(), e)
	e.pushable = true
}

func (rq *Runqueue) removePushable(e *Entity) {
	if !e.pushable {
		return
	}

	rq.pushable.Delete(e.pushNode)
	e.pushNode = nil
	e.pushable = false
}

// LeftmostPushable returns the pushable entity with the smallest deadline,
// or nil if none. Used by the push controller (§4.2).
func (rq *Runqueue) LeftmostPushable() *Entity {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	min := rq.pushable.Min()
	if min == nil {
		return nil
	}

	return min.Payload.(*Entity)
}

func (rq *Runqueue) requestReschedule() {
	if rq.onPreemptNeeded != nil {
		rq.onPreemptNeeded()
	}
}
