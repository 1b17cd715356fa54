package pushpull

import (
	"errors"
	"fmt"
	"sync"

	"dlsched/pkg/deadline"
	"dlsched/pkg/domain"
)

// ErrNoTarget reports that no suitable CPU was found for a push, pull, or
// wakeup placement.
var ErrNoTarget = errors.New("pushpull: no suitable cpu found")

// ErrRetry mirrors the core's bounded-retry signal (§7): a double-lock race
// was lost and the caller should reload state and try again.
var ErrRetry = deadline.ErrRetry

const maxRetries = 3

// Controller owns the per-domain view needed to migrate deadline entities
// across CPUs: the runqueue registry, the deadline max-heap (§4.6), and the
// domain's topology/capacity (§4.8, consumed read-only here).
type Controller struct {
	mu sync.Mutex

	domain    *domain.Domain
	runqueues map[int]*deadline.Runqueue

	priorities *PriorityHeap
	deadlines  *DeadlineHeap

	overloaded map[int]bool
}

// NewController wires a Controller over the given domain and its member
// runqueues. Each runqueue's overload callback is hooked to keep the
// controller's overloaded bitmask current (§4.2).
func NewController(d *domain.Domain, runqueues map[int]*deadline.Runqueue) *Controller {
	cpus := d.Members()

	c := &Controller{
		domain:     d,
		runqueues:  runqueues,
		priorities: NewPriorityHeap(cpus),
		deadlines:  NewDeadlineHeap(cpus),
		overloaded: make(map[int]bool, len(cpus)),
	}

	for _, cpu := range cpus {
		cpu := cpu
		rq := runqueues[cpu]
		if rq == nil {
			continue
		}

		rq.SetCallbacks(func(overloaded bool) {
			c.mu.Lock()
			c.overloaded[cpu] = overloaded
			c.mu.Unlock()
		}, nil)
	}

	return c
}

// NoteCurrDeadline publishes cpu's running entity's deadline (or
// deadline.NoDeadline if idle) into the deadline heap. Callers invoke this
// from SetNext/PutPrev/UpdateCurr so the heap stays a faithful mirror of
// each runqueue's earliest_dl.curr (§4.2, §4.6).
func (c *Controller) NoteCurrDeadline(cpu int, d int64) {
	c.deadlines.Set(cpu, d)
}

// NotePriority publishes cpu's current best scheduling priority (§4.6).
func (c *Controller) NotePriority(cpu int, priority int) {
	c.priorities.Set(cpu, priority)
}

func (c *Controller) fitPredicate(e *deadline.Entity) func(cpu int) bool {
	return func(cpu int) bool {
		info, ok := c.domain.CPU(cpu)
		if !ok || !info.Online {
			return false
		}

		return e.FitsCapacity(info.Capacity)
	}
}

// TryPush implements push_dl_task (§4.2): if fromCPU's runqueue has a
// pushable entity, find a CPU whose running deadline is later than the
// pushed entity's and move it there. Returns the destination CPU on
// success, or ErrNoTarget if nothing needed pushing or no destination
// qualified.
func (c *Controller) TryPush(fromCPU int) (int, error) {
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		dst, err := c.tryPushOnce(fromCPU)
		if err == nil {
			return dst, nil
		}

		if !errors.Is(err, ErrRetry) {
			return 0, err
		}

		lastErr = err
	}

	return 0, lastErr
}

func (c *Controller) tryPushOnce(fromCPU int) (int, error) {
	src := c.runqueues[fromCPU]
	if src == nil {
		return 0, fmt.Errorf("%w: cpu %d has no runqueue", deadline.ErrNoSuchCPU, fromCPU)
	}

	e := src.LeftmostPushable()
	if e == nil {
		return 0, ErrNoTarget
	}

	dstCPU, ok := c.deadlines.FindLater(e.Deadline, e.AllowedCPUs, c.fitPredicate(e))
	if !ok {
		return 0, ErrNoTarget
	}

	dst := c.runqueues[dstCPU]
	if dst == nil {
		return 0, ErrNoTarget
	}

	// Re-validate under the source lock: the pushable leftmost may have
	// changed between the unlocked heap scan above and now (§5 double-lock
	// race).
	reValidated := src.LeftmostPushable()
	if reValidated != e {
		return 0, ErrRetry
	}

	src.RemoveForMigration(e)
	dst.Enqueue(e, deadline.EnqueueMigrated, 0)

	c.deadlines.Set(fromCPU, src.EarliestCurr())
	c.deadlines.Set(dstCPU, dst.EarliestCurr())

	return dstCPU, nil
}

// TryPull implements pull_dl_task (§4.2): if some other overloaded CPU in
// the domain has a pushable entity with an earlier deadline than toCPU's
// current earliest, and that entity fits toCPU's capacity, migrate it here.
func (c *Controller) TryPull(toCPU int) (int, error) {
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		src, err := c.tryPullOnce(toCPU)
		if err == nil {
			return src, nil
		}

		if !errors.Is(err, ErrRetry) {
			return 0, err
		}

		lastErr = err
	}

	return 0, lastErr
}

func (c *Controller) tryPullOnce(toCPU int) (int, error) {
	dst := c.runqueues[toCPU]
	if dst == nil {
		return 0, fmt.Errorf("%w: cpu %d has no runqueue", deadline.ErrNoSuchCPU, toCPU)
	}

	c.mu.Lock()
	candidates := make(map[int]bool, len(c.overloaded))

	for cpu, overloaded := range c.overloaded {
		if overloaded && cpu != toCPU {
			candidates[cpu] = true
		}
	}
	c.mu.Unlock()

	if len(candidates) == 0 {
		return 0, ErrNoTarget
	}

	srcCPU, ok := c.deadlines.FindEarliest(candidates)
	if !ok {
		return 0, ErrNoTarget
	}

	src := c.runqueues[srcCPU]
	if src == nil {
		return 0, ErrNoTarget
	}

	e := src.LeftmostPushable()
	if e == nil {
		return 0, ErrRetry
	}

	if e.Deadline >= dst.EarliestCurr() {
		return 0, ErrNoTarget
	}

	if !e.FitsCapacity(mustCapacity(c.domain, toCPU)) {
		return 0, ErrNoTarget
	}

	reValidated := src.LeftmostPushable()
	if reValidated != e {
		return 0, ErrRetry
	}

	src.RemoveForMigration(e)
	dst.Enqueue(e, deadline.EnqueueMigrated, 0)

	c.deadlines.Set(srcCPU, src.EarliestCurr())
	c.deadlines.Set(toCPU, dst.EarliestCurr())

	return srcCPU, nil
}

func mustCapacity(d *domain.Domain, cpu int) uint32 {
	info, ok := d.CPU(cpu)
	if !ok {
		return 0
	}

	return info.Capacity
}

// SelectCPUForWakeup implements select_cpu_for_wakeup_dl (§4.1): prefer the
// entity's previous CPU if it still fits and has no earlier-or-equal
// deadline running; otherwise pick the allowed CPU with the latest running
// deadline (the least disruptive landing spot), falling back to any
// allowed, online, capacity-fitting CPU.
func (c *Controller) SelectCPUForWakeup(e *deadline.Entity) (int, error) {
	fit := c.fitPredicate(e)

	if e.AllowedCPUs[e.CPU] && fit(e.CPU) {
		if d, ok := c.deadlines.Get(e.CPU); ok && d > e.Deadline {
			return e.CPU, nil
		}
	}

	if cpu, ok := c.deadlines.FindLater(e.Deadline, e.AllowedCPUs, fit); ok {
		return cpu, nil
	}

	for cpu := range e.AllowedCPUs {
		if fit(cpu) {
			return cpu, nil
		}
	}

	return 0, ErrNoTarget
}

// TaskWoken implements task_woken_dl: after a wakeup lands on cpu, kick a
// push from cpu if it is now overloaded.
func (c *Controller) TaskWoken(cpu int) {
	rq := c.runqueues[cpu]
	if rq == nil || !rq.Overloaded() {
		return
	}

	_, _ = c.TryPush(cpu)
}

// RQOnline adds cpu back into both heaps at its current state, for hot-plug
// (§4.1 rq_online_dl).
func (c *Controller) RQOnline(cpu int, priority int, curr int64) {
	c.priorities.Set(cpu, priority)
	c.deadlines.Set(cpu, curr)

	c.mu.Lock()
	delete(c.overloaded, cpu)
	c.mu.Unlock()
}

// RQOffline removes cpu's contribution from both heaps (§4.1
// rq_offline_dl); callers are responsible for migrating its entities first.
func (c *Controller) RQOffline(cpu int) {
	c.priorities.Set(cpu, PriorityNormal)
	c.deadlines.Set(cpu, deadline.NoDeadline)

	c.mu.Lock()
	delete(c.overloaded, cpu)
	c.mu.Unlock()
}
