package deadline

// This file implements the remaining §4.1 lifecycle hooks: switched_to,
// switched_from, prio_changed, task_fork, task_dead, rq_online, rq_offline.
// The SMP hooks that need domain/topology context (balance, task_woken,
// migrate_task_rq, set_cpus_allowed, select_cpu_for_wakeup) live in
// pkg/pushpull, which calls back into the Runqueue methods here.

// SwitchedTo implements switched_to_dl: a task already on this runqueue just
// became a deadline-class task (policy change into SCHED_DEADLINE). If it
// is runnable and not current, check for preemption.
func (rq *Runqueue) SwitchedTo(e *Entity) {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	if !e.onRQ {
		return
	}

	if rq.Curr != e && rq.checkPreemptCurrLocked(e) {
		rq.requestReschedule()
	} else if rq.Curr == nil {
		rq.requestReschedule()
	}
}

// SwitchedFrom implements switched_from_dl: a task is leaving the deadline
// class. Any armed timers are disarmed and the entity's bandwidth should
// already have been removed by the caller's Dequeue.
func (rq *Runqueue) SwitchedFrom(e *Entity) {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	if e.ReplenishTimer != nil {
		rq.Wheel.Dequeue(e.ReplenishTimer)
	}

	if e.InactiveTimer != nil {
		rq.Wheel.Dequeue(e.InactiveTimer)
	}

	rq.cancelHRTick(e)

	e.Flags &^= (FlagThrottled | FlagNonContending | FlagInactive)
}

// PrioChanged implements prio_changed_dl: deadline tasks don't have a
// priority in the CFS/RT sense, but a PI boost/de-boost toggles the Boosted
// flag, which affects CBS wakeup and throttle-override (I7). Request a
// reschedule if the entity is current and no longer the earliest.
func (rq *Runqueue) PrioChanged(e *Entity, boosted bool) {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	if boosted {
		e.Flags |= FlagBoosted
	} else {
		e.Flags &^= FlagBoosted
	}

	if rq.Curr == e {
		min := rq.tree.Min()
		if min != nil && min.Payload.(*Entity) != e {
			rq.requestReschedule()
		}
	}
}

// TaskFork implements task_fork_dl: a forked child inherits its parent's
// static Params but starts with a fresh live runtime/deadline, assigned on
// first wakeup by UpdateDLEntity's "deadline <= now" branch (so this just
// resets the live fields to force that path).
func TaskFork(parent *Entity, childID TaskID) *Entity {
	child := NewEntity(childID, parent.Params, cloneAllowed(parent.AllowedCPUs))
	child.Deadline = 0
	child.Runtime = 0

	return child
}

func cloneAllowed(src map[int]bool) map[int]bool {
	dst := make(map[int]bool, len(src))
	for k, v := range src {
		dst[k] = v
	}

	return dst
}

// TaskDead implements task_dead_dl: releases the entity's bandwidth from
// the owning runqueue's this_bw and cancels any armed timers.
func (rq *Runqueue) TaskDead(e *Entity) {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	if e.onRQ {
		rq.treeRemove(e)
		delete(rq.entities, e.ID)
	}

	if e.ReplenishTimer != nil {
		rq.Wheel.Dequeue(e.ReplenishTimer)
	}

	if e.InactiveTimer != nil {
		rq.Wheel.Dequeue(e.InactiveTimer)
	}

	rq.cancelHRTick(e)

	rq.ThisBW -= e.BW

	if !e.Flags.has(FlagInactive) {
		rq.RunningBW -= e.BW
	}
}

// RQOnline implements rq_online_dl: the CPU rejoins the domain. Callers
// (pkg/pushpull) are responsible for re-adding this CPU to the domain heap
// and free-CPU set; this resets the local overloaded bookkeeping so it is
// recomputed fresh from the current tree contents.
func (rq *Runqueue) RQOnline() {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	rq.overloaded = false
	rq.refreshOverloaded()
}

// RQOffline implements rq_offline_dl: the CPU is leaving the domain. The
// caller is responsible for migrating this runqueue's entities elsewhere
// before tearing it down; this only clears the local overloaded flag so
// stale state doesn't linger in diagnostics.
func (rq *Runqueue) RQOffline() {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	rq.overloaded = false
}
