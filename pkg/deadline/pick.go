package deadline

// This file implements the scheduler-class operations that sit above CBS
// accounting (§4.1): enqueue, dequeue, yield, tick, pick_next, put_prev,
// set_next, check_preempt_curr.

// Enqueue implements the deadline class's enqueue_task_dl. Callers have
// already run admission (pkg/admission) before calling this with
// EnqueueWakeup; CheckConstrained and UpdateDLEntity are applied here in the
// order spec'd by §4.1's enqueue control flow.
func (rq *Runqueue) Enqueue(e *Entity, flags EnqueueFlags, now int64) {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	if flags&EnqueueMigrated != 0 {
		rq.RunningBW += e.BW
		rq.ThisBW += e.BW
		e.CPU = rq.CPU
	}

	if flags&EnqueueWakeup != 0 {
		rq.CheckConstrained(e, now)
		UpdateDLEntity(e, now)
	}

	// I7: a boosted entity overrides throttle on enqueue; otherwise a
	// throttled entity stays off the tree until its replenish timer fires.
	if e.Flags.has(FlagThrottled) && !e.Flags.has(FlagBoosted) {
		return
	}

	e.Flags &^= FlagThrottled
	rq.treeInsert(e)
	rq.entities[e.ID] = e

	if rq.Curr != nil && rq.Curr != e && rq.checkPreemptCurrLocked(e) {
		rq.requestReschedule()
	}
}

// Dequeue implements dequeue_task_dl. runningBW should be &rq.RunningBW for
// production callers; tests may pass a scratch accumulator.
func (rq *Runqueue) Dequeue(e *Entity, flags DequeueFlags, now int64, runningBW *int64) {
	rq.mu.Lock()
	rq.treeRemove(e)
	delete(rq.entities, e.ID)
	rq.mu.Unlock()

	if flags&DequeueSleep != 0 {
		rq.DequeueForSleep(e, now, runningBW)
	}
}

// Yield implements yield_task_dl: mark the current entity as having
// voluntarily given up the remainder of its runtime, to be absorbed by the
// next update_curr.
func (rq *Runqueue) Yield(e *Entity) {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	e.Flags |= FlagYielded
}

// PickNext implements pick_next_task_dl: returns the leftmost (earliest
// absolute deadline) runnable entity, or nil if the runqueue is empty.
func (rq *Runqueue) PickNext() *Entity {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	min := rq.tree.Min()
	if min == nil {
		return nil
	}

	return min.Payload.(*Entity)
}

// SetNext implements set_next_task_dl: marks e as the runqueue's current
// entity and (re)starts its exec_start accounting window. A SUGOV-flagged
// entity or one already pushable is removed from the pushable tree while
// running (only queued-but-not-running entities are push candidates).
func (rq *Runqueue) SetNext(e *Entity, now int64) {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	rq.Curr = e
	e.ExecStart = now
	rq.removePushable(e)
	rq.armHRTick(e, now)
}

// PutPrev implements put_prev_task_dl: the entity is no longer current. If
// it is still runnable and migratory, it re-enters the pushable tree.
func (rq *Runqueue) PutPrev(e *Entity) {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	rq.cancelHRTick(e)

	if rq.Curr == e {
		rq.Curr = nil
	}

	if e.onRQ {
		rq.addPushable(e)
	}
}

// CheckPreemptCurr implements check_preempt_curr_dl (§4.1): grants
// preemption when waker has a strictly earlier deadline, with the SUGOV
// override described in §4.1's Preemption paragraph. The push-vs-preempt
// cost comparison on ties is delegated to pkg/pushpull, which calls this
// only after deciding a same-CPU preemption is cheaper than a push.
func (rq *Runqueue) CheckPreemptCurr(waker *Entity) bool {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	return rq.checkPreemptCurrLocked(waker)
}

func (rq *Runqueue) checkPreemptCurrLocked(waker *Entity) bool {
	curr := rq.Curr
	if curr == nil {
		return true
	}

	if waker.Flags.has(FlagSUGOV) && !curr.Flags.has(FlagSUGOV) {
		return true
	}

	if curr.Flags.has(FlagSUGOV) {
		return false
	}

	return waker.Deadline < curr.Deadline
}

// Tick implements the per-tick class hook: update_curr plus (if the
// runqueue's current entity changed priority order) a reschedule request.
// It returns whatever UpdateCurr returns.
func (rq *Runqueue) Tick(now int64, grub GRUBInputs, scale CPUScale, rtBWAccumulator *int64) bool {
	rq.mu.Lock()
	curr := rq.Curr
	rq.mu.Unlock()

	if curr == nil {
		return false
	}

	return rq.UpdateCurr(curr, now, grub, scale, rtBWAccumulator)
}
