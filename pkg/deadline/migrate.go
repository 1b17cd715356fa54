package deadline

// This file implements the single-CPU side of cross-CPU migration
// (§4.1 migrate_task_rq, §4.2 push/pull): the counterpart to Enqueue's
// EnqueueMigrated handling. The cross-CPU orchestration itself — choosing a
// target and holding both runqueues' locks in the fixed order required by
// §5 — lives in pkg/pushpull, which calls RemoveForMigration on the source
// and Enqueue(EnqueueMigrated) on the destination.

// RemoveForMigration detaches e from rq in preparation for re-enqueuing it
// elsewhere: removes it from both RB-trees, releases its bandwidth from
// this runqueue's accumulators, and disarms any timers it held here (the
// destination will arm fresh ones if needed).
func (rq *Runqueue) RemoveForMigration(e *Entity) {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	if e.onRQ {
		rq.treeRemove(e)
		delete(rq.entities, e.ID)
	}

	if e.ReplenishTimer != nil {
		rq.Wheel.Dequeue(e.ReplenishTimer)
		e.ReplenishTimer = nil
	}

	if e.InactiveTimer != nil {
		rq.Wheel.Dequeue(e.InactiveTimer)
		e.InactiveTimer = nil
	}

	if e.HRTimer != nil {
		rq.Wheel.Dequeue(e.HRTimer)
		e.HRTimer = nil
	}

	rq.RunningBW -= e.BW
	rq.ThisBW -= e.BW
}

// MigrateTaskRQ implements migrate_task_rq_dl: called just before a task is
// moved, to snapshot whatever per-CPU state must not silently reset across
// the move. The deadline class has none beyond what RemoveForMigration
// already handles, so this is a documented no-op kept for parity with the
// class's full operation set (§4.1).
func (rq *Runqueue) MigrateTaskRQ(e *Entity) {}

// SetCPUsAllowed implements set_cpus_allowed_dl: updates e's allowed-CPU
// mask. If e is currently pushable and the new mask makes it non-migratory
// (or vice versa), the pushable tree membership is corrected.
func (rq *Runqueue) SetCPUsAllowed(e *Entity, allowed map[int]bool) {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	e.AllowedCPUs = allowed

	if !e.onRQ {
		return
	}

	rq.removePushable(e)
	rq.addPushable(e)
}
