package deadline

import "dlsched/pkg/wheel"

// This file implements the Constant-Bandwidth-Server runtime accounting and
// replenishment machinery (§4.1: update_curr, update_dl_entity,
// replenish_dl_entity, dl_check_constrained, the inactive-timer 0-lag
// transitions).

// GRUBInputs carries the per-runqueue accumulators update_curr needs to
// scale delta_exec for a GRUB-reclaiming entity (§4.5).
type GRUBInputs struct {
	ThisBW    int64
	RunningBW int64
	ExtraBW   int64
	BWRatio   int64 // Q8
}

// GRUBFactor computes the reclamation scaling factor in 2^20 fixed point
// (§4.5): u_inact = this_bw - running_bw; u_act_min = dl_bw * bw_ratio >> 8;
// factor = u_act_min if u_inact+extra_bw > 2^20-u_act_min, else
// 2^20-u_inact-extra_bw.
func GRUBFactor(dlBW int64, in GRUBInputs) int64 {
	const oneQ20 = int64(1) << FixedPointShift

	uInact := in.ThisBW - in.RunningBW
	uActMin := (dlBW * in.BWRatio) >> 8

	if uInact+in.ExtraBW > oneQ20-uActMin {
		return uActMin
	}

	return oneQ20 - uInact - in.ExtraBW
}

// CPUScale carries the CPU-frequency x capacity scale-down applied to
// non-reclaiming entities' delta_exec (§4.1: "CPU frequency x CPU capacity
// scale"), both already normalized to SCHED_CAPACITY_SCALE=1024.
type CPUScale struct {
	FreqQ10     int64 // current frequency scaled to 1024 = max
	CapacityQ10 int64 // capacity_orig scaled to 1024 = max
}

func (s CPUScale) apply(delta int64) int64 {
	const scale = 1024

	if s.FreqQ10 == 0 {
		s.FreqQ10 = scale
	}

	if s.CapacityQ10 == 0 {
		s.CapacityQ10 = scale
	}

	return (delta * s.FreqQ10 / scale) * s.CapacityQ10 / scale
}

// UpdateCurr implements update_curr (§4.1). now is the current runqueue
// clock reading; grub carries the accumulators needed for a reclaiming
// entity; scale carries the non-reclaiming frequency/capacity scale-down.
// rtBWAccumulator receives the unscaled delta (the shared RT-bandwidth
// credit named in §4.1); pass nil to skip it.
//
// Returns true if the entity was throttled by this call.
func (rq *Runqueue) UpdateCurr(e *Entity, now int64, grub GRUBInputs, scale CPUScale, rtBWAccumulator *int64) bool {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	return rq.updateCurrLocked(e, now, grub, scale, rtBWAccumulator)
}

func (rq *Runqueue) updateCurrLocked(e *Entity, now int64, grub GRUBInputs, scale CPUScale, rtBWAccumulator *int64) bool {
	rq.lastGRUB = grub
	rq.lastScale = scale
	rq.lastRTBWAcc = rtBWAccumulator

	delta := now - e.ExecStart
	if delta <= 0 && !e.Flags.has(FlagYielded) {
		return false
	}

	var scaled int64
	if e.Flags.has(FlagReclaim) {
		factor := GRUBFactor(e.BW, grub)
		scaled = (delta * factor) >> FixedPointShift
	} else {
		scaled = scale.apply(delta)
	}

	e.Runtime -= scaled
	e.ExecStart = now

	if rtBWAccumulator != nil {
		*rtBWAccumulator += delta
	}

	throttled := false

	if e.Runtime <= 0 || e.Flags.has(FlagYielded) {
		throttled = true

		e.Flags |= FlagThrottled
		rq.treeRemove(e)

		nextBoundary := e.Deadline - e.Params.Deadline + e.Params.Period
		armed := rq.armReplenishTimer(e, nextBoundary)

		if e.Flags.has(FlagBoosted) || !armed {
			rq.replenishLocked(e, now)
			e.Flags &^= FlagThrottled
			rq.treeInsert(e)
		}
	}

	if rq.Curr == e {
		if throttled {
			rq.cancelHRTick(e)
		} else {
			rq.armHRTick(e, now)
		}
	}

	if rq.Curr == e && rq.nrRunning > 0 {
		min := rq.tree.Min()
		if min != nil && min.Payload.(*Entity) != e {
			rq.requestReschedule()
		}
	}

	return throttled
}

// armHRTick implements hrtick's arm-on-set_next/re-arm-on-update_curr rule
// (§4.1): schedules a wheel timer with Expiry now+Runtime, the instant e's
// remaining runtime would be exhausted, so update_curr runs without waiting
// for the next coarse-grained Tick. The wheel fires the timer at its
// bucket's expiry, which is at or after Expiry by up to that level's
// granularity, so the update can land after exhaustion rather than exactly
// on it. A non-positive runtime skips arming — there is nothing left to
// protect.
func (rq *Runqueue) armHRTick(e *Entity, now int64) {
	if e.Runtime <= 0 {
		rq.cancelHRTick(e)

		return
	}

	if e.HRTimer == nil {
		e.HRTimer = newHRTimer(rq, e)
	}

	if e.HRTimer.Queued() {
		rq.Wheel.Dequeue(e.HRTimer)
	}

	e.HRTimer.Expiry = now + e.Runtime
	rq.Wheel.Enqueue(e.HRTimer)
}

// cancelHRTick disarms e's hrtick timer. Called whenever e stops being the
// runqueue's current entity before the timer fires (hrtick only protects
// whichever entity is actually executing).
func (rq *Runqueue) cancelHRTick(e *Entity) {
	if e.HRTimer != nil && e.HRTimer.Queued() {
		rq.Wheel.Dequeue(e.HRTimer)
	}
}

func newHRTimer(rq *Runqueue, e *Entity) *wheel.Timer {
	return wheel.NewTimer(func(*wheel.Timer) {
		rq.onHRTickFire(e)
	}, 0)
}

// onHRTickFire is hrtick's timer callback, run when the wheel fires the
// timer armed for the instant e's runtime was computed to be exhausted (at
// or after that instant, by the wheel's bucket granularity). It re-runs update_curr with the
// accounting context most recently supplied to UpdateCurr/Tick, which
// throttles e immediately instead of leaving it running until the next
// driven tick catches up. A no-op if e is no longer current: PutPrev and
// RemoveForMigration both cancel this timer when e stops running, but the
// wheel may already have dequeued it for firing by the time either runs.
func (rq *Runqueue) onHRTickFire(e *Entity) {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	if rq.Curr != e {
		return
	}

	rq.updateCurrLocked(e, rq.Clock.NowNS(), rq.lastGRUB, rq.lastScale, rq.lastRTBWAcc)
}

// armReplenishTimer arms e's replenish timer at absolute time boundary. It
// reports whether the boundary was still in the future at arm time (a past
// boundary means the caller must replenish immediately instead, per
// update_curr's "timer could not be armed" clause).
func (rq *Runqueue) armReplenishTimer(e *Entity, boundary int64) bool {
	if boundary <= rq.Clock.NowNS() {
		return false
	}

	if e.ReplenishTimer == nil {
		e.ReplenishTimer = newReplenishTimer(rq, e)
	}

	if e.ReplenishTimer.Queued() {
		rq.Wheel.Dequeue(e.ReplenishTimer)
	}

	e.ReplenishTimer.Expiry = boundary
	rq.Wheel.Enqueue(e.ReplenishTimer)

	return true
}

func newReplenishTimer(rq *Runqueue, e *Entity) *wheel.Timer {
	return wheel.NewTimer(func(*wheel.Timer) {
		rq.onReplenishFire(e)
	}, 0)
}

// UpdateDLEntity implements the CBS wakeup rule (§4.1: update_dl_entity),
// called from enqueue with EnqueueWakeup set. now is the runqueue clock at
// enqueue time.
func UpdateDLEntity(e *Entity, now int64) {
	overflow := isOverflow(e, now)

	if e.Deadline > now && !overflow {
		return
	}

	implicit := e.Params.Implicit()
	lateDeadlineInPast := e.Deadline <= now

	if implicit || e.Flags.has(FlagBoosted) || lateDeadlineInPast {
		e.Deadline = now + e.Params.Deadline
		e.Runtime = e.Params.Runtime

		return
	}

	// Revised CBS: constrained deadline, overflow only, not boosted.
	e.Runtime = (e.Density * (e.Deadline - now)) >> FixedPointShift
}

// isOverflow evaluates runtime/(deadline-t) > dl_runtime/dl_deadline in
// microsecond-downscaled fixed point to avoid 64-bit overflow, per §4.1.
func isOverflow(e *Entity, now int64) bool {
	remaining := e.Deadline - now
	if remaining <= 0 {
		return true
	}

	const usShift = 10 // downscale ns to a coarser unit before cross-multiplying

	lhs := (e.Runtime >> usShift) * (e.Params.Deadline >> usShift)
	rhs := (remaining >> usShift) * (e.Params.Runtime >> usShift)

	return lhs > rhs
}

// replenishLocked implements replenish_dl_entity (§4.1). now is the current
// time used to detect gross lag.
func (rq *Runqueue) replenishLocked(e *Entity, now int64) {
	rq.replenish(e, now)
}

// Replenish is the exported form of replenish_dl_entity; the
// replenish-timer callback runs the same replenishCore directly.
func Replenish(e *Entity, now int64) {
	replenishCore(e, now)
}

func (rq *Runqueue) replenish(e *Entity, now int64) {
	replenishCore(e, now)
}

// reinheritFromDonor implements the demoted-while-boosted sentinel
// (Params.Deadline == 0 means "re-inherit static parameters from PIDonor
// before doing period arithmetic", per the PI-donor re-inherit decision).
func reinheritFromDonor(e *Entity) {
	if e.Params.Deadline != 0 || e.PIDonor == nil {
		return
	}

	e.Params = e.PIDonor.Params
	e.BW = e.Params.BW()
	e.Density = e.Params.Density()
}

func replenishCore(e *Entity, now int64) {
	reinheritFromDonor(e)

	for e.Runtime <= 0 {
		e.Deadline += e.Params.Period
		e.Runtime += e.Params.Runtime
	}

	if e.Deadline < now {
		e.Deadline = now + e.Params.Deadline
		e.Runtime = e.Params.Runtime
	}

	e.Flags &^= FlagYielded
	e.Flags &^= FlagThrottled
}

// CheckConstrained implements dl_check_constrained (§4.1): on enqueue of a
// non-implicit, non-boosted, non-throttled entity whose deadline < now <
// next_period, force runtime=0 and arm the replenish timer at next_period.
func (rq *Runqueue) CheckConstrained(e *Entity, now int64) {
	if e.Params.Implicit() || e.Flags.has(FlagBoosted) || e.Flags.has(FlagThrottled) {
		return
	}

	nextPeriod := e.Deadline - e.Params.Deadline + e.Params.Period
	if !(e.Deadline < now && now < nextPeriod) {
		return
	}

	e.Runtime = 0
	rq.armReplenishTimer(e, nextPeriod)
}

// onReplenishFire is dl_task_timer (§4.1): fires at the replenish boundary.
func (rq *Runqueue) onReplenishFire(e *Entity) {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	now := rq.Clock.NowNS()

	if !e.onRQ && !e.Flags.has(FlagThrottled) {
		// Task actually slept (dequeued for reasons other than throttle);
		// just replenish, no re-enqueue.
		replenishCore(e, now)

		return
	}

	replenishCore(e, now)

	if e.onRQ {
		// Already queued (shouldn't normally happen while throttled, but
		// stay idempotent): nothing further to do.
		return
	}

	rq.treeInsert(e)

	min := rq.tree.Min()
	if min != nil && min.Payload.(*Entity) == e && rq.Curr != e {
		rq.requestReschedule()
	}

	if rq.overloaded {
		rq.requestReschedule()
	}
}

// ZeroLagTime computes L = deadline - runtime*dl_period/dl_runtime - now,
// the 0-lag time used by the inactive-timer transitions (§4.1).
func ZeroLagTime(e *Entity, now int64) int64 {
	if e.Params.Runtime == 0 {
		return e.Deadline - now
	}

	return e.Deadline - (e.Runtime*e.Params.Period)/e.Params.Runtime - now
}

// DequeueForSleep implements the active-contending -> {inactive,
// active-non-contending} transition on DEQUEUE_SLEEP (§4.1). runningBW is a
// pointer to the owning runqueue's running_bw accumulator.
func (rq *Runqueue) DequeueForSleep(e *Entity, now int64, runningBW *int64) {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	l := ZeroLagTime(e, now)

	if l < 0 {
		*runningBW -= e.BW
		e.Flags |= FlagInactive
		e.Flags &^= FlagNonContending

		return
	}

	e.Flags |= FlagNonContending

	if e.InactiveTimer == nil {
		e.InactiveTimer = newInactiveTimer(rq, e, runningBW)
	}

	if e.InactiveTimer.Queued() {
		rq.Wheel.Dequeue(e.InactiveTimer)
	}

	e.InactiveTimer.Expiry = now + l
	rq.Wheel.Enqueue(e.InactiveTimer)
}

func newInactiveTimer(rq *Runqueue, e *Entity, runningBW *int64) *wheel.Timer {
	return wheel.NewTimer(func(*wheel.Timer) {
		rq.mu.Lock()
		defer rq.mu.Unlock()

		if !e.Flags.has(FlagNonContending) {
			return
		}

		*runningBW -= e.BW
		e.Flags |= FlagInactive
		e.Flags &^= FlagNonContending
	}, 0)
}

// CancelNonContending cancels an armed inactive timer because the task woke
// before it fired, leaving the entity contending (§4.1: "if the task wakes
// before it fires, cancel the timer and remain contending").
func (rq *Runqueue) CancelNonContending(e *Entity) {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	if e.InactiveTimer != nil {
		rq.Wheel.Dequeue(e.InactiveTimer)
	}

	e.Flags &^= FlagNonContending
}

// WakeFromInactive implements "on wake from inactive, re-add dl_bw to
// running_bw" (§4.1).
func (rq *Runqueue) WakeFromInactive(e *Entity, runningBW *int64) {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	if !e.Flags.has(FlagInactive) {
		return
	}

	*runningBW += e.BW
	e.Flags &^= FlagInactive
}
