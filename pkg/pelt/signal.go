package pelt

// Signal is a PELT geometric-decay signal block, embedded in a task or a
// runqueue. Only the owning container mutates it; cross-CPU readers should
// go through an acquire-style snapshot instead of touching these fields
// directly (§5 ordering guarantees).
type Signal struct {
	LastUpdateTime int64 // ns, monotone within this block (I6)

	LoadSum     uint64
	RunnableSum uint64
	UtilSum     uint64

	// PeriodContrib is the sub-period remainder, in [0, PeriodUS).
	PeriodContrib uint32

	LoadAvg     uint64
	RunnableAvg uint64
	UtilAvg     uint64
}

// Update advances the signal to nowNS given the entity's current load
// (weight), runnable (on_rq) and running state, per §4.4's "Inputs" rule:
// a zero load forces runnable and running to zero as well, so a dequeued
// entity caught mid-transition cannot accumulate phantom load. Returns
// false if nowNS did not move the clock forward (I6: last_update_time never
// decreases, so no-op rather than reject).
func (s *Signal) Update(nowNS int64, load uint32, runnable, running bool) bool {
	delta := nowNS - s.LastUpdateTime
	if delta <= 0 {
		if s.LastUpdateTime == 0 {
			s.LastUpdateTime = nowNS
		}

		return false
	}

	s.LastUpdateTime = nowNS

	if load == 0 {
		runnable = false
		running = false
	}

	deltaUS := uint64(delta) / 1000
	if deltaUS == 0 {
		return false
	}

	s.accumulate(deltaUS, load, runnable, running)
	s.updateAverages()

	return true
}

// accumulate implements accumulate_sum: split the elapsed microseconds into
// d1 (filling the prior incomplete period), d2 (p whole periods, folded via
// the closed-form periodSum) and d3 (the new incomplete period's partial
// contribution).
func (s *Signal) accumulate(deltaUS uint64, load uint32, runnable, running bool) {
	contribBefore := s.PeriodContrib

	if deltaUS+uint64(contribBefore) < PeriodUS {
		// Still inside the same incomplete period: no period boundary
		// crossed, nothing to decay.
		s.PeriodContrib += uint32(deltaUS)
		s.add(deltaUS, load, runnable, running)

		return
	}

	d1 := uint64(PeriodUS - contribBefore)
	s.PeriodContrib = 0
	s.add(d1, load, runnable, running)

	remaining := deltaUS - d1
	periods := uint32(remaining / PeriodUS)
	d3 := remaining % PeriodUS

	if periods > 0 {
		s.LoadSum = DecayLoad(s.LoadSum, periods)
		s.RunnableSum = DecayLoad(s.RunnableSum, periods)
		s.UtilSum = DecayLoad(s.UtilSum, periods)

		contrib := periodSum(periods)
		s.add(contrib, load, runnable, running)
	}

	s.PeriodContrib = uint32(d3)
	s.add(d3, load, runnable, running)
}

func (s *Signal) add(units uint64, load uint32, runnable, running bool) {
	if units == 0 {
		return
	}

	if load != 0 {
		s.LoadSum += uint64(load) * units
	}

	if runnable {
		s.RunnableSum += units
	}

	if running {
		s.UtilSum += units
	}
}

// updateAverages recomputes load_avg/runnable_avg/util_avg from the current
// sums, sharing one divider as specified: avg = sum / (LOAD_AVG_MAX - 1024 +
// period_contrib).
func (s *Signal) updateAverages() {
	divider := uint64(LoadAvgMax-PeriodUS) + uint64(s.PeriodContrib)
	if divider == 0 {
		return
	}

	s.LoadAvg = s.LoadSum / divider
	s.RunnableAvg = s.RunnableSum / divider
	s.UtilAvg = s.UtilSum / divider
}

// TaskInputs derives the (load, runnable, running) triple for a task entity
// per §4.4: load is the entity weight, runnable is 1 iff the entity is on
// its runqueue, running is 1 iff it is the one currently executing.
func TaskInputs(weight uint32, onRQ, running bool) (load uint32, runnable, runningOut bool) {
	return weight, onRQ, running
}

// RunqueueInputs derives the (load, runnable, running) triple for an
// aggregate runqueue signal per §4.4: load is the sum of member weights,
// runnable is the runnable headcount, running is whether a current entity
// is set.
func RunqueueInputs(totalWeight uint32, nrRunning uint32, hasCurrent bool) (load uint32, runnable, running bool) {
	return totalWeight, nrRunning > 0, hasCurrent
}
