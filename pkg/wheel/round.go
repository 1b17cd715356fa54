package wheel

// RoundJiffies snaps j down to the nearest whole HZ boundary, skewed by
// 3*cpu ticks to avoid every CPU's periodic timers firing in lockstep
// (thundering herd).
func RoundJiffies(j int64, cpu int, hz int64) int64 {
	skew := int64(3 * cpu)
	shifted := j - skew

	down := (shifted / hz) * hz
	if shifted%hz != 0 && shifted < 0 {
		down -= hz
	}

	return down + skew
}

// RoundJiffiesUp is RoundJiffies but never returns a value <= j (B3).
func RoundJiffiesUp(j int64, cpu int, hz int64) int64 {
	rounded := RoundJiffies(j, cpu, hz)
	if rounded <= j {
		rounded += hz
	}

	return rounded
}

// RoundJiffiesRelative treats j as a delta from now rather than an absolute
// tick, rounding now+j and returning the result minus now.
func RoundJiffiesRelative(deltaJ int64, now int64, cpu int, hz int64) int64 {
	return RoundJiffies(now+deltaJ, cpu, hz) - now
}

// RoundJiffiesUpRelative is the "up" variant of RoundJiffiesRelative.
func RoundJiffiesUpRelative(deltaJ int64, now int64, cpu int, hz int64) int64 {
	return RoundJiffiesUp(now+deltaJ, cpu, hz) - now
}

// BeginMigrate marks t as mid cross-CPU move (§4.3 cross-CPU timer move,
// §5(b)). The caller must hold the old base's lock and must not hold the
// new base's lock while the flag is set, per the spin-until-clear contract
// WaitMigration implements for racing readers.
func BeginMigrate(t *Timer) {
	t.Flags |= FlagMigrating
}

// EndMigrate clears the migrating flag once the timer has been re-armed on
// its new base.
func EndMigrate(t *Timer) {
	t.Flags &^= FlagMigrating
}

// WaitMigration busy-waits until t's migrating flag clears. Readers on the
// old base use this instead of taking a lock the new owner may be holding.
func WaitMigration(t *Timer, yield func()) {
	for t.Flags.has(FlagMigrating) {
		if yield != nil {
			yield()
		}
	}
}
