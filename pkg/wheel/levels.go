package wheel

// BucketsPerLevel is the fixed fan-out of every wheel level.
const BucketsPerLevel = 64

// MinLevels / MaxLevels bound the supported wheel depth (§4.3: "L levels
// with L ∈ {8, 9}").
const (
	MinLevels = 8
	MaxLevels = 9
)

// lvlShift returns LVL_SHIFT(level): granularity is 8^level ticks, and
// 8^level == 1<<(3*level).
func lvlShift(level int) uint {
	return uint(3 * level)
}

// lvlGran returns LVL_GRAN(level) = 8^level ticks.
func lvlGran(level int) int64 {
	return int64(1) << lvlShift(level)
}

// lvlStart returns LVL_START(level): the smallest delta that level covers.
// LVL_START(0) = 0; LVL_START(l) = 63 * 8^(l-1) for l >= 1.
func lvlStart(level int) int64 {
	if level <= 0 {
		return 0
	}

	return 63 * lvlGran(level-1)
}

// wheelTimeoutMax is the largest delta representable without clamping: one
// tick short of LVL_START(levels).
func wheelTimeoutMax(levels int) int64 {
	return lvlStart(levels) - 1
}

// calcWheelIndex implements calc_wheel_index: given an absolute expiry and
// the base clock, returns the level, the bucket's global flattened index
// (level*BucketsPerLevel + index-within-level), and the bucket's
// representative expiry (always >= the requested expiry, I5/P4).
func calcWheelIndex(expiry, clk int64, levels int) (level int, globalIndex int, bucketExpiry int64) {
	delta := expiry - clk

	switch {
	case delta < 0:
		// Already due (or overdue): fires on the next scan, in the
		// current level-0 bucket.
		idx := int(clk & (BucketsPerLevel - 1))

		return 0, idx, clk
	case delta >= wheelTimeoutMax(levels):
		// Overshoot: clamp to the coarsest representable expiry.
		clamped := clk + wheelTimeoutMax(levels)

		return calcWheelIndexNoClamp(clamped, clk, levels)
	default:
		return calcWheelIndexNoClamp(expiry, clk, levels)
	}
}

// ProbeBucket exposes calc_wheel_index for offline tooling (hack/tools/
// wheelprobe): given an absolute expiry, a base clock reading and a wheel
// depth, it reports which level and global bucket index a timer with that
// expiry would land in, and the bucket's representative expiry.
func ProbeBucket(expiry, clk int64, levels int) (level, globalIndex int, bucketExpiry int64) {
	if levels < MinLevels {
		levels = MinLevels
	}

	if levels > MaxLevels {
		levels = MaxLevels
	}

	return calcWheelIndex(expiry, clk, levels)
}

func calcWheelIndexNoClamp(expiry, clk int64, levels int) (level int, globalIndex int, bucketExpiry int64) {
	delta := expiry - clk

	lvl := 0
	for lvl < levels-1 && delta >= lvlStart(lvl+1) {
		lvl++
	}

	shift := lvlShift(lvl)
	idxRaw := (expiry + lvlGran(lvl)) >> shift
	idxInLevel := int(idxRaw & (BucketsPerLevel - 1))
	bucketExpiry = idxRaw << shift

	return lvl, lvl*BucketsPerLevel + idxInLevel, bucketExpiry
}
