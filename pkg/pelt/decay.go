// Package pelt implements the per-entity load tracking geometric-decay
// estimator: load_avg, runnable_avg and util_avg signals with a 32-period
// (≈32ms) half-life, normalized to a 1024 fixed-point domain.
//
// The periodic-sample-and-publish shape (accumulate deltas against a clock,
// clamp to a valid range, expose a snapshot) follows the duty-cycle sampler
// in the teacher's est package; the decay mathematics themselves are the
// specification's own fixed-point definition.
package pelt

import "math"

const (
	// PeriodUS is the fixed-point "period" unit PELT sums are expressed in.
	PeriodUS = 1024

	// LoadAvgMax is the asymptotic maximum of the geometric series
	// Σ 1024·y^n as n→∞, for y^32 = 1/2.
	LoadAvgMax = 47742

	// halfLifePeriods is the number of periods after which a decayed value
	// is halved (y^32 = 1/2).
	halfLifePeriods = 32

	q32One = uint64(1) << 32
)

// decayTable[n] holds y^n in Q32 fixed point for n in [0,32), where
// y = (1/2)^(1/32).
var decayTable [halfLifePeriods]uint64

func init() {
	y := math.Pow(0.5, 1.0/halfLifePeriods)

	acc := 1.0
	for n := 0; n < halfLifePeriods; n++ {
		decayTable[n] = uint64(acc * float64(q32One))
		acc *= y
	}
}

// DecayLoad returns x·y^periods, y^32 = 1/2, using the precomputed Q32
// table for periods mod 32 and a bit-shift for every whole multiple of 32
// (P5: DecayLoad(x,0) == x, DecayLoad(x,32) == x/2 within one ulp, and the
// function is monotone non-increasing in periods).
func DecayLoad(x uint64, periods uint32) uint64 {
	if x == 0 || periods == 0 {
		return x
	}

	whole := periods / halfLifePeriods
	local := periods % halfLifePeriods

	val := (x * decayTable[local]) >> 32

	if whole > 0 {
		if whole >= 64 {
			return 0
		}

		val >>= whole
	}

	return val
}

// periodSum returns Σ_{n=1}^{periods-1} 1024·y^n = LoadAvgMax -
// DecayLoad(LoadAvgMax, periods) - 1024, the closed form used to fold in a
// run of whole elapsed periods without iterating them one at a time.
func periodSum(periods uint32) uint64 {
	if periods == 0 {
		return 0
	}

	decayed := DecayLoad(uint64(LoadAvgMax), periods)
	if decayed+PeriodUS > LoadAvgMax {
		return 0
	}

	return LoadAvgMax - decayed - PeriodUS
}
