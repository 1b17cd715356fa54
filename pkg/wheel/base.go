// Package wheel implements the per-CPU, per-flavor hashed timer wheel used
// for replenishment, inactive-task and bandwidth-period timers: 8 or 9
// levels of 64 buckets each, 8x coarser per level, no cascading.
//
// Grounded on intuitivelabs-wtimer's per-base bucket array and pending-bitmap
// shape, and on the layered tick/wheelSize/interval structure of the
// retrieved Chinese-language timeWheel example; the level-index arithmetic
// itself follows spec.md §4.3 directly.
package wheel

import (
	"container/list"
	"sync"
)

// ModMode controls ModifyTimer's refusal rules.
type ModMode int

const (
	// ModNormal always applies the new expiry.
	ModNormal ModMode = iota
	// ModReduce refuses updates that would push the expiry later.
	ModReduce
	// ModPendingOnly refuses the update unless the timer is already queued.
	ModPendingOnly
)

// Base is one per-CPU, per-flavor (standard/deferrable) wheel: it owns
// every timer queued into its buckets (§3 Timer wheel base).
type Base struct {
	mu sync.Mutex

	levels  int
	buckets []*list.List // len == levels*BucketsPerLevel
	pending []uint64     // one word per level; bit i set iff bucket i has entries

	clk              int64
	nextExpiry       int64
	nextExpiryStale  bool
	isIdle           bool
	fullNoHZ         bool
	onWake           func()
}

// NewBase constructs a Base with the given number of levels (8 or 9, per
// §4.3) and an initial clock value.
func NewBase(levels int, startClk int64) *Base {
	if levels < MinLevels {
		levels = MinLevels
	}

	if levels > MaxLevels {
		levels = MaxLevels
	}

	b := &Base{
		levels:  levels,
		buckets: make([]*list.List, levels*BucketsPerLevel),
		pending: make([]uint64, levels),
		clk:     startClk,
	}

	for i := range b.buckets {
		b.buckets[i] = list.New()
	}

	b.nextExpiry = startClk + wheelTimeoutMax(levels)

	return b
}

// SetWakeFn installs the callback invoked when an idle base needs to be
// woken because a newly enqueued timer expires before the previously known
// next_expiry.
func (b *Base) SetWakeFn(fn func()) {
	b.mu.Lock()
	b.onWake = fn
	b.mu.Unlock()
}

// SetIdle marks the base idle or active. SetFullNoHZ configures whether
// deferrable timers should wake an idle CPU (only in full-nohz mode).
func (b *Base) SetIdle(idle bool)       { b.mu.Lock(); b.isIdle = idle; b.mu.Unlock() }
func (b *Base) SetFullNoHZ(full bool)   { b.mu.Lock(); b.fullNoHZ = full; b.mu.Unlock() }

// Clk returns the base's current clock tick.
func (b *Base) Clk() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.clk
}

// NextExpiry returns the earliest bucket expiry known to the base.
func (b *Base) NextExpiry() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.nextExpiryStale {
		b.recomputeNextExpiryLocked()
	}

	return b.nextExpiry
}

// Enqueue arms t at its configured Expiry (I4: a timer is in at most one
// bucket at a time; callers must Dequeue an already-queued timer first).
func (b *Base) Enqueue(t *Timer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.enqueueLocked(t)
}

func (b *Base) enqueueLocked(t *Timer) {
	level, global, bucketExpiry := calcWheelIndex(t.Expiry, b.clk, b.levels)

	t.level = level
	t.ArrayIndex = global
	t.elem = b.buckets[global].PushBack(t)
	t.queued = true
	b.pending[level] |= 1 << uint(global-level*BucketsPerLevel)

	if bucketExpiry < b.nextExpiry || b.nextExpiryStale {
		b.nextExpiry = bucketExpiry
		b.nextExpiryStale = false

		if b.isIdle {
			wakeable := !t.Flags.has(FlagDeferrable) || b.fullNoHZ
			if wakeable && b.onWake != nil {
				b.onWake()
			}
		}
	}
}

// Dequeue removes t from its bucket if queued; it is a no-op otherwise.
func (b *Base) Dequeue(t *Timer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.dequeueLocked(t)
}

func (b *Base) dequeueLocked(t *Timer) {
	if !t.queued {
		return
	}

	bucket := b.buckets[t.ArrayIndex]
	bucket.Remove(t.elem)
	t.elem = nil
	t.queued = false

	if bucket.Len() == 0 {
		b.pending[t.level] &^= 1 << uint(t.ArrayIndex-t.level*BucketsPerLevel)
		b.nextExpiryStale = true
	}
}

// ModifyTimer updates t's expiry to newExpiry, applying mode's refusal
// rules. It reports whether the update was applied.
func (b *Base) ModifyTimer(t *Timer, newExpiry int64, mode ModMode) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if mode == ModReduce && t.queued && newExpiry > t.Expiry {
		return false
	}

	if mode == ModPendingOnly && !t.queued {
		return false
	}

	if t.queued {
		level, global, _ := calcWheelIndex(newExpiry, b.clk, b.levels)
		if global == t.ArrayIndex {
			// Fast path: same bucket, update in place without relinking
			// (R2: mod_timer to the same expiry is a pure no-op here too,
			// since global stays equal and the field write is idempotent).
			t.Expiry = newExpiry
			_ = level

			return true
		}

		b.dequeueLocked(t)
	}

	t.Expiry = newExpiry
	b.enqueueLocked(t)

	return true
}

// Forward advances the idle-adjusted clock: clk moves to the smaller of
// newNow and the current next_expiry, and never backwards (I6-analog for
// timer bases).
func (b *Base) Forward(newNow int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.nextExpiryStale {
		b.recomputeNextExpiryLocked()
	}

	target := newNow
	if b.nextExpiry < target {
		target = b.nextExpiry
	}

	if target > b.clk {
		b.clk = target
	}
}

// Advance runs __run_timers: while now >= clk and now >= next_expiry, steps
// the clock forward one tick at a time, collecting every timer whose bucket
// comes due. Returned timers are already detached (I4: no longer queued);
// callers invoke their Fn outside of any runqueue lock, except for
// FlagIRQSafe timers, which the caller should re-associate with its own
// locking per §5's suspension-point rules (this package does not call Fn
// itself, since it has no notion of the scheduler locks callbacks may need).
func (b *Base) Advance(now int64) []*Timer {
	b.mu.Lock()
	defer b.mu.Unlock()

	var due []*Timer

	for now >= b.clk && now >= b.peekNextExpiryLocked() {
		due = append(due, b.advanceOnceLocked()...)
	}

	return due
}

func (b *Base) peekNextExpiryLocked() int64 {
	if b.nextExpiryStale {
		b.recomputeNextExpiryLocked()
	}

	return b.nextExpiry
}

// advanceOnceLocked steps clk by exactly one tick and collects every bucket
// that comes due at the new clk, per level, stopping at the first level not
// yet aligned to its own granularity. It returns timers ordered
// coarsest-level-first (spec.md §4.3 step 3).
func (b *Base) advanceOnceLocked() []*Timer {
	b.clk++

	var headsByLevel [][]*Timer

	for lvl := 0; lvl < b.levels; lvl++ {
		shift := lvlShift(lvl)
		if lvl > 0 && b.clk&((1<<shift)-1) != 0 {
			break
		}

		idx := int((b.clk >> shift) & (BucketsPerLevel - 1))
		global := lvl*BucketsPerLevel + idx
		bucket := b.buckets[global]

		if bucket.Len() == 0 {
			continue
		}

		heads := drainBucket(bucket)
		for _, t := range heads {
			t.elem = nil
			t.queued = false
		}

		b.pending[lvl] &^= 1 << uint(idx)
		headsByLevel = append(headsByLevel, heads)
	}

	b.recomputeNextExpiryLocked()

	var due []*Timer

	for i := len(headsByLevel) - 1; i >= 0; i-- {
		due = append(due, headsByLevel[i]...)
	}

	return due
}

func drainBucket(bucket *list.List) []*Timer {
	out := make([]*Timer, 0, bucket.Len())

	for e := bucket.Front(); e != nil; {
		next := e.Next()
		out = append(out, e.Value.(*Timer))
		bucket.Remove(e)
		e = next
	}

	return out
}

// recomputeNextExpiryLocked implements __next_timer_interrupt: a linear scan
// across levels using the pending bitmaps to find the earliest bucket
// expiry still queued.
func (b *Base) recomputeNextExpiryLocked() {
	best := b.clk + wheelTimeoutMax(b.levels)
	found := false

	for lvl := 0; lvl < b.levels; lvl++ {
		word := b.pending[lvl]
		if word == 0 {
			continue
		}

		shift := lvlShift(lvl)

		for idx := 0; idx < BucketsPerLevel; idx++ {
			if word&(1<<uint(idx)) == 0 {
				continue
			}

			idxRaw := int64(idx)
			// Reconstruct the representative raw index nearest clk: the
			// bucket index wraps every BucketsPerLevel slots, so recover
			// the absolute multiple closest to (but not before) clk.
			base := (b.clk >> shift)
			candidateRaw := base - base%BucketsPerLevel + idxRaw
			if candidateRaw < base {
				candidateRaw += BucketsPerLevel
			}

			expiry := candidateRaw << shift
			if !found || expiry < best {
				best = expiry
				found = true
			}
		}
	}

	b.nextExpiry = best
	b.nextExpiryStale = false
}

// Len reports how many timers are currently queued, for diagnostics/tests.
func (b *Base) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, bucket := range b.buckets {
		n += bucket.Len()
	}

	return n
}

func (f Flag) has(bit Flag) bool { return f&bit != 0 }
