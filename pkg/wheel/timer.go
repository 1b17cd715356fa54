package wheel

import "container/list"

// Flag bits carried in a Timer's flag word (§3 Timer: "flags {pinned,
// deferrable, irqsafe, migrating, array-index}").
type Flag uint32

const (
	// FlagPinned excludes the timer from cross-CPU load balancing.
	FlagPinned Flag = 1 << iota
	// FlagDeferrable timers don't by themselves keep a fully-idle, nohz CPU
	// awake.
	FlagDeferrable
	// FlagIRQSafe timers keep the base lock held across their callback.
	FlagIRQSafe
	// FlagMigrating marks a timer mid cross-CPU move; readers on the old
	// base spin until it clears (§4.3, §5(b)).
	FlagMigrating
)

// Callback is invoked when a timer expires. It receives the timer itself so
// a callback can inspect expiry/flags or re-arm via the owning Base.
type Callback func(*Timer)

// Timer is a single wheel timer. The ArrayIndex field mirrors I4: while
// queued, it always equals the timer's actual bucket's global index.
type Timer struct {
	Expiry int64 // absolute expiry, in tick units
	Flags  Flag
	Fn     Callback

	queued      bool
	level       int
	ArrayIndex  int
	elem        *list.Element
}

// Queued reports whether the timer is currently resident in some bucket.
func (t *Timer) Queued() bool {
	return t.queued
}

// NewTimer constructs an unarmed timer with the given callback and flags.
func NewTimer(fn Callback, flags Flag) *Timer {
	return &Timer{Fn: fn, Flags: flags}
}
