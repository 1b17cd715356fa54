package deadline

import "errors"

// Error kinds used by the core (§7).
var (
	// ErrInvalidParameter: deadline/runtime/period failed syntactic
	// validation.
	ErrInvalidParameter = errors.New("deadline: invalid parameter")

	// ErrBusy: admission would exceed capacity; no state changed.
	ErrBusy = errors.New("deadline: busy, admission would exceed capacity")

	// ErrNoSuchCPU: operation targeted an offline or out-of-range CPU.
	ErrNoSuchCPU = errors.New("deadline: no such cpu")

	// ErrRetry: a double-lock race was lost; caller reloads and retries
	// (bounded tries).
	ErrRetry = errors.New("deadline: lock race, retry")

	// ErrThrottled is a non-fatal signal that an entity has been removed
	// from the tree and armed for replenishment. It is never surfaced to a
	// user-facing caller (§7: "Runtime-exhaustion is never surfaced
	// upward"); it exists so internal callers can distinguish the case in
	// logs/metrics.
	ErrThrottled = errors.New("deadline: throttled")
)

// withRetry runs fn up to attempts times, stopping at the first success or
// the first error that isn't ErrRetry. This is the push/pull double-lock
// bounded-retry helper described in §5/§7.
func withRetry(attempts int, fn func() error) error {
	var err error

	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || !errors.Is(err, ErrRetry) {
			return err
		}
	}

	return err
}
