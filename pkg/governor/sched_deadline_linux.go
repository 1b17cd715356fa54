//go:build linux

package governor

import (
	"context"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// schedAttr mirrors the kernel's struct sched_attr ABI (see sched_setattr(2))
// for the fields SCHED_DEADLINE cares about. x/sys/unix does not wrap this
// syscall, so the struct and the raw Syscall call are hand-rolled here, in
// the same package-var-indirection style as the teacher's trySchedIdle.
type schedAttr struct {
	size     uint32
	policy   uint32
	flags    uint64
	nice     int32
	priority uint32
	runtime  uint64
	deadline uint64
	period   uint64
}

const schedDeadlinePolicy = 6 // SCHED_DEADLINE, not yet exposed by x/sys/unix

var (
	schedSetAttrMu sync.RWMutex
	schedSetAttr   = rawSchedSetAttr
)

func rawSchedSetAttr(tid int, attr *schedAttr) error {
	_, _, errno := unix.Syscall(unix.SYS_SCHED_SETATTR, uintptr(tid), uintptr(unsafe.Pointer(attr)), 0)
	if errno != 0 {
		return errno
	}

	return nil
}

// linuxSchedAttrApplier applies SCHED_DEADLINE parameters to a real OS
// thread via sched_setattr(2), best-effort (§4.10). It never blocks on ctx;
// the parameter is accepted for interface symmetry with other collaborators.
type linuxSchedAttrApplier struct{}

// NewSchedAttrApplier returns the Linux sched_setattr-backed applier.
func NewSchedAttrApplier() SchedAttrApplier {
	return linuxSchedAttrApplier{}
}

func (linuxSchedAttrApplier) Apply(ctx context.Context, tid int, runtimeNS, deadlineNS, periodNS uint64) error {
	_ = ctx

	schedSetAttrMu.RLock()
	fn := schedSetAttr
	schedSetAttrMu.RUnlock()

	attr := &schedAttr{
		size:     uint32(unsafe.Sizeof(schedAttr{})),
		policy:   schedDeadlinePolicy,
		runtime:  runtimeNS,
		deadline: deadlineNS,
		period:   periodNS,
	}

	return fn(tid, attr)
}
