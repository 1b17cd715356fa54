//go:build linux && rootful

package shape

import (
	"sync"

	"golang.org/x/sys/unix"
)

var (
	schedSetSchedulerMu sync.RWMutex
	schedSetScheduler   = unix.SchedSetScheduler
)

// trySchedIdle sets the calling thread's policy to SCHED_IDLE, the lowest
// priority the Linux scheduler offers. Pool.worker calls this (via
// configureRootfulHooks in pool.go) so host-load workers burn real CPU
// time for --host-load mode without ever winning a contention fight
// against genuine work sharing the host.
func trySchedIdle() error {
	schedSetSchedulerMu.RLock()
	fn := schedSetScheduler
	schedSetSchedulerMu.RUnlock()

	return fn(0, unix.SCHED_IDLE, &unix.SchedParam{})
}
