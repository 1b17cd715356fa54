package shape

import (
	"context"
	"errors"
	"math"
	"runtime"
	"sync/atomic"
	"time"
)

// Pool drives one simulated CPU lane's real wall-clock load: a group of
// duty-cycle workers that burn short quanta of actual CPU time so the
// lane's host-observable utilization tracks the scheduler's computed
// running_bw/capacity ratio (cmd/edfsimd's --host-load mode). One Pool is
// instantiated per simulated CPU; its target is updated every tick from
// the lane's current GRUB accounting rather than from any shaping policy.
type Pool struct {
	workers int
	quantum time.Duration

	busyFunc  func(time.Duration)
	sleepFunc func(time.Duration)
	yieldFunc func()

	// workerStartHook, when set, runs at each worker's start in place of
	// configureRootfulHooks; its error goes to workerStartErrorHandler.
	workerStartHook         func() error
	workerStartErrorHandler func(error)

	targetBits   atomic.Uint64
	schedIdleErr atomic.Value
}

// DefaultQuantum bounds the busy loop to a responsive interval.
const DefaultQuantum = time.Millisecond

const (
	minQuantum = time.Millisecond
	maxQuantum = 5 * time.Millisecond
)

// NewPool constructs a worker pool with the provided worker count and quantum duration.
func NewPool(workers int, quantum time.Duration) (*Pool, error) {
	if workers <= 0 {
		return nil, errors.New("worker count must be positive")
	}
	if quantum <= 0 {
		quantum = DefaultQuantum
	}
	if quantum < minQuantum {
		quantum = minQuantum
	}
	if quantum > maxQuantum {
		quantum = maxQuantum
	}

	p := &Pool{
		workers:   workers,
		quantum:   quantum,
		busyFunc:  busyWait,
		sleepFunc: time.Sleep,
		yieldFunc: runtime.Gosched,
	}
	p.SetTarget(0)
	return p, nil
}

// Workers returns the configured worker count.
func (p *Pool) Workers() int {
	return p.workers
}

// Quantum returns the configured duty-cycle quantum.
func (p *Pool) Quantum() time.Duration {
	return p.quantum
}

// Start launches the worker goroutines. The pool terminates when the context is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		go p.worker(ctx)
	}
}

// configureRootfulHooks applies best-effort OS scheduling hints to the
// calling worker's thread before it starts burning CPU quanta: under
// linux && rootful builds this sets SCHED_IDLE so the simulated load
// never outcompetes real work on the host for CPU time; elsewhere it is a
// documented no-op (trySchedIdle's non-rootful stub). p may be nil.
func configureRootfulHooks(p *Pool) {
	if p == nil {
		return
	}

	if err := trySchedIdle(); err != nil {
		p.schedIdleErr.Store(err.Error())
	}
}

// SetTarget updates the duty cycle target in the range [0,1].
func (p *Pool) SetTarget(target float64) {
	if math.IsNaN(target) {
		target = 0
	}
	if target < 0 {
		target = 0
	} else if target > 1 {
		target = 1
	}
	p.targetBits.Store(math.Float64bits(target))
}

// Target returns the current duty-cycle target.
func (p *Pool) Target() float64 {
	return math.Float64frombits(p.targetBits.Load())
}

// SchedIdleError returns the most recent error a worker hit while trying
// to set SCHED_IDLE on itself, or nil if none of its workers have hit one
// (including on builds where trySchedIdle is always a no-op).
func (p *Pool) SchedIdleError() error {
	v := p.schedIdleErr.Load()
	if v == nil {
		return nil
	}

	return errors.New(v.(string)) //nolint:forcetypeassert // only this type is ever stored
}

func (p *Pool) worker(ctx context.Context) {
	if p.workerStartHook != nil {
		if err := p.workerStartHook(); err != nil && p.workerStartErrorHandler != nil {
			p.workerStartErrorHandler(err)
		}
	} else {
		configureRootfulHooks(p)
	}

	quantum := p.quantum
	busyFn := p.busyFunc
	sleepFn := p.sleepFunc
	yieldFn := p.yieldFunc

	ticker := time.NewTicker(quantum)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			target := p.Target()
			busyDuration := time.Duration(target * float64(quantum))
			if busyDuration > quantum {
				busyDuration = quantum
			}
			idleDuration := quantum - busyDuration

			if busyDuration > 0 {
				busyFn(busyDuration)
			} else {
				yieldFn()
			}

			if idleDuration > 0 {
				sleepFn(idleDuration)
			} else {
				yieldFn()
			}

			yieldFn()
		}
	}
}

func busyWait(duration time.Duration) {
	if duration <= 0 {
		return
	}
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		runtime.Gosched()
	}
}
