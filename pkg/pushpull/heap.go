// Package pushpull implements the cross-CPU migration machinery that keeps
// the N system-wide earliest deadlines running on the N CPUs (§4.2, §4.6):
// a per-domain max-heap of CPU priorities, a mirror max-heap of per-CPU
// earliest deadlines, and the push/pull controller that uses them.
package pushpull

import (
	"container/heap"
	"sync"

	"dlsched/pkg/deadline"
)

// Priority values for the CPU-priority heap (§4.6): RT priority 1..99 maps
// through unchanged; deadline presence is pinned above any RT priority;
// CFS/normal is the floor.
const (
	PriorityInvalid = -1
	PriorityNormal  = 0
	PriorityDeadline = 100
)

type cpuPriorityEntry struct {
	cpu      int
	priority int
	index    int
}

type priorityHeapArray []*cpuPriorityEntry

func (h priorityHeapArray) Len() int { return len(h) }
func (h priorityHeapArray) Less(i, j int) bool {
	return h[i].priority > h[j].priority // max-heap
}

func (h priorityHeapArray) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *priorityHeapArray) Push(x any) {
	e := x.(*cpuPriorityEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *priorityHeapArray) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]

	return e
}

// PriorityHeap is the CPU-priority max-heap (§4.6): set(cpu,p) in O(log N);
// find(mask, predicate) scans from the root filtering by CPU mask and an
// optional capacity-fit predicate.
type PriorityHeap struct {
	mu      sync.Mutex
	entries map[int]*cpuPriorityEntry
	arr     priorityHeapArray
}

// NewPriorityHeap constructs an empty heap over the given CPU ids, all
// initialized to PriorityNormal.
func NewPriorityHeap(cpus []int) *PriorityHeap {
	h := &PriorityHeap{entries: make(map[int]*cpuPriorityEntry, len(cpus))}

	for _, cpu := range cpus {
		e := &cpuPriorityEntry{cpu: cpu, priority: PriorityNormal}
		h.entries[cpu] = e
		h.arr = append(h.arr, e)
	}

	heap.Init(&h.arr)

	return h
}

// Set implements set(cpu, p): updates cpu's priority and re-heapifies in
// O(log N). R3: calling Set twice with the same value is a no-op on heap
// shape (fix performs no swaps when priority is unchanged).
func (h *PriorityHeap) Set(cpu, priority int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, ok := h.entries[cpu]
	if !ok {
		return
	}

	if e.priority == priority {
		return
	}

	e.priority = priority
	heap.Fix(&h.arr, e.index)
}

// Find scans the heap from the root for the highest-priority CPU allowed by
// mask and accepted by fit (nil fit accepts anything). It reports false if
// no entry matches.
func (h *PriorityHeap) Find(mask map[int]bool, fit func(cpu int) bool) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	best := -1
	bestPriority := PriorityInvalid

	for _, e := range h.arr {
		if mask != nil && !mask[e.cpu] {
			continue
		}

		if fit != nil && !fit(e.cpu) {
			continue
		}

		if e.priority > bestPriority {
			bestPriority = e.priority
			best = e.cpu
		}
	}

	if best == -1 {
		return 0, false
	}

	return best, true
}

type cpuDeadlineEntry struct {
	cpu      int
	deadline int64
	index    int
}

type deadlineHeapArray []*cpuDeadlineEntry

func (h deadlineHeapArray) Len() int { return len(h) }
func (h deadlineHeapArray) Less(i, j int) bool {
	return h[i].deadline > h[j].deadline // max-heap: "no deadline" (MaxInt64) floats to the root
}

func (h deadlineHeapArray) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *deadlineHeapArray) Push(x any) {
	e := x.(*cpuDeadlineEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *deadlineHeapArray) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]

	return e
}

// DeadlineHeap is the mirror CPU-deadline max-heap (§4.6): per-CPU earliest
// running deadline, with deadline.NoDeadline sorting as the maximum.
type DeadlineHeap struct {
	mu      sync.Mutex
	entries map[int]*cpuDeadlineEntry
	arr     deadlineHeapArray
}

// NewDeadlineHeap constructs an empty heap over the given CPU ids, all
// initialized to NoDeadline.
func NewDeadlineHeap(cpus []int) *DeadlineHeap {
	h := &DeadlineHeap{entries: make(map[int]*cpuDeadlineEntry, len(cpus))}

	for _, cpu := range cpus {
		e := &cpuDeadlineEntry{cpu: cpu, deadline: deadline.NoDeadline}
		h.entries[cpu] = e
		h.arr = append(h.arr, e)
	}

	heap.Init(&h.arr)

	return h
}

// Set updates cpu's tracked earliest deadline.
func (h *DeadlineHeap) Set(cpu int, d int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, ok := h.entries[cpu]
	if !ok {
		return
	}

	if e.deadline == d {
		return
	}

	e.deadline = d
	heap.Fix(&h.arr, e.index)
}

// Get returns cpu's tracked earliest deadline.
func (h *DeadlineHeap) Get(cpu int) (int64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, ok := h.entries[cpu]
	if !ok {
		return 0, false
	}

	return e.deadline, true
}

// FindLater scans for a CPU allowed by mask, accepted by fit, whose tracked
// deadline is strictly later than d, preferring the LATEST such deadline
// (find_later_rq: pushing to the laziest-deadline CPU disturbs the domain
// least).
func (h *DeadlineHeap) FindLater(d int64, mask map[int]bool, fit func(cpu int) bool) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	best := -1
	bestDeadline := int64(-1)

	for _, e := range h.arr {
		if e.deadline <= d {
			continue
		}

		if mask != nil && !mask[e.cpu] {
			continue
		}

		if fit != nil && !fit(e.cpu) {
			continue
		}

		if e.deadline > bestDeadline {
			bestDeadline = e.deadline
			best = e.cpu
		}
	}

	if best == -1 {
		return 0, false
	}

	return best, true
}

// FindEarliest scans for the CPU with the earliest tracked deadline allowed
// by mask (pull_dl_task: find the most overloaded donor).
func (h *DeadlineHeap) FindEarliest(mask map[int]bool) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	best := -1
	bestDeadline := deadline.NoDeadline

	for _, e := range h.arr {
		if mask != nil && !mask[e.cpu] {
			continue
		}

		if e.deadline < bestDeadline {
			bestDeadline = e.deadline
			best = e.cpu
		}
	}

	if best == -1 || bestDeadline == deadline.NoDeadline {
		return 0, false
	}

	return best, true
}
