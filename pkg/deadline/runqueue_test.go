package deadline

import "testing"

func TestOverloadedRequiresMigratoryAndMultipleRunning(t *testing.T) {
	rq, _ := newTestRunqueue(0)

	pinned := NewEntity(1, Params{Runtime: 1, Deadline: 10, Period: 10}, map[int]bool{0: true})
	pinned.Deadline = 10
	rq.Enqueue(pinned, EnqueueRestore, 0)

	if rq.Overloaded() {
		t.Fatalf("a single pinned entity must not mark the runqueue overloaded")
	}

	migratory := NewEntity(2, Params{Runtime: 1, Deadline: 20, Period: 20}, map[int]bool{0: true, 1: true})
	migratory.Deadline = 20
	rq.Enqueue(migratory, EnqueueRestore, 0)

	if !rq.Overloaded() {
		t.Fatalf("a migratory entity alongside another runnable entity must mark overloaded")
	}

	if rq.NrMigratory() != 1 {
		t.Fatalf("NrMigratory() = %d, want 1", rq.NrMigratory())
	}
}

func TestOverloadCallbackFiresOnTransition(t *testing.T) {
	rq, _ := newTestRunqueue(0)

	var transitions []bool
	rq.SetCallbacks(func(overloaded bool) { transitions = append(transitions, overloaded) }, nil)

	a := NewEntity(1, Params{Runtime: 1, Deadline: 10, Period: 10}, map[int]bool{0: true, 1: true})
	a.Deadline = 10
	rq.Enqueue(a, EnqueueRestore, 0)

	b := NewEntity(2, Params{Runtime: 1, Deadline: 20, Period: 20}, map[int]bool{0: true, 1: true})
	b.Deadline = 20
	rq.Enqueue(b, EnqueueRestore, 0)

	if len(transitions) != 1 || transitions[0] != true {
		t.Fatalf("expected exactly one overloaded=true transition, got %v", transitions)
	}

	runningBW := int64(0)
	rq.Dequeue(a, 0, 0, &runningBW)

	if len(transitions) != 2 || transitions[1] != false {
		t.Fatalf("expected a second overloaded=false transition, got %v", transitions)
	}
}

func TestPreemptCallbackFiresOnEarlierDeadlineEnqueue(t *testing.T) {
	rq, _ := newTestRunqueue(0)

	preempts := 0
	rq.SetCallbacks(nil, func() { preempts++ })

	curr := NewEntity(1, Params{Runtime: 1, Deadline: 100, Period: 100}, map[int]bool{0: true})
	curr.Deadline = 100
	rq.Curr = curr

	waker := NewEntity(2, Params{Runtime: 1, Deadline: 10, Period: 10}, map[int]bool{0: true})
	waker.Deadline = 10

	rq.Enqueue(waker, EnqueueWakeup, 0)

	if preempts != 1 {
		t.Fatalf("expected exactly one preempt request, got %d", preempts)
	}
}
