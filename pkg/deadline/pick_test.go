package deadline

import "testing"

func TestP1LeftmostMatchesEarliestCurr(t *testing.T) {
	rq, _ := newTestRunqueue(0)

	deadlines := []int64{50, 10, 30, 5, 90}

	for i, d := range deadlines {
		p := Params{Runtime: 1, Deadline: d, Period: d}
		e := NewEntity(TaskID(i), p, map[int]bool{0: true, 1: true})
		e.Deadline = d
		e.Runtime = 1

		rq.Enqueue(e, EnqueueWakeup, 0)
	}

	next := rq.PickNext()
	if next == nil {
		t.Fatalf("expected a runnable entity")
	}

	if next.Deadline != 5 {
		t.Fatalf("PickNext deadline = %d, want 5", next.Deadline)
	}

	if rq.EarliestCurr() != 5 {
		t.Fatalf("EarliestCurr() = %d, want 5 (I1)", rq.EarliestCurr())
	}
}

func TestScenario3EDFPreemptionPicksEarlierDeadline(t *testing.T) {
	rq, _ := newTestRunqueue(0)

	t1 := NewEntity(1, Params{Runtime: 3, Deadline: 10, Period: 10}, map[int]bool{0: true})
	t1.Deadline = 10
	t1.Runtime = 3

	t2 := NewEntity(2, Params{Runtime: 2, Deadline: 5, Period: 5}, map[int]bool{0: true})
	t2.Deadline = 5
	t2.Runtime = 2

	rq.Enqueue(t1, EnqueueWakeup, 0)
	rq.Enqueue(t2, EnqueueWakeup, 0)

	got := rq.PickNext()
	if got != t2 {
		t.Fatalf("PickNext() picked task %d, want task 2 (earlier deadline)", got.ID)
	}
}

func TestCheckPreemptCurrGrantsOnStrictlyEarlierDeadline(t *testing.T) {
	rq, _ := newTestRunqueue(0)

	curr := NewEntity(1, Params{Runtime: 1, Deadline: 100, Period: 100}, map[int]bool{0: true})
	curr.Deadline = 100
	rq.Curr = curr

	waker := NewEntity(2, Params{Runtime: 1, Deadline: 50, Period: 50}, map[int]bool{0: true})
	waker.Deadline = 50

	if !rq.CheckPreemptCurr(waker) {
		t.Fatalf("expected preemption grant for strictly earlier deadline")
	}
}

func TestCheckPreemptCurrSUGOVAlwaysWins(t *testing.T) {
	rq, _ := newTestRunqueue(0)

	curr := NewEntity(1, Params{Runtime: 1, Deadline: 10, Period: 10}, map[int]bool{0: true})
	curr.Deadline = 10
	rq.Curr = curr

	waker := NewEntity(2, Params{Runtime: 1, Deadline: 1000, Period: 1000}, map[int]bool{0: true})
	waker.Deadline = 1000
	waker.Flags |= FlagSUGOV

	if !rq.CheckPreemptCurr(waker) {
		t.Fatalf("SUGOV entity must preempt any ordinary deadline task")
	}
}

func TestI7BoostedOverridesThrottleOnEnqueue(t *testing.T) {
	rq, _ := newTestRunqueue(0)

	e := NewEntity(1, Params{Runtime: 1_000_000, Deadline: 10_000_000, Period: 10_000_000}, map[int]bool{0: true})
	e.Deadline = 10_000_000
	e.Runtime = 1_000_000
	e.Flags |= FlagThrottled | FlagBoosted

	rq.Enqueue(e, 0, 0)

	if !e.onRQ {
		t.Fatalf("boosted throttled entity must still be enqueued (I7)")
	}

	if e.Flags.has(FlagThrottled) {
		t.Fatalf("enqueue should clear throttled once admitted")
	}
}

func TestThrottledNonBoostedStaysOffTree(t *testing.T) {
	rq, _ := newTestRunqueue(0)

	e := NewEntity(1, Params{Runtime: 1_000_000, Deadline: 10_000_000, Period: 10_000_000}, map[int]bool{0: true})
	e.Deadline = 10_000_000
	e.Runtime = 1_000_000
	e.Flags |= FlagThrottled

	rq.Enqueue(e, 0, 0)

	if e.onRQ {
		t.Fatalf("throttled, non-boosted entity must stay off the tree")
	}
}

func TestR1EnqueueRestoreDequeueSaveRoundTrip(t *testing.T) {
	rq, _ := newTestRunqueue(0)

	e := NewEntity(1, Params{Runtime: 1_000_000, Deadline: 10_000_000, Period: 10_000_000}, map[int]bool{0: true})
	e.Deadline = 10_000_000
	e.Runtime = 1_000_000

	nrBefore := rq.NrRunning()
	bwBefore := rq.RunningBW

	runningBW := rq.RunningBW

	rq.Enqueue(e, EnqueueRestore, 0)
	rq.Dequeue(e, DequeueSave, 0, &runningBW)

	if rq.NrRunning() != nrBefore {
		t.Fatalf("nr_running changed across restore/save round trip: %d -> %d", nrBefore, rq.NrRunning())
	}

	if rq.RunningBW != bwBefore {
		t.Fatalf("running_bw changed across restore/save round trip: %d -> %d", bwBefore, rq.RunningBW)
	}
}

func TestSetNextPutPrevPushableTransition(t *testing.T) {
	rq, _ := newTestRunqueue(0)

	e := NewEntity(1, Params{Runtime: 1, Deadline: 10, Period: 10}, map[int]bool{0: true, 1: true})
	e.Deadline = 10
	e.Runtime = 1

	rq.Enqueue(e, EnqueueWakeup, 0)

	if rq.LeftmostPushable() != e {
		t.Fatalf("expected migratory runnable entity to be pushable before running")
	}

	rq.SetNext(e, 0)

	if rq.LeftmostPushable() != nil {
		t.Fatalf("a currently running entity must not be pushable")
	}

	rq.PutPrev(e)

	if rq.LeftmostPushable() != e {
		t.Fatalf("expected entity to become pushable again after PutPrev")
	}
}
