package deadline

import "testing"

func TestTaskForkResetsLiveFieldsButKeepsParams(t *testing.T) {
	parent := NewEntity(1, Params{Runtime: 2_000_000, Deadline: 5_000_000, Period: 5_000_000}, map[int]bool{0: true, 1: true})
	parent.Deadline = 123
	parent.Runtime = 456

	child := TaskFork(parent, 2)

	if child.Params != parent.Params {
		t.Fatalf("child params = %+v, want %+v", child.Params, parent.Params)
	}

	if child.Deadline != 0 || child.Runtime != 0 {
		t.Fatalf("child live fields not reset: deadline=%d runtime=%d", child.Deadline, child.Runtime)
	}

	child.AllowedCPUs[2] = true
	if parent.AllowedCPUs[2] {
		t.Fatalf("child's allowed-CPU map must be an independent copy")
	}
}

func TestTaskDeadReleasesBandwidth(t *testing.T) {
	rq, _ := newTestRunqueue(0)

	e := NewEntity(1, Params{Runtime: 1_000_000, Deadline: 10_000_000, Period: 10_000_000}, map[int]bool{0: true})
	e.Deadline = 10_000_000
	e.Runtime = 1_000_000

	rq.ThisBW = e.BW
	rq.RunningBW = e.BW

	rq.Enqueue(e, EnqueueWakeup, 0)
	rq.TaskDead(e)

	if rq.ThisBW != 0 {
		t.Fatalf("this_bw = %d, want 0 after task_dead", rq.ThisBW)
	}

	if rq.RunningBW != 0 {
		t.Fatalf("running_bw = %d, want 0 after task_dead", rq.RunningBW)
	}

	if e.onRQ {
		t.Fatalf("dead entity must be removed from the tree")
	}
}

func TestSwitchedFromDisarmsTimers(t *testing.T) {
	rq, _ := newTestRunqueue(0)

	e := NewEntity(1, Params{Runtime: 1_000_000, Deadline: 10_000_000, Period: 10_000_000}, map[int]bool{0: true})
	e.Deadline = 10_000_000
	e.Runtime = -1

	rq.armReplenishTimer(e, 20_000_000)

	rq.SwitchedFrom(e)

	if e.ReplenishTimer.Queued() {
		t.Fatalf("expected replenish timer disarmed by switched_from")
	}
}

func TestPrioChangedTogglesBoostedFlag(t *testing.T) {
	rq, _ := newTestRunqueue(0)

	e := NewEntity(1, Params{Runtime: 1, Deadline: 10, Period: 10}, map[int]bool{0: true})
	rq.PrioChanged(e, true)

	if !e.Flags.has(FlagBoosted) {
		t.Fatalf("expected FlagBoosted set")
	}

	rq.PrioChanged(e, false)

	if e.Flags.has(FlagBoosted) {
		t.Fatalf("expected FlagBoosted cleared")
	}
}

func TestRQOnlineOfflineResetOverloaded(t *testing.T) {
	rq, _ := newTestRunqueue(0)

	rq.overloaded = true

	rq.RQOffline()

	if rq.Overloaded() {
		t.Fatalf("expected overloaded cleared by rq_offline")
	}

	rq.RQOnline()

	if rq.Overloaded() {
		t.Fatalf("expected overloaded false on an empty runqueue after rq_online")
	}
}
