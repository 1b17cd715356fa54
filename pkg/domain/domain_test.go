package domain

import (
	"errors"
	"testing"
)

func TestScenario1AdmissionAcceptThenReject(t *testing.T) {
	d := NewDomain([]CPUInfo{{ID: 0, Capacity: CapacityScale, Online: true}})

	// T1(runtime=5ms, period=10ms): bw = 1<<20 / 2 = 1<<19.
	t1BW := int64(1) << 19

	if err := d.ReserveBW(t1BW); err != nil {
		t.Fatalf("ReserveBW(t1) = %v, want nil", err)
	}

	if d.TotalBW() != t1BW {
		t.Fatalf("TotalBW() = %d, want %d", d.TotalBW(), t1BW)
	}

	// T2(runtime=6ms, period=10ms): bw = 6*(1<<20)/10, which pushes the sum
	// over capacity (1<<20).
	t2BW := (int64(6) << 20) / 10

	err := d.ReserveBW(t2BW)
	if !errors.Is(err, ErrWouldExceedCapacity) {
		t.Fatalf("ReserveBW(t2) = %v, want ErrWouldExceedCapacity", err)
	}

	if d.TotalBW() != t1BW {
		t.Fatalf("TotalBW() = %d after rejected reservation, want unchanged %d", d.TotalBW(), t1BW)
	}
}

func TestReleaseBWReturnsCapacity(t *testing.T) {
	d := NewDomain([]CPUInfo{{ID: 0, Capacity: CapacityScale, Online: true}})

	bw := int64(1) << 19

	if err := d.ReserveBW(bw); err != nil {
		t.Fatalf("ReserveBW() = %v, want nil", err)
	}

	d.ReleaseBW(bw)

	if d.TotalBW() != 0 {
		t.Fatalf("TotalBW() = %d, want 0 after release", d.TotalBW())
	}
}

func TestRebuildRecomputesCapacityAndBumpsGeneration(t *testing.T) {
	d := NewDomain([]CPUInfo{{ID: 0, Capacity: CapacityScale, Online: true}})

	before := d.Generation()

	d.Rebuild([]CPUInfo{
		{ID: 0, Capacity: CapacityScale, Online: true},
		{ID: 1, Capacity: CapacityScale, Online: true},
	})

	if d.Generation() != before+1 {
		t.Fatalf("Generation() = %d, want %d", d.Generation(), before+1)
	}

	if d.Capacity() != 2<<20 {
		t.Fatalf("Capacity() = %d, want %d", d.Capacity(), 2<<20)
	}
}

func TestMembersSortedAscending(t *testing.T) {
	d := NewDomain([]CPUInfo{{ID: 3}, {ID: 1}, {ID: 2}})

	got := d.Members()
	want := []int{1, 2, 3}

	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Members() = %v, want %v", got, want)
		}
	}
}
