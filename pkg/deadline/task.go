package deadline

import "dlsched/pkg/pelt"

// Task pairs a deadline entity with its own PELT tracking block (§3:
// "Task/Entity -> deadline.Entity (embedded in deadline.Task)"). Runqueue
// and the rest of this package operate on the embedded *Entity directly;
// Task exists for callers (pkg/adapt's simulation driver) that need to
// advance a task's util_avg/load_avg alongside its deadline accounting.
type Task struct {
	*Entity

	PELT pelt.Signal

	// Weight is the entity's scheduling weight, fed to PELT's load_avg
	// computation (§4.4's TaskInputs).
	Weight uint32
}

// NewTask constructs a Task wrapping a freshly-built Entity.
func NewTask(id TaskID, p Params, allowed map[int]bool, weight uint32) *Task {
	return &Task{Entity: NewEntity(id, p, allowed), Weight: weight}
}
