package tasksched

import "fmt"

// Groups declares cross-product prerequisite edges between named groups
// of tasks: every task in a downstream group depends on every task in the
// upstream group it DependsOn, letting a caller wire a whole group's worth
// of dependencies without writing the cross product by hand.
//
// Groups is a convenience on top of Prerequisites/WithPrerequisites: it
// does not change how a Task behaves once constructed, it only saves the
// caller from writing the cross product by hand.
type Groups struct {
	members map[any][]TaskHandle
}

// NewGroups constructs an empty Groups.
func NewGroups() *Groups {
	return &Groups{members: make(map[any][]TaskHandle)}
}

// Set records tasks as the membership of group id, replacing any prior
// membership. Call this before DependOn references id.
func Set[R any](g *Groups, id any, tasks []*Task[R]) {
	handles := make([]TaskHandle, len(tasks))
	for i, t := range tasks {
		handles[i] = t
	}
	g.members[id] = handles
}

// DependOn adds, for every task in the downstream group, a prerequisite
// edge on every task in the upstream group. Both groups must already have
// been registered with Set, and every downstream task must still be in
// the Creating state (SetPrerequisites / attaching a Prerequisites
// aggregate is only legal before a task is submitted).
func (g *Groups) DependOn(downstream, upstream any) error {
	down, ok := g.members[downstream]
	if !ok {
		return fmt.Errorf("tasksched: unknown group %v", downstream)
	}
	up, ok := g.members[upstream]
	if !ok {
		return fmt.Errorf("tasksched: unknown group %v", upstream)
	}

	for _, d := range down {
		if d.State() != StateCreating {
			return fmt.Errorf("%w: task in group %v is no longer Creating", ErrLockedAggregate, downstream)
		}
	}

	for _, d := range down {
		prereqs := d.prerequisitesHandle()
		if prereqs == nil {
			prereqs = NewPrerequisites()
			d.attachPrerequisites(prereqs)
		}
		for _, u := range up {
			prereqs.AddTask(u)
		}
	}
	return nil
}

// SetStateChangeLogging toggles state-change debug logging (see
// (*Task[R]).SetStateChangeLogging) across every task currently registered
// as a member of group id, grounded on
// TaskGroupCollection.set_print_state_change_for_group in
// original_source/rkit/multitasking/multitasking.py.
func (g *Groups) SetStateChangeLogging(id any, enabled bool) error {
	members, ok := g.members[id]
	if !ok {
		return fmt.Errorf("tasksched: unknown group %v", id)
	}
	for _, h := range members {
		h.setStateChangeLogging(enabled)
	}
	return nil
}
