package tasksched

import (
	"sync"

	"github.com/dstask/tasksched/internal/observer"
)

// MonitoringListener is notified whenever a tracked task's bucket
// membership changes (its observed TaskState moved from one bucket to
// another, or it was added/removed). It receives the Monitoring instance
// so a listener can read fresh counts without any argument carrying stale
// data.
type MonitoringListener func(m *Monitoring)

// Monitoring is a bucketed multiset of tasks, keyed by TaskState. It is
// the shared building block behind Prerequisites (a fixed set of upstream
// tasks, summarized into a PrerequisitesState) and Barrier (a blocking
// wait over the same bucket counts). Monitoring itself is count-only: it
// does not store task results, only how many tracked tasks currently sit
// in each state.
//
// Monitoring subscribes one internal listener per tracked task (via
// TaskHandle.addStateListener) and relocates that task's bucket membership
// whenever the task's own state changes. Because Task.transition already
// notifies its state listeners outside of Task's own lock, Monitoring's
// listener only ever needs to hold Monitoring.mu — never nested inside a
// Task's lock — which is how this package substitutes for Go's lack of a
// re-entrant mutex (see DESIGN.md).
type Monitoring struct {
	mu      sync.Mutex
	bucket  map[TaskHandle]TaskState
	counts  map[TaskState]int
	changed *observer.Observer[MonitoringListener]

	// stateListener is a single bound method value, captured once at
	// construction, so Add and Remove always pass the exact same func
	// value to a tracked task's addStateListener/removeStateListener —
	// re-evaluating "m.onTaskStateChanged" at each call site would
	// allocate a fresh closure each time and break listener identity.
	stateListener taskStateListener
}

// NewMonitoring constructs an empty Monitoring.
func NewMonitoring() *Monitoring {
	m := &Monitoring{
		bucket:  make(map[TaskHandle]TaskState),
		counts:  make(map[TaskState]int),
		changed: observer.New[MonitoringListener](nil),
	}
	m.stateListener = m.onTaskStateChanged
	return m
}

// Add starts tracking h, placing it in its current state's bucket. Adding
// an already-tracked handle is a no-op.
func (m *Monitoring) Add(h TaskHandle) {
	m.mu.Lock()
	if _, ok := m.bucket[h]; ok {
		m.mu.Unlock()
		return
	}
	state := h.State()
	m.bucket[h] = state
	m.counts[state]++
	m.mu.Unlock()

	h.addStateListener(m.stateListener)
	m.notify()
}

// Remove stops tracking h. It reports whether h was tracked.
func (m *Monitoring) Remove(h TaskHandle) bool {
	m.mu.Lock()
	state, ok := m.bucket[h]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.bucket, h)
	m.counts[state]--
	m.mu.Unlock()

	h.removeStateListener(m.stateListener)
	m.notify()
	return true
}

func (m *Monitoring) onTaskStateChanged(h TaskHandle, _ TaskState) {
	m.mu.Lock()
	old, tracked := m.bucket[h]
	if !tracked {
		m.mu.Unlock()
		return
	}
	now := h.State()
	if now == old {
		m.mu.Unlock()
		return
	}
	m.bucket[h] = now
	m.counts[old]--
	m.counts[now]++
	m.mu.Unlock()

	m.notify()
}

func (m *Monitoring) notify() {
	m.changed.Notify(func(l MonitoringListener) { l(m) })
}

// Count reports how many tracked tasks currently sit in state s.
func (m *Monitoring) Count(s TaskState) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[s]
}

// Len reports the total number of tracked tasks.
func (m *Monitoring) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bucket)
}

// Snapshot returns a copy of the currently tracked handles.
func (m *Monitoring) Snapshot() []TaskHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TaskHandle, 0, len(m.bucket))
	for h := range m.bucket {
		out = append(out, h)
	}
	return out
}

// AddChangeListener registers l to run after any bucket relocation.
func (m *Monitoring) AddChangeListener(l MonitoringListener) {
	m.changed.Add(l)
}

// RemoveChangeListener deregisters l.
func (m *Monitoring) RemoveChangeListener(l MonitoringListener) {
	m.changed.Remove(l)
}

// CountTerminal reports how many tracked tasks are in a terminal state.
func (m *Monitoring) CountTerminal() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[StateSuccessful] + m.counts[StateFailed] + m.counts[StatePrerequisiteFailed]
}

// CountFailed reports how many tracked tasks failed, directly or via a
// failed prerequisite.
func (m *Monitoring) CountFailed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[StateFailed] + m.counts[StatePrerequisiteFailed]
}
