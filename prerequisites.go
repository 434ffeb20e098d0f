package tasksched

import (
	"sync"

	"github.com/dstask/tasksched/internal/observer"
)

// PrerequisitesState summarizes a Prerequisites aggregate's upstream
// tasks into one of three values.
type PrerequisitesState int

const (
	PrerequisitesUnfulfilled PrerequisitesState = iota
	PrerequisitesFulfilled
	PrerequisitesUnfulfillable
)

func (s PrerequisitesState) String() string {
	switch s {
	case PrerequisitesUnfulfilled:
		return "Unfulfilled"
	case PrerequisitesFulfilled:
		return "Fulfilled"
	case PrerequisitesUnfulfillable:
		return "Unfulfillable"
	default:
		return "Unknown"
	}
}

type prerequisitesChangeListener func(p *Prerequisites, previous PrerequisitesState)

// Prerequisites is the fixed (once locked) set of upstream tasks a Task
// depends on. It derives a summary PrerequisitesState from the bucket
// counts of a Monitoring instance: Fulfilled once every tracked task is
// Successful (or the set is empty), Unfulfillable as soon as any tracked
// task is Failed or PrerequisiteFailed, Unfulfilled otherwise.
//
// A Prerequisites aggregate may be shared across several tasks (the
// Groups facility does exactly this for a cross-product of dependency
// edges); it is mutable only until the first owning task leaves Creating,
// at which point it is locked and further Add/Remove calls panic with
// ErrLockedAggregate.
type Prerequisites struct {
	mu         sync.Mutex
	monitoring *Monitoring
	state      PrerequisitesState
	locked     bool
	changed    *observer.Observer[prerequisitesChangeListener]
}

// NewPrerequisites constructs a Prerequisites tracking handles. An empty
// prerequisite set is immediately Fulfilled.
func NewPrerequisites(handles ...TaskHandle) *Prerequisites {
	p := &Prerequisites{
		monitoring: NewMonitoring(),
		changed:    observer.New[prerequisitesChangeListener](nil),
	}
	p.monitoring.AddChangeListener(p.onMonitoringChanged)
	for _, h := range handles {
		p.monitoring.Add(h)
	}
	p.recompute()
	return p
}

func (p *Prerequisites) onMonitoringChanged(*Monitoring) {
	p.recompute()
}

func (p *Prerequisites) recompute() {
	total := p.monitoring.Len()
	failed := p.monitoring.Count(StateFailed) + p.monitoring.Count(StatePrerequisiteFailed)
	succeeded := p.monitoring.Count(StateSuccessful)

	var next PrerequisitesState
	switch {
	case failed > 0:
		next = PrerequisitesUnfulfillable
	case total == 0 || succeeded == total:
		next = PrerequisitesFulfilled
	default:
		next = PrerequisitesUnfulfilled
	}

	p.mu.Lock()
	previous := p.state
	if previous == next {
		p.mu.Unlock()
		return
	}
	p.state = next
	p.mu.Unlock()

	p.changed.Notify(func(l prerequisitesChangeListener) { l(p, previous) })
}

// State returns the aggregate's current summary state.
func (p *Prerequisites) State() PrerequisitesState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Len reports the number of tracked prerequisite tasks.
func (p *Prerequisites) Len() int { return p.monitoring.Len() }

// NumFulfilled reports how many tracked prerequisite tasks have succeeded.
func (p *Prerequisites) NumFulfilled() int { return p.monitoring.Count(StateSuccessful) }

// lock marks the aggregate immutable; called by Task.transition the first
// time an owning task leaves Creating. Idempotent.
func (p *Prerequisites) lock() {
	p.mu.Lock()
	p.locked = true
	p.mu.Unlock()
}

// Locked reports whether the aggregate has been locked.
func (p *Prerequisites) Locked() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.locked
}

// AddTask adds h as a prerequisite. Panics with ErrLockedAggregate if the
// aggregate has already been locked.
func (p *Prerequisites) AddTask(h TaskHandle) {
	p.mu.Lock()
	if p.locked {
		p.mu.Unlock()
		panic(ErrLockedAggregate)
	}
	p.mu.Unlock()
	p.monitoring.Add(h)
}

// RemoveTask removes h from the prerequisite set. Panics with
// ErrLockedAggregate if the aggregate has already been locked.
func (p *Prerequisites) RemoveTask(h TaskHandle) bool {
	p.mu.Lock()
	if p.locked {
		p.mu.Unlock()
		panic(ErrLockedAggregate)
	}
	p.mu.Unlock()
	return p.monitoring.Remove(h)
}

func (p *Prerequisites) addStateChangeListener(l prerequisitesChangeListener) {
	p.changed.Add(l)
}

func (p *Prerequisites) removeStateChangeListener(l prerequisitesChangeListener) {
	p.changed.Remove(l)
}
