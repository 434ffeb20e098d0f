package tasksched

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dstask/tasksched/internal/condutil"
	"github.com/dstask/tasksched/metrics"
)

// ReadyBook is the concurrent, priority-ordered queue of tasks awaiting a
// worker. It holds two internal priority queues: ready (tasks whose
// prerequisites are fulfilled, or had none) and waiting (tasks whose
// prerequisites are not yet determined). A task moves from waiting to
// ready automatically, via the prerequisites-change listener installed in
// insert, the moment its Prerequisites aggregate reports Fulfilled; it is
// pulled out of waiting without ever reaching ready if the aggregate
// reports Unfulfillable instead.
//
// ReadyBook owns every pre-Running state transition (Creating ->
// PrerequisitesUnfulfilled/Executable/PrerequisiteFailed); Workers own
// Running and the two terminal transitions. This split is what lets both
// sides operate without a shared transition-level lock (see DESIGN.md).
type ReadyBook struct {
	mu      sync.Mutex
	ready   *priorityQueue
	waiting *priorityQueue
	nextSeq uint64
	signal  *condutil.Signal

	readyDepth metrics.UpDownCounter
	submitted  metrics.Counter
	logger     zerolog.Logger

	// prereqListener is a single bound method value, captured once, so
	// that addPrerequisitesListener and removePrerequisitesListener always
	// pass the exact same func value — re-evaluating "b.onPrerequisitesChanged"
	// at each call site would allocate a fresh closure each time and break
	// the listener-identity contract (see task.go's listenerKey).
	prereqListener taskPrereqListener
}

// NewReadyBook constructs an empty ReadyBook. provider may be nil, in
// which case metrics are discarded.
func NewReadyBook(provider metrics.Provider, logger zerolog.Logger) *ReadyBook {
	if provider == nil {
		provider = metrics.NewNoopProvider()
	}
	b := &ReadyBook{
		ready:      newPriorityQueue(),
		waiting:    newPriorityQueue(),
		signal:     condutil.NewSignal(),
		readyDepth: provider.UpDownCounter(metrics.ReadyQueueDepth, metrics.WithDescription("tasks currently in the ready queue"), metrics.WithUnit("1")),
		submitted:  provider.Counter(metrics.TasksSubmittedTotal, metrics.WithDescription("tasks submitted to the ready book"), metrics.WithUnit("1")),
		logger:     logger,
	}
	b.prereqListener = b.onPrerequisitesChanged
	return b
}

// Insert submits h: it must be in the Creating state. Insert assigns h's
// FIFO tie-break sequence, detects prerequisite cycles (returning
// ErrCyclicPrerequisites), and transitions h to Executable, waiting, or
// immediately PrerequisiteFailed depending on its Prerequisites aggregate.
func (b *ReadyBook) Insert(h TaskHandle) error {
	if h.State() != StateCreating {
		return ErrIllegalSubmission
	}

	if detectPrerequisiteCycle(h) {
		return ErrCyclicPrerequisites
	}

	prereqs := h.prerequisitesHandle()

	b.mu.Lock()
	h.setSequence(b.nextSeq)
	b.nextSeq++
	b.mu.Unlock()

	var state PrerequisitesState = PrerequisitesFulfilled
	if prereqs != nil {
		state = prereqs.State()
	}

	switch state {
	case PrerequisitesFulfilled:
		if err := h.transition(StateExecutable); err != nil {
			return err
		}
		b.pushReady(h)
	case PrerequisitesUnfulfillable:
		if err := h.transition(StatePrerequisiteFailed); err != nil {
			return err
		}
	default:
		if err := h.transition(StatePrerequisitesUnfulfilled); err != nil {
			return err
		}
		b.mu.Lock()
		b.waiting.push(h)
		b.mu.Unlock()
		h.addPrerequisitesListener(b.prereqListener)
	}

	b.submitted.Add(1)
	return nil
}

func (b *ReadyBook) onPrerequisitesChanged(h TaskHandle, _ PrerequisitesState) {
	if h.State() != StatePrerequisitesUnfulfilled {
		return
	}
	prereqs := h.prerequisitesHandle()
	if prereqs == nil {
		return
	}

	switch prereqs.State() {
	case PrerequisitesFulfilled:
		b.mu.Lock()
		b.waiting.remove(h)
		b.mu.Unlock()
		h.removePrerequisitesListener(b.prereqListener)
		if err := h.transition(StateExecutable); err == nil {
			b.pushReady(h)
		}
	case PrerequisitesUnfulfillable:
		b.mu.Lock()
		b.waiting.remove(h)
		b.mu.Unlock()
		h.removePrerequisitesListener(b.prereqListener)
		_ = h.transition(StatePrerequisiteFailed)
	default:
		// still unfulfilled, nothing to do
	}
}

func (b *ReadyBook) pushReady(h TaskHandle) {
	b.mu.Lock()
	b.ready.push(h)
	b.mu.Unlock()

	b.readyDepth.Add(1)
	b.signal.Notify()
}

// Pop blocks until a task is ready or timeout elapses (timeout <= 0 waits
// forever), and returns the highest-priority ready task, or nil on
// timeout. The returned task is still Executable; the caller (a Worker) is
// responsible for transitioning it to Running.
func (b *ReadyBook) Pop(timeout time.Duration) TaskHandle {
	var popped TaskHandle
	condutil.WaitFor(
		b.signal,
		func() {}, func() {},
		func() bool {
			b.mu.Lock()
			defer b.mu.Unlock()
			if b.ready.len() == 0 {
				return false
			}
			popped = b.ready.pop()
			return true
		},
		timeout,
	)
	if popped != nil {
		b.readyDepth.Add(-1)
	}
	return popped
}

// ReadyLen reports how many tasks are currently ready to run.
func (b *ReadyBook) ReadyLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready.len()
}

// WaitingLen reports how many tasks are currently waiting on
// prerequisites.
func (b *ReadyBook) WaitingLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.waiting.len()
}

// detectPrerequisiteCycle runs a DFS over the prerequisite graph reachable
// from root, returning true if root is reachable from one of its own
// (possibly transitive) prerequisites.
func detectPrerequisiteCycle(root TaskHandle) bool {
	visiting := map[TaskHandle]bool{}
	visited := map[TaskHandle]bool{}

	var dfs func(h TaskHandle) bool
	dfs = func(h TaskHandle) bool {
		if visiting[h] {
			return true
		}
		if visited[h] {
			return false
		}
		visiting[h] = true

		if prereqs := h.prerequisitesHandle(); prereqs != nil {
			for _, p := range prereqs.monitoring.Snapshot() {
				if dfs(p) {
					return true
				}
			}
		}

		visiting[h] = false
		visited[h] = true
		return false
	}

	return dfs(root)
}
