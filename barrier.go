package tasksched

import (
	"time"

	"github.com/dstask/tasksched/internal/condutil"
)

// Barrier extends Monitoring with blocking predicate waits: a goroutine
// can block until a condition over the tracked tasks' bucket counts holds,
// or until a timeout elapses, without polling. It backs
// Processor.WaitAllDetermined and is also what a temporary, one-shot
// Monitoring-over-a-submission-batch uses internally.
type Barrier struct {
	*Monitoring
	signal *condutil.Signal
}

// NewBarrier constructs an empty Barrier.
func NewBarrier() *Barrier {
	b := &Barrier{
		Monitoring: NewMonitoring(),
		signal:     condutil.NewSignal(),
	}
	b.AddChangeListener(func(*Monitoring) { b.signal.Notify() })
	return b
}

// Wait blocks until predicate(b) holds or timeout elapses (timeout <= 0
// waits forever). It returns whether predicate held when Wait returned.
func (b *Barrier) Wait(predicate func(*Barrier) bool, timeout time.Duration) bool {
	return condutil.WaitFor(
		b.signal,
		func() {}, func() {},
		func() bool { return predicate(b) },
		timeout,
	)
}

// WaitAllSubmitted blocks until no tracked task is still Creating (or
// there are none tracked).
func (b *Barrier) WaitAllSubmitted(timeout time.Duration) bool {
	return b.Wait(func(b *Barrier) bool { return b.Count(StateCreating) == 0 }, timeout)
}

// WaitAllDetermined blocks until every tracked task has reached a
// terminal state (or there are none tracked).
func (b *Barrier) WaitAllDetermined(timeout time.Duration) bool {
	return b.Wait(func(b *Barrier) bool { return b.CountTerminal() == b.Len() }, timeout)
}

// WaitAllSuccessful blocks until every tracked task has reached a
// terminal state, then reports whether all of them succeeded.
func (b *Barrier) WaitAllSuccessful(timeout time.Duration) bool {
	if !b.WaitAllDetermined(timeout) {
		return false
	}
	return b.CountFailed() == 0
}
