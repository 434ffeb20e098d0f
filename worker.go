package tasksched

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/dstask/tasksched/metrics"
)

type workerMarkerKeyType struct{}

// workerMarkerKey is the context key a Worker attaches to the context it
// passes into a task's callable, so Processor.Submit can recognize a
// synchronous call made from within a running task (see
// Processor.Submit's safe-submission check).
var workerMarkerKey = workerMarkerKeyType{}

// workerMarker is the value stored under workerMarkerKey.
type workerMarker struct {
	daemon bool
}

// WorkerState is one of the lifecycle states a Worker occupies,
// independent of any task it happens to be running.
type WorkerState int

const (
	WorkerCreated WorkerState = iota
	WorkerWaiting
	WorkerProcessing
	WorkerStopping
	WorkerStopped
	WorkerRestarting
	// WorkerTerminate is the permanent counterpart to WorkerStopped: a
	// worker settles here instead of WorkerStopped when it was asked to
	// Terminate rather than merely Stop. Unlike WorkerStopped, it is not a
	// legal source state for Restart, and the worker releases its
	// reference to the book on the way in (spec §4.6: "Terminate is a
	// final state; the worker releases its reference to the book").
	WorkerTerminate
)

func (s WorkerState) String() string {
	switch s {
	case WorkerCreated:
		return "Created"
	case WorkerWaiting:
		return "Waiting"
	case WorkerProcessing:
		return "Processing"
	case WorkerStopping:
		return "Stopping"
	case WorkerStopped:
		return "Stopped"
	case WorkerRestarting:
		return "Restarting"
	case WorkerTerminate:
		return "Terminate"
	default:
		return "Unknown"
	}
}

// Worker repeatedly pops a task from its ReadyBook, transitions it to
// Running, executes its callable, and loops. A Worker's lifecycle is
// independent of the tasks it runs: Stop requests a graceful exit after
// the current pop/execute cycle, settling in WorkerStopped, from which
// Restart is legal; Terminate requests the same graceful exit but settles
// permanently in WorkerTerminate instead, releasing the worker's reference
// to its book.
type Worker struct {
	id      int
	book    *ReadyBook
	timeout time.Duration
	logger  zerolog.Logger
	daemon  bool

	state     atomic.Int32
	current   atomic.Pointer[TaskHandle]
	stop      chan struct{}
	stopped   chan struct{}
	terminate atomic.Bool

	executed  metrics.Counter
	succeeded metrics.Counter
	failed    metrics.Counter
	waitTime  metrics.Histogram
	runTime   metrics.Histogram
}

// NewWorker constructs a Worker with the given pool-unique id, bound to
// book. It does not start running until Run is called (typically from its
// own goroutine, by Processor).
func NewWorker(id int, book *ReadyBook, popTimeout time.Duration, daemon bool, provider metrics.Provider, logger zerolog.Logger) *Worker {
	if provider == nil {
		provider = metrics.NewNoopProvider()
	}
	w := &Worker{
		id:        id,
		book:      book,
		timeout:   popTimeout,
		logger:    logger,
		daemon:    daemon,
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
		executed:  provider.Counter(metrics.TasksExecutedTotal, metrics.WithUnit("1")),
		succeeded: provider.Counter(metrics.TasksSucceededTotal, metrics.WithUnit("1")),
		failed:    provider.Counter(metrics.TasksFailedTotal, metrics.WithUnit("1")),
		waitTime:  provider.Histogram(metrics.TaskWaitSeconds, metrics.WithUnit("s")),
		runTime:   provider.Histogram(metrics.TaskRunSeconds, metrics.WithUnit("s")),
	}
	w.state.Store(int32(WorkerCreated))
	return w
}

// ID returns the worker's pool-unique identifier.
func (w *Worker) ID() int { return w.id }

// State returns the worker's current lifecycle state.
func (w *Worker) State() WorkerState { return WorkerState(w.state.Load()) }

func (w *Worker) setState(s WorkerState) {
	w.state.Store(int32(s))
	w.logger.Debug().Int("worker", w.id).Str("state", s.String()).Msg("tasksched: worker state changed")
}

// CurrentTask returns the task this worker is presently executing, or nil
// if it is idle. Processor's safe-submission check does not use it; that
// check reads the workerMarker the worker puts on the callable's context.
func (w *Worker) CurrentTask() TaskHandle {
	p := w.current.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Run executes the worker's pop-execute loop until ctx is cancelled or
// Stop/Terminate is called. It always ends by transitioning through
// Stopping to either Stopped (Stop, or a not-yet-terminated worker whose
// current task just finished) or the permanent Terminate (Terminate, or
// ctx cancellation — a cancelled ctx is never reused, so there is nothing
// to Restart back into). Run is safe to invoke again (e.g. after Restart)
// once it has returned into WorkerStopped.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.stopped)

	for {
		select {
		case <-ctx.Done():
			w.finish(true)
			return
		case <-w.stop:
			w.finish(w.terminate.Load())
			return
		default:
		}

		w.setState(WorkerWaiting)
		waitStart := time.Now()
		h := w.book.Pop(w.timeout)
		if h == nil {
			continue
		}
		w.waitTime.Record(time.Since(waitStart).Seconds())

		w.current.Store(&h)
		w.setState(WorkerProcessing)

		if err := h.transition(StateRunning); err != nil {
			w.logger.Warn().Int("worker", w.id).Err(err).Msg("tasksched: could not start popped task")
			w.current.Store(nil)
			continue
		}

		execCtx := context.WithValue(ctx, workerMarkerKey, &workerMarker{daemon: w.daemon})

		runStart := time.Now()
		h.execute(execCtx)
		w.runTime.Record(time.Since(runStart).Seconds())

		w.executed.Add(1)
		if h.State() == StateSuccessful {
			w.succeeded.Add(1)
		} else {
			w.failed.Add(1)
		}

		w.current.Store(nil)
	}
}

// finish transitions the worker through Stopping to its final rest state:
// Terminate (releasing the book reference) if permanent is true, otherwise
// the restartable Stopped.
func (w *Worker) finish(permanent bool) {
	w.setState(WorkerStopping)
	if permanent {
		w.book = nil
		w.setState(WorkerTerminate)
		return
	}
	w.setState(WorkerStopped)
}

// Stop requests a graceful exit into WorkerStopped; it does not block for
// the worker's current task to finish. Call Done to wait for the worker to
// actually stop. A worker stopped this way may later Restart.
func (w *Worker) Stop() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
}

// Terminate requests a graceful exit into the permanent WorkerTerminate
// state: once Run returns, the worker releases its reference to the book
// and can never Restart. Safe to call before or after Stop; whichever
// requests the exit, Terminate having been called at all is what decides
// the worker lands in Terminate rather than Stopped.
func (w *Worker) Terminate() {
	w.terminate.Store(true)
	w.Stop()
}

// Done returns a channel closed once Run has returned.
func (w *Worker) Done() <-chan struct{} { return w.stopped }

// Restart clears a Stopped worker back to Created, ready for Run to be
// called again. It is illegal to Restart a worker that has not reached
// Stopped.
func (w *Worker) Restart() error {
	if w.State() != WorkerStopped {
		return ErrIllegalTransition
	}
	w.setState(WorkerRestarting)
	w.stop = make(chan struct{})
	w.stopped = make(chan struct{})
	w.setState(WorkerCreated)
	return nil
}
