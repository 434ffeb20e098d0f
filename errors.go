package tasksched

import "errors"

// Namespace prefixes every sentinel error message in this package, so that
// log lines and wrapped errors are easy to grep for regardless of which
// kind fired.
const Namespace = "tasksched"

// Error kinds surfaced to callers. Each is a sentinel; call sites recover
// the kind with errors.Is and the chained cause (where one exists) with
// errors.Unwrap / errors.As.
var (
	// ErrTaskExecution is returned by Task.Result when the task is Failed.
	// It chains the original failingCause as its wrapped error.
	ErrTaskExecution = errors.New(Namespace + ": task execution failed")

	// ErrTaskPrerequisite is returned by Task.Result when the task is
	// PrerequisiteFailed; the task's callable was never invoked.
	ErrTaskPrerequisite = errors.New(Namespace + ": a prerequisite task failed")

	// ErrNotFinished is returned by Task.Result when the task has not yet
	// entered a terminal state.
	ErrNotFinished = errors.New(Namespace + ": task execution has not finished")

	// ErrIllegalTransition is returned when a state transition is
	// attempted from a state the machine in §4.2 forbids.
	ErrIllegalTransition = errors.New(Namespace + ": illegal task state transition")

	// ErrIllegalSubmission is returned when a task whose state is not
	// Creating is submitted to a Ready Book.
	ErrIllegalSubmission = errors.New(Namespace + ": cannot submit a task that has already been submitted")

	// ErrLockedAggregate is returned when a Prerequisites aggregate is
	// mutated after its owning task has left Creating.
	ErrLockedAggregate = errors.New(Namespace + ": prerequisites aggregate is locked")

	// ErrUnsafeSubmission is returned when a non-submission task is
	// submitted synchronously from a goroutine that is one of the main
	// workers currently executing a task.
	ErrUnsafeSubmission = errors.New(Namespace + ": cannot synchronously submit a task from a running worker")

	// ErrMissingArgument is returned when a required constructor field is
	// omitted.
	ErrMissingArgument = errors.New(Namespace + ": required argument missing")

	// ErrCyclicPrerequisites is returned when inserting a task into a
	// Ready Book would introduce a cycle in the prerequisite graph:
	// detected at submission time rather than left to deadlock every task
	// in the cycle forever.
	ErrCyclicPrerequisites = errors.New(Namespace + ": prerequisite graph contains a cycle")
)

// TaskError wraps ErrTaskExecution or ErrTaskPrerequisite with a reference
// to the originating task.
type TaskError[R any] struct {
	kind  error
	task  *Task[R]
	cause error
}

func (e *TaskError[R]) Error() string {
	if e.cause != nil {
		return e.kind.Error() + ": " + e.cause.Error()
	}
	return e.kind.Error()
}

// Unwrap exposes both the sentinel kind and the chained cause to
// errors.Is / errors.As.
func (e *TaskError[R]) Unwrap() []error {
	if e.cause != nil {
		return []error{e.kind, e.cause}
	}
	return []error{e.kind}
}

// Task returns the task that produced this error.
func (e *TaskError[R]) Task() *Task[R] { return e.task }

func newTaskExecutionError[R any](task *Task[R], cause error) error {
	return &TaskError[R]{kind: ErrTaskExecution, task: task, cause: cause}
}

func newTaskPrerequisiteError[R any](task *Task[R]) error {
	return &TaskError[R]{kind: ErrTaskPrerequisite, task: task}
}
