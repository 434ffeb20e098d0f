package tasksched

import "context"

// Submitter is the subset of Processor a submission task needs: the
// ability to enqueue further tasks, singly or as a batch. It exists so
// submission.go does not import processor.go's full surface, and so tests
// can fake it.
type Submitter interface {
	Submit(ctx context.Context, handles ...TaskHandle) error
	SubmitDaemon(handles ...TaskHandle) error
}

// NewSubmissionTask builds a Task[R] whose callable is free to
// synchronously submit further tasks to p via Submit. Per spec §4.7, a
// submission task is routed to a Processor's daemon book and exempted from
// the safe-submission check regardless of which goroutine calls Submit —
// Processor.Submit recognizes it by kind (TaskHandle.isSubmissionKind),
// set here, not by which method the caller happened to invoke. Daemon
// workers exist precisely so that a task which itself submits work never
// blocks on a main-pool worker slot that a synchronous Submit elsewhere is
// waiting to free; routing a non-submission task synchronously from
// inside a running main worker is exactly the deadlock
// Processor.Submit's safe-submission check rejects (ErrUnsafeSubmission).
func NewSubmissionTask[R any](p Submitter, fn func(ctx context.Context, p Submitter, args []any, kwargs map[string]any) (R, error), opts ...TaskOption[R]) *Task[R] {
	wrapped := func(ctx context.Context, args []any, kwargs map[string]any) (R, error) {
		return fn(ctx, p, args, kwargs)
	}
	t := NewTask(wrapped, opts...)
	t.submissionKind = true
	return t
}
