package tasksched

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestProcessor_SubmitExecutesTask(t *testing.T) {
	p, err := New(context.Background(), WithNumWorkers(2), WithReadyBookTimeout(20*time.Millisecond))
	require.NoError(t, err)
	defer p.Shutdown(time.Second)

	task := NewTask(intTask(7, nil))
	require.NoError(t, p.Submit(context.Background(), task))

	require.True(t, task.WaitForResult(time.Second))
	result, err := task.Result()
	require.NoError(t, err)
	require.Equal(t, 7, result)
}

func TestProcessor_RejectsUnsafeSynchronousSubmission(t *testing.T) {
	p, err := New(context.Background(), WithNumWorkers(1), WithDaemonWorkers(0), WithReadyBookTimeout(10*time.Millisecond))
	require.NoError(t, err)
	defer p.Shutdown(time.Second)

	submitErr := make(chan error, 1)
	blocker := NewTask(Func[int](func(ctx context.Context, _ []any, _ map[string]any) (int, error) {
		inner := NewTask(intTask(1, nil))
		submitErr <- p.Submit(ctx, inner)
		return 1, nil
	}))

	require.NoError(t, p.Submit(context.Background(), blocker))
	require.ErrorIs(t, <-submitErr, ErrUnsafeSubmission)
}

func TestProcessor_SubmitDaemonAllowsSynchronousSubmission(t *testing.T) {
	p, err := New(context.Background(), WithNumWorkers(1), WithDaemonWorkers(1), WithReadyBookTimeout(10*time.Millisecond))
	require.NoError(t, err)
	defer p.Shutdown(time.Second)

	inner := NewTask(intTask(5, nil))
	daemon := NewSubmissionTask(p, func(ctx context.Context, sub Submitter, _ []any, _ map[string]any) (int, error) {
		if err := sub.Submit(ctx, inner); err != nil {
			return 0, err
		}
		return 0, nil
	})

	require.NoError(t, p.SubmitDaemon(daemon))
	require.True(t, daemon.WaitForResult(time.Second))
	_, err = daemon.Result()
	require.NoError(t, err)

	require.True(t, inner.WaitForResult(time.Second))
	result, err := inner.Result()
	require.NoError(t, err)
	require.Equal(t, 5, result)
}

func TestProcessor_SubmitRoutesSubmissionTaskToDaemonBookFromAnywhere(t *testing.T) {
	p, err := New(context.Background(), WithNumWorkers(1), WithDaemonWorkers(1), WithReadyBookTimeout(10*time.Millisecond))
	require.NoError(t, err)
	defer p.Shutdown(time.Second)

	inner := NewTask(intTask(9, nil))
	var nested *Task[int]
	nested = NewSubmissionTask(p, func(ctx context.Context, sub Submitter, _ []any, _ map[string]any) (int, error) {
		return 0, sub.Submit(ctx, inner)
	})

	// A submission task submitted synchronously via the ordinary Submit
	// entry point, from inside a running main-pool worker, must still
	// succeed: Processor.Submit routes by the task's own kind, not by
	// which method the caller invoked, so the safe-submission check never
	// applies to it (spec §4.7's "permitted from anywhere" exception).
	outer := NewTask(Func[int](func(ctx context.Context, _ []any, _ map[string]any) (int, error) {
		return 0, p.Submit(ctx, nested)
	}))

	require.NoError(t, p.Submit(context.Background(), outer))
	require.True(t, outer.WaitForResult(time.Second))
	_, err = outer.Result()
	require.NoError(t, err)

	require.True(t, nested.WaitForResult(time.Second))
	_, err = nested.Result()
	require.NoError(t, err)

	require.True(t, inner.WaitForResult(time.Second))
	result, err := inner.Result()
	require.NoError(t, err)
	require.Equal(t, 9, result)
}

func TestProcessor_SubmitAcceptsBatchOfHandles(t *testing.T) {
	p, err := New(context.Background(), WithNumWorkers(2), WithReadyBookTimeout(10*time.Millisecond))
	require.NoError(t, err)
	defer p.Shutdown(time.Second)

	a := NewTask(intTask(1, nil))
	b := NewTask(intTask(2, nil))
	require.NoError(t, p.Submit(context.Background(), a, b))

	require.True(t, p.WaitAllDetermined([]TaskHandle{a, b}, time.Second))
	ra, err := a.Result()
	require.NoError(t, err)
	require.Equal(t, 1, ra)
	rb, err := b.Result()
	require.NoError(t, err)
	require.Equal(t, 2, rb)
}

func TestProcessor_SetNumWorkersGrowsAndShrinks(t *testing.T) {
	p, err := New(context.Background(), WithNumWorkers(1), WithReadyBookTimeout(10*time.Millisecond))
	require.NoError(t, err)
	defer p.Shutdown(time.Second)

	require.NoError(t, p.SetNumWorkers(3))
	require.Equal(t, 3, p.NumWorkers())

	p.mu.Lock()
	removed := p.workers[2]
	p.mu.Unlock()

	require.NoError(t, p.SetNumWorkers(1))
	require.Equal(t, 1, p.NumWorkers())

	require.Equal(t, WorkerTerminate, removed.State(), "a shrunk-away worker settles permanently, not in the restartable Stopped")
}

func TestProcessor_WaitAllDeterminedAggregatesMultipleTasks(t *testing.T) {
	p, err := New(context.Background(), WithNumWorkers(2), WithReadyBookTimeout(10*time.Millisecond))
	require.NoError(t, err)
	defer p.Shutdown(time.Second)

	a := NewTask(intTask(1, nil))
	b := NewTask(intTask(2, nil))
	require.NoError(t, p.Submit(context.Background(), a))
	require.NoError(t, p.Submit(context.Background(), b))

	require.True(t, p.WaitAllDetermined([]TaskHandle{a, b}, time.Second))
}
