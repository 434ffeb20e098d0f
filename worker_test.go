package tasksched

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestWorker_RunExecutesPoppedTaskThenBlocksAgain(t *testing.T) {
	book := NewReadyBook(nil, zerolog.Nop())
	w := NewWorker(0, book, 20*time.Millisecond, false, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)

	task := NewTask(intTask(99, nil))
	require.NoError(t, book.Insert(task))

	require.Eventually(t, func() bool { return task.IsDetermined() }, time.Second, time.Millisecond)
	result, err := task.Result()
	require.NoError(t, err)
	require.Equal(t, 99, result)

	cancel()
	<-w.Done()
	require.Equal(t, WorkerTerminate, w.State(), "ctx cancellation is a permanent exit, not a restartable Stop")
}

func TestWorker_StopIsGraceful(t *testing.T) {
	book := NewReadyBook(nil, zerolog.Nop())
	w := NewWorker(1, book, 10*time.Millisecond, false, nil, zerolog.Nop())

	go w.Run(context.Background())
	w.Stop()

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("worker did not stop in time")
	}
	require.Equal(t, WorkerStopped, w.State())
}

func TestWorker_RestartOnlyLegalFromStopped(t *testing.T) {
	book := NewReadyBook(nil, zerolog.Nop())
	w := NewWorker(2, book, 10*time.Millisecond, false, nil, zerolog.Nop())

	require.ErrorIs(t, w.Restart(), ErrIllegalTransition)

	go w.Run(context.Background())
	w.Stop()
	<-w.Done()

	require.NoError(t, w.Restart())
	require.Equal(t, WorkerCreated, w.State())
}

func TestWorker_TerminateSettlesPermanentlyAndForbidsRestart(t *testing.T) {
	book := NewReadyBook(nil, zerolog.Nop())
	w := NewWorker(4, book, 10*time.Millisecond, false, nil, zerolog.Nop())

	go w.Run(context.Background())
	w.Terminate()
	<-w.Done()

	require.Equal(t, WorkerTerminate, w.State())
	require.ErrorIs(t, w.Restart(), ErrIllegalTransition, "a terminated worker can never Restart")
}

func TestWorker_CurrentTaskReflectsInFlightExecution(t *testing.T) {
	book := NewReadyBook(nil, zerolog.Nop())
	started := make(chan struct{})
	release := make(chan struct{})

	blocking := NewTask(Func[int](func(context.Context, []any, map[string]any) (int, error) {
		close(started)
		<-release
		return 1, nil
	}))
	require.NoError(t, book.Insert(blocking))

	w := NewWorker(3, book, 10*time.Millisecond, false, nil, zerolog.Nop())
	go w.Run(context.Background())

	<-started
	require.Same(t, TaskHandle(blocking), w.CurrentTask())
	close(release)

	require.Eventually(t, func() bool { return w.CurrentTask() == nil }, time.Second, time.Millisecond)
}
