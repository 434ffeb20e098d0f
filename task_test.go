package tasksched

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func intTask(result int, err error) Func[int] {
	return func(_ context.Context, _ []any, _ map[string]any) (int, error) {
		return result, err
	}
}

func TestTask_LegalTransitions(t *testing.T) {
	tests := []struct {
		name string
		from TaskState
		to   TaskState
		want bool
	}{
		{"Creating to PrerequisitesUnfulfilled", StateCreating, StatePrerequisitesUnfulfilled, true},
		{"Creating to Executable", StateCreating, StateExecutable, true},
		{"Creating to PrerequisiteFailed", StateCreating, StatePrerequisiteFailed, true},
		{"PrerequisitesUnfulfilled to Executable", StatePrerequisitesUnfulfilled, StateExecutable, true},
		{"Executable to Running", StateExecutable, StateRunning, true},
		{"Running to Successful", StateRunning, StateSuccessful, true},
		{"Running to Failed", StateRunning, StateFailed, true},
		{"Successful to anything", StateSuccessful, StateRunning, false},
		{"Executable to PrerequisitesUnfulfilled", StateExecutable, StatePrerequisitesUnfulfilled, false},
		{"Running to PrerequisiteFailed", StateRunning, StatePrerequisiteFailed, false},
		{"Creating to Running", StateCreating, StateRunning, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := legalTransition(tt.from, tt.to)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestTask_ResultBeforeTerminalReturnsErrNotFinished(t *testing.T) {
	task := NewTask(intTask(0, nil))
	_, err := task.Result()
	require.ErrorIs(t, err, ErrNotFinished)
}

func TestTask_SuccessfulExecutionSetsResult(t *testing.T) {
	task := NewTask(intTask(42, nil))
	require.NoError(t, task.transition(StateExecutable))
	require.NoError(t, task.transition(StateRunning))

	task.execute(context.Background())

	require.True(t, task.IsDetermined())
	require.Equal(t, StateSuccessful, task.State())
	result, err := task.Result()
	require.NoError(t, err)
	require.Equal(t, 42, result)
}

func TestTask_FailedExecutionWrapsErrTaskExecution(t *testing.T) {
	boom := errors.New("boom")
	task := NewTask(intTask(0, boom))
	require.NoError(t, task.transition(StateExecutable))
	require.NoError(t, task.transition(StateRunning))

	task.execute(context.Background())

	require.Equal(t, StateFailed, task.State())
	_, err := task.Result()
	require.ErrorIs(t, err, ErrTaskExecution)
	require.ErrorIs(t, err, boom)
}

func TestTask_PanicInCallableBecomesFailure(t *testing.T) {
	task := NewTask(Func[int](func(context.Context, []any, map[string]any) (int, error) {
		panic("kaboom")
	}))
	require.NoError(t, task.transition(StateExecutable))
	require.NoError(t, task.transition(StateRunning))

	task.execute(context.Background())

	require.Equal(t, StateFailed, task.State())
	_, err := task.Result()
	require.ErrorIs(t, err, ErrTaskExecution)
}

func TestTask_PrerequisiteFailurePropagates(t *testing.T) {
	upstream := NewTask(intTask(0, errors.New("upstream failed")))
	downstream := NewTask(intTask(1, nil), WithPrerequisites[int](upstream))

	book := NewReadyBook(nil, zerolog.Nop())
	require.NoError(t, book.Insert(upstream))
	require.NoError(t, book.Insert(downstream))
	require.Equal(t, StatePrerequisitesUnfulfilled, downstream.State())

	require.NoError(t, upstream.transition(StateRunning))
	upstream.execute(context.Background())
	require.Equal(t, StateFailed, upstream.State())

	require.Eventually(t, func() bool {
		return downstream.State() == StatePrerequisiteFailed
	}, time.Second, time.Millisecond)

	_, err := downstream.Result()
	require.ErrorIs(t, err, ErrTaskPrerequisite)
}

func TestTask_StateChangeListenersFireAndAreReleasedOnTerminal(t *testing.T) {
	var seen []TaskState
	task := NewTask(intTask(1, nil))
	task.AddStateChangeListener(func(_ *Task[int], previous TaskState) {
		seen = append(seen, previous)
	})

	require.NoError(t, task.transition(StateExecutable))
	require.NoError(t, task.transition(StateRunning))
	task.execute(context.Background())

	require.Equal(t, []TaskState{StateCreating, StateExecutable, StateRunning}, seen)
	require.Equal(t, 0, task.stateObserver.Len())
}

func TestTask_SelfRemovingListenerDoesNotCorruptRound(t *testing.T) {
	task := NewTask(intTask(1, nil))
	calls := 0

	var self StateListener[int]
	self = func(tk *Task[int], _ TaskState) {
		calls++
		tk.RemoveStateChangeListener(self)
	}
	task.AddStateChangeListener(self)
	other := 0
	task.AddStateChangeListener(func(*Task[int], TaskState) { other++ })

	require.NoError(t, task.transition(StateExecutable))
	require.Equal(t, 1, calls)
	require.Equal(t, 1, other)

	require.NoError(t, task.transition(StateRunning))
	require.Equal(t, 1, calls, "self-removed listener should not fire again")
	require.Equal(t, 2, other)
}

func TestTask_WaitForResultTimesOut(t *testing.T) {
	task := NewTask(intTask(1, nil))
	require.False(t, task.WaitForResult(10*time.Millisecond))
}

func TestTask_SetStateChangeLoggingIsLegalAfterCreating(t *testing.T) {
	task := NewTask(intTask(1, nil))
	require.NoError(t, task.transition(StateExecutable))
	require.NoError(t, task.transition(StateRunning))

	require.NotPanics(t, func() { task.SetStateChangeLogging(true) })
	require.True(t, task.printStateChanges)

	task.SetStateChangeLogging(false)
	require.False(t, task.printStateChanges)
}
