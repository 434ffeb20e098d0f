package tasksched

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMonitoring_TracksBucketCounts(t *testing.T) {
	m := NewMonitoring()
	a := NewTask(intTask(1, nil))
	b := NewTask(intTask(1, nil))

	m.Add(a)
	m.Add(b)
	require.Equal(t, 2, m.Len())
	require.Equal(t, 2, m.Count(StateCreating))

	require.NoError(t, a.transition(StateExecutable))
	require.Equal(t, 1, m.Count(StateCreating))
	require.Equal(t, 1, m.Count(StateExecutable))
}

func TestMonitoring_AddIsIdempotent(t *testing.T) {
	m := NewMonitoring()
	a := NewTask(intTask(1, nil))
	m.Add(a)
	m.Add(a)
	require.Equal(t, 1, m.Len())
}

func TestMonitoring_RemoveReportsFoundOrNotFound(t *testing.T) {
	m := NewMonitoring()
	a := NewTask(intTask(1, nil))
	require.False(t, m.Remove(a))
	m.Add(a)
	require.True(t, m.Remove(a))
	require.False(t, m.Remove(a))
}

func TestMonitoring_ChangeListenerFiresOnRelocation(t *testing.T) {
	m := NewMonitoring()
	a := NewTask(intTask(1, nil))
	m.Add(a)

	fired := 0
	m.AddChangeListener(func(*Monitoring) { fired++ })

	require.NoError(t, a.transition(StateExecutable))
	require.NoError(t, a.transition(StateRunning))
	a.execute(context.Background())

	require.Equal(t, 3, fired)
	require.Equal(t, 1, m.CountTerminal())
}

func TestMonitoring_CountFailedIncludesPrerequisiteFailed(t *testing.T) {
	m := NewMonitoring()
	a := NewTask(intTask(1, nil))
	m.Add(a)
	require.NoError(t, a.transition(StatePrerequisiteFailed))
	require.Equal(t, 1, m.CountFailed())
	require.Equal(t, 1, m.CountTerminal())
}
