package tasksched

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateConfig_Defaults(t *testing.T) {
	cfg := defaultConfig()
	require.NoError(t, validateConfig(&cfg))
}

func TestValidateConfig_ZeroNumWorkersFails(t *testing.T) {
	cfg := defaultConfig()
	cfg.NumWorkers = 0
	require.ErrorIs(t, validateConfig(&cfg), ErrMissingArgument)
}

func TestDefaultConfig_Values(t *testing.T) {
	cfg := defaultConfig()
	require.Equal(t, uint(4), cfg.NumWorkers)
	require.Equal(t, uint(1), cfg.DaemonWorkers)
}

func TestNew_NilOptionPanics(t *testing.T) {
	require.Panics(t, func() {
		_, _ = New(context.Background(), nil)
	})
}
