package tasksched

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/dstask/tasksched/metrics"
)

// config holds Processor configuration.
type config struct {
	// NumWorkers is the size of the main worker pool, which runs ordinary
	// submitted tasks.
	// Default: 4
	NumWorkers uint

	// DaemonWorkers is the size of the daemon worker pool, which runs
	// submission tasks (tasks whose callable itself submits further work).
	// Keeping this pool separate from NumWorkers is what lets a submission
	// task call Submit synchronously without risking the deadlock
	// Processor.Submit's safe-submission check otherwise rejects.
	// Default: 1
	DaemonWorkers uint

	// ReadyBookTimeout bounds how long a worker blocks popping from an
	// empty ready book before re-checking for shutdown.
	// Default: 5s
	ReadyBookTimeout time.Duration

	// MetricsProvider receives submitted/executed/succeeded/failed
	// counters, ready-queue depth, and wait/run-duration histograms.
	// Default: metrics.NewNoopProvider()
	MetricsProvider metrics.Provider

	// Logger receives worker-lifecycle lines and the warning for a
	// rejected unsafe submission. Listener panics and state-change lines
	// are logged through each Task's own logger (see WithTaskLogger), not
	// this one.
	// Default: zerolog.Nop()
	Logger zerolog.Logger
}

// validateConfig performs lightweight invariant checks.
func validateConfig(cfg *config) error {
	if cfg.NumWorkers == 0 {
		return ErrMissingArgument
	}
	return nil
}
