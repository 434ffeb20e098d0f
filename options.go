package tasksched

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/dstask/tasksched/metrics"
)

// Option configures a Processor. Use New(ctx, opts...) to construct one.
type Option func(*config)

// WithNumWorkers sets the main worker pool size (must be > 0).
func WithNumWorkers(n uint) Option {
	return func(c *config) {
		if n == 0 {
			panic("tasksched: WithNumWorkers requires n > 0")
		}
		c.NumWorkers = n
	}
}

// WithDaemonWorkers sets the daemon worker pool size, which runs
// submission tasks. Zero is legal: a Processor with no daemon workers
// simply cannot run submission tasks.
func WithDaemonWorkers(n uint) Option {
	return func(c *config) { c.DaemonWorkers = n }
}

// WithReadyBookTimeout overrides how long a worker blocks popping from an
// empty ready book before re-checking for shutdown. Default 5s.
func WithReadyBookTimeout(d time.Duration) Option {
	return func(c *config) { c.ReadyBookTimeout = d }
}

// WithMetricsProvider attaches a metrics.Provider. Default is a no-op
// provider.
func WithMetricsProvider(p metrics.Provider) Option {
	return func(c *config) {
		if p != nil {
			c.MetricsProvider = p
		}
	}
}

// WithLogger attaches a zerolog.Logger. Default is zerolog.Nop().
func WithLogger(logger zerolog.Logger) Option {
	return func(c *config) { c.Logger = logger }
}
