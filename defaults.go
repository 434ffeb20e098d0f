package tasksched

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/dstask/tasksched/metrics"
)

// defaultConfig centralizes default values for config. These defaults are
// the base that New's options builder starts from.
func defaultConfig() config {
	return config{
		NumWorkers:       4,
		DaemonWorkers:    1,
		ReadyBookTimeout: 5 * time.Second,
		MetricsProvider:  metrics.NewNoopProvider(),
		Logger:           zerolog.Nop(),
	}
}
