package migrate

import (
	"context"

	"github.com/tocco/lomigrate/internal/logger"
)

// Counter resolves the remaining/total gauges; the monitor uses the total
// for the progress percentage and the ETA. It runs once, concurrently with
// the pipeline; until it finishes the monitor prints UNKNOWN.
type Counter struct {
	stats *Stats
	src   Source
}

// NewCounter creates the counter worker.
func NewCounter(stats *Stats, src Source) *Counter {
	return &Counter{stats: stats, src: src}
}

// Run counts the rows still to migrate and the table total. A failed count
// only degrades the monitor output, so errors are logged, not propagated.
func (c *Counter) Run(ctx context.Context) {
	remaining, total, err := c.src.CountBinaries(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("failed to count source rows, progress will show UNKNOWN",
				logger.KeyError, err)
		}
		return
	}
	c.stats.SetCounts(remaining, total)
	logger.Debug("counted source rows", "remaining", remaining, "total", total)
}
