package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tocco/lomigrate/internal/logger"
)

// commitIdle flushes a partial batch when throughput is uneven, so the tail
// of a run is not held hostage by a slow upstream stage.
const commitIdle = 5 * time.Second

// Committer workers batch completed descriptors and write their SHA-256
// back into the source table transactionally.
type Committer struct {
	stats *Stats
	src   Source
	chunk int
	log   *slog.Logger
}

// NewCommitter creates one committer worker flushing batches of up to chunk
// descriptors.
func NewCommitter(stats *Stats, src Source, chunk int, worker int) *Committer {
	return &Committer{
		stats: stats,
		src:   src,
		chunk: chunk,
		log:   logger.With(logger.KeyStage, "committer", logger.KeyWorker, worker),
	}
}

// Run consumes descriptors from in until it is closed, flushing a batch
// when it reaches the chunk size, when the idle timer fires, and finally
// when the queue closes. ctx must not be the cancellable run context:
// everything that made it to the commit queue is committed even during
// shutdown. A commit failure after retries is fatal and returned.
func (c *Committer) Run(ctx context.Context, in <-chan *Lo) error {
	batch := make([]*Lo, 0, c.chunk)
	idle := time.NewTimer(commitIdle)
	defer idle.Stop()

	for {
		select {
		case lo, ok := <-in:
			if !ok {
				return c.flush(ctx, &batch)
			}
			batch = append(batch, lo)
			if len(batch) >= c.chunk {
				if err := c.flush(ctx, &batch); err != nil {
					return err
				}
				resetTimer(idle, commitIdle)
			}

		case <-idle.C:
			if err := c.flush(ctx, &batch); err != nil {
				return err
			}
			idle.Reset(commitIdle)
		}
	}
}

func (c *Committer) flush(ctx context.Context, batch *[]*Lo) error {
	if len(*batch) == 0 {
		return nil
	}

	var (
		res     CommitResult
		lastErr error
	)
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			c.stats.AddRetried(1)
			c.log.Warn("retrying commit batch",
				logger.KeyBatch, len(*batch), logger.KeyAttempt, attempt)
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
			case <-time.After(backoffDelay(attempt - 1)):
			}
			if lastErr != nil {
				break
			}
		}
		res, lastErr = c.src.CommitHashes(ctx, *batch)
		if lastErr == nil {
			break
		}
	}
	if lastErr != nil {
		c.stats.AddDropped(uint64(len(*batch)))
		return fmt.Errorf("failed to commit batch of %d hashes: %w", len(*batch), lastErr)
	}

	if res.Stale > 0 {
		c.log.Debug("batch contained already-committed rows",
			logger.KeyBatch, len(*batch), "stale", res.Stale)
		c.stats.AddStale(uint64(res.Stale))
	}
	c.stats.AddCommitted(uint64(len(*batch)))
	*batch = (*batch)[:0]
	return nil
}

// resetTimer drains and restarts a timer that may or may not have fired.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
