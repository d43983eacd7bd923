package migrate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/tocco/lomigrate/internal/logger"
)

// Receiver workers stream each blob's bytes out of Postgres, computing the
// SHA-256 and staging the payload (in memory, or in a scratch file above the
// configured threshold) in a single pass.
type Receiver struct {
	stats    *Stats
	src      Source
	inMemMax int64
	log      *slog.Logger
}

// NewReceiver creates one receiver worker. inMemMax is the largest payload
// kept entirely in memory, in bytes.
func NewReceiver(stats *Stats, src Source, inMemMax int64, worker int) *Receiver {
	return &Receiver{
		stats:    stats,
		src:      src,
		inMemMax: inMemMax,
		log:      logger.With(logger.KeyStage, "receiver", logger.KeyWorker, worker),
	}
}

// Run consumes descriptors from in until it is closed and forwards enriched
// descriptors to out. After the run context is cancelled the remaining input
// is drained and dropped; those rows stay sha2 IS NULL for a later run.
func (r *Receiver) Run(ctx context.Context, in <-chan *Lo, out chan<- *Lo) {
	for lo := range in {
		if ctx.Err() != nil {
			r.stats.AddDropped(1)
			continue
		}

		if err := r.fetch(ctx, lo); err != nil {
			if ctx.Err() == nil {
				r.log.Error("failed to fetch large object, dropping",
					logger.KeySHA1, lo.SHA1,
					logger.KeyOID, lo.OID,
					logger.KeyError, err)
			}
			r.stats.AddDropped(1)
			continue
		}
		r.stats.AddReceived(1)

		select {
		case out <- lo:
		case <-ctx.Done():
			lo.ReleasePayload()
			r.stats.AddDropped(1)
		}
	}
	r.log.Debug("input queue closed, worker done")
}

// fetch materializes the payload with bounded retries. Missing Large
// Objects are permanent and fail immediately.
func (r *Receiver) fetch(ctx context.Context, lo *Lo) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			r.stats.AddRetried(1)
			r.log.Debug("retrying fetch",
				logger.KeyOID, lo.OID, logger.KeyAttempt, attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoffDelay(attempt - 1)):
			}
		}

		lastErr = r.fetchOnce(ctx, lo)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrObjectMissing) || ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

func (r *Receiver) fetchOnce(ctx context.Context, lo *Lo) error {
	digest := sha256.New()
	sp := newSpool(r.inMemMax)

	// Every chunk of the stream passes through the digest and the spool
	// exactly once.
	n, err := r.src.ReadLargeObject(ctx, lo.OID, io.MultiWriter(digest, sp))
	if err != nil {
		sp.discard()
		return err
	}

	if n != lo.Size {
		// The declared size only pre-decides staging; the bytes that were
		// actually read win.
		r.log.Warn("declared size disagrees with stream length",
			logger.KeySHA1, lo.SHA1,
			logger.KeyOID, lo.OID,
			logger.KeySize, lo.Size,
			logger.KeyBytesRead, n)
	}

	if err := sp.bind(lo); err != nil {
		return err
	}
	lo.BytesRead = n
	lo.SHA2 = hex.EncodeToString(digest.Sum(nil))
	return nil
}
