package migrate

import (
	"context"
	"encoding/hex"

	"github.com/tocco/lomigrate/internal/logger"
)

// Observer scans the source table and produces the work stream. There is
// exactly one observer per run; the scan happens inside a single read
// transaction so the row set is a consistent snapshot.
type Observer struct {
	stats *Stats
	src   Source
}

// NewObserver creates the observer worker.
func NewObserver(stats *Stats, src Source) *Observer {
	return &Observer{stats: stats, src: src}
}

// Run scans rows with sha2 IS NULL and sends a descriptor per valid row to
// out. Invalid rows (malformed hash, missing OID, negative size) are logged
// and counted as dropped. Run returns the scan error, if any; the caller
// closes out in every case.
func (o *Observer) Run(ctx context.Context, out chan<- *Lo) error {
	log := logger.With(logger.KeyStage, "observer")

	err := o.src.ScanPending(ctx, func(row BinaryRow) error {
		lo, ok := o.descriptor(row)
		if !ok {
			o.stats.AddDropped(1)
			return nil
		}

		select {
		case out <- lo:
		case <-ctx.Done():
			return ctx.Err()
		}
		o.stats.AddObserved(1)
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			log.Info("scan aborted", logger.KeyError, ctx.Err())
			return nil
		}
		return err
	}

	log.Info("scan complete", "observed", o.stats.Observed())
	return nil
}

// descriptor validates one source row. Rows that cannot be migrated are
// rejected here so the rest of the pipeline only ever sees well-formed
// descriptors.
func (o *Observer) descriptor(row BinaryRow) (*Lo, bool) {
	if !validSHA1Hex(row.Hash) {
		logger.Warn("source row has invalid sha1 hash, skipping",
			logger.KeySHA1, row.Hash)
		return nil, false
	}
	if row.OID == nil {
		logger.Warn("source row has no large object, skipping",
			logger.KeySHA1, row.Hash)
		return nil, false
	}
	if row.Size < 0 {
		logger.Warn("source row has negative size, skipping",
			logger.KeySHA1, row.Hash, logger.KeySize, row.Size)
		return nil, false
	}
	return NewLo(row.Hash, *row.OID, row.Size, row.MimeType), true
}

func validSHA1Hex(s string) bool {
	if len(s) != 40 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
