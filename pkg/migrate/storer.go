package migrate

import (
	"context"
	"log/slog"

	"github.com/tocco/lomigrate/internal/logger"
)

// Storer workers upload payloads to the object store under their SHA-256
// key and release them. Retry and idempotency live in the Target
// implementation; a Put that returns nil means the object is durably in the
// bucket with the right length.
type Storer struct {
	stats *Stats
	tgt   Target
	log   *slog.Logger
}

// NewStorer creates one storer worker.
func NewStorer(stats *Stats, tgt Target, worker int) *Storer {
	return &Storer{
		stats: stats,
		tgt:   tgt,
		log:   logger.With(logger.KeyStage, "storer", logger.KeyWorker, worker),
	}
}

// Run consumes descriptors from in until closed, forwarding successfully
// stored descriptors (payload released, metadata only) to out. On
// cancellation the rest of the input is drained, released and dropped.
func (s *Storer) Run(ctx context.Context, in <-chan *Lo, out chan<- *Lo) {
	for lo := range in {
		if ctx.Err() != nil {
			lo.ReleasePayload()
			s.stats.AddDropped(1)
			continue
		}

		if err := s.store(ctx, lo); err != nil {
			if ctx.Err() == nil {
				s.log.Error("failed to store object, dropping",
					logger.KeySHA1, lo.SHA1,
					logger.KeyKey, lo.SHA2,
					logger.KeyError, err)
			}
			lo.ReleasePayload()
			s.stats.AddDropped(1)
			continue
		}

		// The source row must only be updated after the object exists;
		// releasing here keeps the payload alive until Put returned.
		lo.ReleasePayload()
		s.stats.AddStored(1)

		select {
		case out <- lo:
		case <-ctx.Done():
			s.stats.AddDropped(1)
		}
	}
	s.log.Debug("input queue closed, worker done")
}

func (s *Storer) store(ctx context.Context, lo *Lo) error {
	body, err := lo.OpenPayload()
	if err != nil {
		return err
	}
	return s.tgt.Put(ctx, &PutRequest{
		Key:      lo.SHA2,
		SHA1:     lo.SHA1,
		MimeType: lo.MimeType,
		Size:     lo.BytesRead,
		Body:     body,
	})
}
