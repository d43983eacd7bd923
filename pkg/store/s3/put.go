package s3

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/tocco/lomigrate/internal/logger"
	"github.com/tocco/lomigrate/pkg/migrate"
)

// metadataSHA1 is the user metadata key recording the legacy hash; the SDK
// sends it as x-amz-meta-sha1.
const metadataSHA1 = "sha1"

// Put uploads the payload under its SHA-256 key with the content type and
// the legacy SHA-1 as metadata. If an object of the same length already
// exists under the key, the upload is skipped and treated as success: keys
// are content-addressed, so a same-length object under the same digest is
// the same object left behind by a run that crashed between upload and
// commit.
func (s *Store) Put(ctx context.Context, req *migrate.PutRequest) error {
	if skip, err := s.alreadyStored(ctx, req); err == nil && skip {
		logger.Debug("object already present, skipping upload",
			logger.KeyKey, req.Key, logger.KeySize, req.Size)
		return nil
	}

	var (
		lastErr  error
		attempts int
	)
	for attempt := 0; attempt <= s.retry.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := s.backoff(attempt - 1)
			logger.Debug("retrying upload",
				logger.KeyKey, req.Key,
				logger.KeyAttempt, attempt,
				"backoff", backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		if _, lastErr = req.Body.Seek(0, io.SeekStart); lastErr != nil {
			return fmt.Errorf("failed to rewind payload for %s: %w", req.Key, lastErr)
		}

		attempts++
		_, lastErr = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(req.Key),
			Body:          req.Body,
			ContentLength: aws.Int64(req.Size),
			ContentType:   aws.String(req.MimeType),
			Metadata:      map[string]string{metadataSHA1: req.SHA1},
		})
		if lastErr == nil {
			return nil
		}
		if !isRetryableError(lastErr) {
			break
		}
	}
	return fmt.Errorf("failed to upload %s after %d attempts: %w",
		req.Key, attempts, lastErr)
}

// alreadyStored reports whether the key exists with the expected length.
// Head failures other than not-found are swallowed; the PUT decides.
func (s *Store) alreadyStored(ctx context.Context, req *migrate.PutRequest) (bool, error) {
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(req.Key),
	})
	if err != nil {
		if isNotFoundError(err) {
			return false, nil
		}
		return false, err
	}
	if aws.ToInt64(head.ContentLength) != req.Size {
		// Same digest, different length: something is off with the
		// remote object, re-put it.
		logger.Warn("existing object length mismatch, re-uploading",
			logger.KeyKey, req.Key,
			logger.KeySize, req.Size,
			"existing_size", aws.ToInt64(head.ContentLength))
		return false, nil
	}
	return true, nil
}

// backoff returns the jittered exponential backoff for a 0-based attempt.
func (s *Store) backoff(attempt int) time.Duration {
	backoff := float64(s.retry.initialBackoff)
	for i := 0; i < attempt; i++ {
		backoff *= s.retry.backoffMultiplier
	}
	if backoff > float64(s.retry.maxBackoff) {
		backoff = float64(s.retry.maxBackoff)
	}
	backoff += backoff * 0.25 * rand.Float64()
	return time.Duration(backoff)
}
