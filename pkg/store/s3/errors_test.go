package s3

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
)

func apiError(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: code}
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, isRetryableError(nil))
	assert.False(t, isRetryableError(context.Canceled))
	assert.False(t, isRetryableError(context.DeadlineExceeded))

	assert.True(t, isRetryableError(apiError("SlowDown")))
	assert.True(t, isRetryableError(apiError("InternalError")))
	assert.True(t, isRetryableError(apiError("ServiceUnavailable")))

	assert.False(t, isRetryableError(apiError("AccessDenied")))
	assert.False(t, isRetryableError(apiError("NoSuchBucket")))
	assert.False(t, isRetryableError(apiError("InvalidRequest")))

	assert.True(t, isRetryableError(errors.New("read tcp: connection reset by peer")))
	assert.True(t, isRetryableError(errors.New("dial tcp: connection refused")))
}

func TestIsNotFoundError(t *testing.T) {
	assert.False(t, isNotFoundError(nil))
	assert.True(t, isNotFoundError(apiError("NoSuchKey")))
	assert.True(t, isNotFoundError(apiError("NotFound")))
	assert.False(t, isNotFoundError(apiError("AccessDenied")))
	assert.True(t, isNotFoundError(errors.New("operation error S3: HeadObject, https response error StatusCode: 404")))
}

func TestBackoffIsBoundedAndGrows(t *testing.T) {
	s := &Store{retry: defaultRetry}

	first := s.backoff(0)
	assert.GreaterOrEqual(t, first, defaultRetry.initialBackoff)
	// attempt 3 is at least 800ms, attempt 0 at most 125ms
	assert.Greater(t, s.backoff(3), s.backoff(0))

	for attempt := 0; attempt < 10; attempt++ {
		d := s.backoff(attempt)
		// jitter adds at most 25%
		assert.LessOrEqual(t, d, defaultRetry.maxBackoff+defaultRetry.maxBackoff/4)
	}
}
