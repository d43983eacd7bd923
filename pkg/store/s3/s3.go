// Package s3 implements the target side of the migration on any
// S3-compatible object store.
//
// Uploads are idempotent without relying on conditional requests: before a
// PUT the store asks for the object's head and treats "already present with
// the same length" as success. Conditional writes are not universally
// available on S3-compatible backends (Ceph in particular), so none are
// used.
package s3

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/tocco/lomigrate/internal/logger"
)

// Config for the target object store.
type Config struct {
	// Endpoint is the URL of the S3-compatible service.
	Endpoint string

	// AccessKey and SecretKey are static credentials.
	AccessKey string
	SecretKey string

	// Bucket receives every object, keyed by SHA-256 at the bucket root.
	Bucket string

	// Region is required by the SDK even for non-AWS endpoints.
	// Defaults to us-east-1.
	Region string
}

// retryConfig holds retry settings for uploads.
type retryConfig struct {
	maxRetries        int
	initialBackoff    time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
}

var defaultRetry = retryConfig{
	maxRetries:        3,
	initialBackoff:    100 * time.Millisecond,
	maxBackoff:        2 * time.Second,
	backoffMultiplier: 2.0,
}

// Store uploads payloads to one bucket. Safe for concurrent use; every
// storer worker shares one instance.
type Store struct {
	client *s3.Client
	bucket string
	retry  retryConfig
}

// New builds the client for a custom endpoint with static credentials and
// path-style addressing (required by MinIO, Ceph RGW and friends).
func New(ctx context.Context, cfg Config) (*Store, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	return NewWithClient(client, cfg.Bucket), nil
}

// NewWithClient wraps an existing client; used by tests.
func NewWithClient(client *s3.Client, bucket string) *Store {
	return &Store{client: client, bucket: bucket, retry: defaultRetry}
}

// Ping verifies the bucket is reachable and the credentials work, so
// endpoint or credential problems abort the run before any worker starts.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("bucket %q not reachable: %w", s.bucket, err)
	}
	logger.Debug("bucket reachable", logger.KeyBucket, s.bucket)
	return nil
}
