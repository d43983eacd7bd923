package s3

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tocco/lomigrate/pkg/migrate"
)

const testBucket = "lomigrate-test"

// newTestStore spins up an in-process fake S3 and a Store talking to it.
func newTestStore(t *testing.T) (*Store, *awss3.Client) {
	t.Helper()

	backend := s3mem.New()
	require.NoError(t, backend.CreateBucket(testBucket))
	ts := httptest.NewServer(gofakes3.New(backend).Server())
	t.Cleanup(ts.Close)

	client := awss3.NewFromConfig(aws.Config{
		Region:      "us-east-1",
		Credentials: credentials.NewStaticCredentialsProvider("access", "secret", ""),
	}, func(o *awss3.Options) {
		o.BaseEndpoint = aws.String(ts.URL)
		o.UsePathStyle = true
	})

	return NewWithClient(client, testBucket), client
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func putRequest(data []byte, mime, sha1 string) *migrate.PutRequest {
	return &migrate.PutRequest{
		Key:      sha256Hex(data),
		SHA1:     sha1,
		MimeType: mime,
		Size:     int64(len(data)),
		Body:     bytes.NewReader(data),
	}
}

func TestPingReachableBucket(t *testing.T) {
	store, _ := newTestStore(t)
	assert.NoError(t, store.Ping(context.Background()))
}

func TestPingMissingBucket(t *testing.T) {
	_, client := newTestStore(t)
	missing := NewWithClient(client, "no-such-bucket")
	assert.Error(t, missing.Ping(context.Background()))
}

func TestPutStoresObjectWithMetadata(t *testing.T) {
	store, client := newTestStore(t)
	ctx := context.Background()

	data := []byte("125 bytes worth of binary payload")
	req := putRequest(data, "octet/stream", "8bacf7ec3211d2dd1bbab7245f51d58a2dd3e862")
	require.NoError(t, store.Put(ctx, req))

	got, err := client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(testBucket),
		Key:    aws.String(req.Key),
	})
	require.NoError(t, err)
	defer got.Body.Close()

	body, err := io.ReadAll(got.Body)
	require.NoError(t, err)
	assert.Equal(t, data, body)
	assert.Equal(t, "octet/stream", aws.ToString(got.ContentType))
	assert.Equal(t, "8bacf7ec3211d2dd1bbab7245f51d58a2dd3e862", got.Metadata[metadataSHA1])
}

func TestPutZeroByteObject(t *testing.T) {
	store, client := newTestStore(t)
	ctx := context.Background()

	req := putRequest(nil, "octet/stream", "da39a3ee5e6b4b0d3255bfef95601890afd80709")
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", req.Key)
	require.NoError(t, store.Put(ctx, req))

	head, err := client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(testBucket),
		Key:    aws.String(req.Key),
	})
	require.NoError(t, err)
	assert.Zero(t, aws.ToInt64(head.ContentLength))
}

func TestPutSkipsExistingObjectWithMatchingLength(t *testing.T) {
	store, client := newTestStore(t)
	ctx := context.Background()

	data := []byte("uploaded by the run that crashed before commit")
	key := sha256Hex(data)
	_, err := client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:      aws.String(testBucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("text/original"),
	})
	require.NoError(t, err)

	// the re-put is skipped: same key, same length
	req := &migrate.PutRequest{
		Key:      key,
		SHA1:     "ca83700b8a9a708d549fb2b1d6b5aacbf5487107",
		MimeType: "text/replacement",
		Size:     int64(len(data)),
		Body:     bytes.NewReader(data),
	}
	require.NoError(t, store.Put(ctx, req))

	got, err := client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(testBucket),
		Key:    aws.String(key),
	})
	require.NoError(t, err)
	defer got.Body.Close()
	// the original object survived untouched
	assert.Equal(t, "text/original", aws.ToString(got.ContentType))
}

func TestPutReplacesObjectWithWrongLength(t *testing.T) {
	store, client := newTestStore(t)
	ctx := context.Background()

	data := []byte("the real payload")
	key := sha256Hex(data)
	_, err := client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket: aws.String(testBucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader([]byte("truncated")),
	})
	require.NoError(t, err)

	req := putRequest(data, "octet/stream", "469484b6f3f0a9e69dbbd47c70d7306f6bb2d6ec")
	require.NoError(t, store.Put(ctx, req))

	got, err := client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(testBucket),
		Key:    aws.String(key),
	})
	require.NoError(t, err)
	defer got.Body.Close()
	body, err := io.ReadAll(got.Body)
	require.NoError(t, err)
	assert.Equal(t, data, body)
}
