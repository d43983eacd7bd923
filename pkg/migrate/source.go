package migrate

import (
	"context"
	"errors"
	"io"
)

// ErrObjectMissing is returned by Source.ReadLargeObject when the row's OID
// does not resolve to a Large Object. The receiver drops such descriptors
// without retrying.
var ErrObjectMissing = errors.New("large object does not exist")

// BinaryRow is one row of the source table as seen by the observer, before
// validation.
type BinaryRow struct {
	Hash     string  // legacy SHA-1 hex, possibly malformed
	OID      *uint32 // nil when the data column is NULL
	Size     int64
	MimeType string
}

// CommitResult reports the outcome of one commit batch.
type CommitResult struct {
	// Updated is the number of rows whose sha2 column was set.
	Updated int

	// Stale is the number of rows that were already committed (the
	// sha2 IS NULL guard matched nothing). Not an error; it happens when
	// a run is resumed after a crash between upload and commit.
	Stale int
}

// Source is the Postgres side of the migration.
type Source interface {
	// CountBinaries returns how many rows still need migration and how
	// many rows the table holds in total.
	CountBinaries(ctx context.Context) (remaining, total int64, err error)

	// ScanPending streams every row with sha2 IS NULL through yield
	// inside a single read transaction. Scanning stops at the first
	// yield error.
	ScanPending(ctx context.Context, yield func(BinaryRow) error) error

	// ReadLargeObject streams the Large Object's bytes into w in chunks
	// and returns the byte count. A missing object is reported as an
	// error wrapping ErrObjectMissing.
	ReadLargeObject(ctx context.Context, oid uint32, w io.Writer) (int64, error)

	// CommitHashes writes the SHA2 of every descriptor back to its source
	// row in one transaction, guarded by sha2 IS NULL.
	CommitHashes(ctx context.Context, objects []*Lo) (CommitResult, error)
}

// PutRequest describes one object upload.
type PutRequest struct {
	Key      string // 64-char lowercase hex SHA-256
	SHA1     string // legacy hash, stored as object metadata
	MimeType string
	Size     int64         // bytes actually read, not the declared size
	Body     io.ReadSeeker // rewound by the target before each attempt
}

// Target is the S3 side of the migration. Put must be idempotent: an object
// that already exists under the key with the same length is success.
type Target interface {
	Put(ctx context.Context, req *PutRequest) error
}
