// Package migrate implements the blob migration pipeline.
//
// Four worker groups (observer, receiver, storer, committer) connected by
// three bounded queues move every not-yet-migrated row of the source table
// through fetch, hash, upload and commit. A fifth worker (the monitor)
// periodically prints progress. See Pipeline for the wiring.
package migrate

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// PayloadKind discriminates where a descriptor's payload currently lives.
type PayloadKind uint8

const (
	// PayloadNone means the payload has not been fetched yet, or has
	// already been released.
	PayloadNone PayloadKind = iota

	// PayloadMemory means the payload is buffered entirely in memory.
	PayloadMemory

	// PayloadFile means the payload was spilled to a scratch file in the
	// system temp directory.
	PayloadFile
)

// Lo is the descriptor that accompanies one source row through the pipeline.
//
// It is created by the observer, enriched with SHA2 and a payload by the
// receiver, drained of its payload by the storer, and destroyed by the
// committer once the row update is durable. A descriptor is owned by exactly
// one worker at a time; ownership transfers by queue send.
type Lo struct {
	// SHA1 is the legacy hash from the source row, 40-char lowercase hex.
	// The pipeline never verifies it; it locates the row on commit and
	// tags the uploaded object.
	SHA1 string

	// OID is the Postgres Large Object id.
	OID uint32

	// Size is the declared byte size from the source row. Advisory only;
	// BytesRead is authoritative once the receiver has run.
	Size int64

	// MimeType is the content type stored in the source row.
	MimeType string

	// SHA2 is the 64-char lowercase hex SHA-256, set exactly once by the
	// receiver after the whole payload has been read and digested.
	SHA2 string

	// BytesRead is the number of bytes actually streamed from Postgres.
	BytesRead int64

	kind PayloadKind
	buf  []byte
	file *os.File
	path string
}

// NewLo creates a descriptor for a source row. The payload is absent.
func NewLo(sha1 string, oid uint32, size int64, mimeType string) *Lo {
	return &Lo{SHA1: sha1, OID: oid, Size: size, MimeType: mimeType}
}

// PayloadKind reports where the payload currently lives.
func (lo *Lo) PayloadKind() PayloadKind {
	return lo.kind
}

// setMemoryPayload attaches an in-memory payload.
func (lo *Lo) setMemoryPayload(buf []byte) {
	lo.ReleasePayload()
	lo.kind = PayloadMemory
	lo.buf = buf
}

// setFilePayload attaches a scratch-file payload. The descriptor takes
// ownership of the handle and unlinks the file on release.
func (lo *Lo) setFilePayload(f *os.File, path string) {
	lo.ReleasePayload()
	lo.kind = PayloadFile
	lo.file = f
	lo.path = path
}

// OpenPayload returns a seekable reader positioned at the start of the
// payload. The reader stays valid until ReleasePayload is called; callers
// must not close the underlying file themselves.
func (lo *Lo) OpenPayload() (io.ReadSeeker, error) {
	switch lo.kind {
	case PayloadMemory:
		return bytes.NewReader(lo.buf), nil
	case PayloadFile:
		if _, err := lo.file.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("failed to rewind scratch file %s: %w", lo.path, err)
		}
		return lo.file, nil
	default:
		return nil, fmt.Errorf("object %s has no payload", lo)
	}
}

// ReleasePayload drops the payload: the in-memory buffer is freed, or the
// scratch file is closed and unlinked. It is idempotent and must be called
// on every exit path once a payload has been attached, not just after a
// successful upload.
func (lo *Lo) ReleasePayload() {
	switch lo.kind {
	case PayloadMemory:
		lo.buf = nil
	case PayloadFile:
		lo.file.Close()
		os.Remove(lo.path)
		lo.file = nil
		lo.path = ""
	}
	lo.kind = PayloadNone
}

// String renders an abbreviated descriptor for log lines.
func (lo *Lo) String() string {
	sha1 := lo.SHA1
	if len(sha1) > 10 {
		sha1 = sha1[:10] + "..."
	}
	return fmt.Sprintf("Lo{sha1=%s oid=%d size=%d}", sha1, lo.OID, lo.Size)
}
