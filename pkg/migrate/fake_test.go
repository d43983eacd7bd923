package migrate_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/tocco/lomigrate/pkg/migrate"
)

// fakeRow mirrors one _nice_binary row.
type fakeRow struct {
	hash    string
	oid     *uint32
	size    int64
	mime    string
	sha2    string
	data    []byte
	missing bool // row has an OID but the Large Object is gone
}

func oidRef(oid uint32) *uint32 { return &oid }

// fakeSource is an in-memory Source covering the same behaviors the
// Postgres store exhibits, including injectable transient failures and a
// mid-scan error.
type fakeSource struct {
	mu        sync.Mutex
	rows      []*fakeRow
	failReads map[uint32]int // remaining transient failures per OID
	scanErr   error          // returned after scanAfter rows
	scanAfter int
}

func (f *fakeSource) CountBinaries(ctx context.Context) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var remaining int64
	for _, r := range f.rows {
		if r.sha2 == "" {
			remaining++
		}
	}
	return remaining, int64(len(f.rows)), nil
}

func (f *fakeSource) ScanPending(ctx context.Context, yield func(migrate.BinaryRow) error) error {
	f.mu.Lock()
	pending := make([]migrate.BinaryRow, 0, len(f.rows))
	for _, r := range f.rows {
		if r.sha2 == "" {
			pending = append(pending, migrate.BinaryRow{
				Hash: r.hash, OID: r.oid, Size: r.size, MimeType: r.mime,
			})
		}
	}
	scanErr, scanAfter := f.scanErr, f.scanAfter
	f.mu.Unlock()

	for i, row := range pending {
		if scanErr != nil && i >= scanAfter {
			return scanErr
		}
		if err := yield(row); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeSource) ReadLargeObject(ctx context.Context, oid uint32, w io.Writer) (int64, error) {
	f.mu.Lock()
	if n, ok := f.failReads[oid]; ok && n > 0 {
		f.failReads[oid] = n - 1
		f.mu.Unlock()
		return 0, errors.New("connection reset by peer")
	}
	var data []byte
	found := false
	for _, r := range f.rows {
		if r.oid != nil && *r.oid == oid && !r.missing {
			data = r.data
			found = true
			break
		}
	}
	f.mu.Unlock()

	if !found {
		return 0, fmt.Errorf("oid %d: %w", oid, migrate.ErrObjectMissing)
	}
	n, err := io.Copy(w, bytes.NewReader(data))
	return n, err
}

func (f *fakeSource) CommitHashes(ctx context.Context, objects []*migrate.Lo) (migrate.CommitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res migrate.CommitResult
	for _, lo := range objects {
		committed := false
		for _, r := range f.rows {
			if r.hash == lo.SHA1 && r.sha2 == "" {
				r.sha2 = lo.SHA2
				committed = true
				break
			}
		}
		if committed {
			res.Updated++
		} else {
			res.Stale++
		}
	}
	return res, nil
}

func (f *fakeSource) sha2For(hash string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.hash == hash {
			return r.sha2
		}
	}
	return ""
}

// fakeObject is one stored object with its metadata.
type fakeObject struct {
	data []byte
	mime string
	sha1 string
}

// fakeTarget is an in-memory Target.
type fakeTarget struct {
	mu      sync.Mutex
	objects map[string]fakeObject

	// started and release, when non-nil, gate the first Put: it closes
	// started and blocks until release is closed; used by the
	// cancellation test.
	gateOnce sync.Once
	started  chan struct{}
	release  chan struct{}
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{objects: make(map[string]fakeObject)}
}

func (f *fakeTarget) Put(ctx context.Context, req *migrate.PutRequest) error {
	if f.started != nil {
		f.gateOnce.Do(func() {
			close(f.started)
			<-f.release
		})
	}

	data, err := io.ReadAll(req.Body)
	if err != nil {
		return err
	}
	if int64(len(data)) != req.Size {
		return fmt.Errorf("payload length %d does not match request size %d", len(data), req.Size)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.objects[req.Key]; ok && int64(len(existing.data)) == req.Size {
		return nil // idempotent skip
	}
	f.objects[req.Key] = fakeObject{data: data, mime: req.MimeType, sha1: req.SHA1}
	return nil
}

func (f *fakeTarget) object(key string) (fakeObject, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[key]
	return obj, ok
}

func (f *fakeTarget) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}
