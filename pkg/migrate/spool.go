package migrate

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// spool buffers a payload in memory up to a limit and spills to a uniquely
// named scratch file in the system temp directory once the limit would be
// exceeded. It implements io.Writer so the receiver can tee the Large Object
// stream into the digest and the spool in one pass.
type spool struct {
	limit int64
	n     int64
	buf   bytes.Buffer
	file  *os.File
	path  string
}

func newSpool(limit int64) *spool {
	return &spool{limit: limit}
}

func (s *spool) Write(p []byte) (int, error) {
	if s.file == nil && s.n+int64(len(p)) > s.limit {
		if err := s.spill(); err != nil {
			return 0, err
		}
	}
	var (
		n   int
		err error
	)
	if s.file != nil {
		n, err = s.file.Write(p)
	} else {
		n, err = s.buf.Write(p)
	}
	s.n += int64(n)
	return n, err
}

// spill moves the already-buffered bytes into a fresh scratch file;
// subsequent writes append to the file.
func (s *spool) spill() error {
	path := filepath.Join(os.TempDir(), "lo_migrate."+uuid.NewString())
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("failed to create scratch file: %w", err)
	}
	if _, err := f.Write(s.buf.Bytes()); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to flush buffer to scratch file %s: %w", path, err)
	}
	s.buf.Reset()
	s.file = f
	s.path = path
	return nil
}

// bind attaches the spooled payload to the descriptor. The descriptor takes
// ownership of the scratch file, if any.
func (s *spool) bind(lo *Lo) error {
	if s.file != nil {
		if err := s.file.Sync(); err != nil {
			s.discard()
			return fmt.Errorf("failed to sync scratch file %s: %w", s.path, err)
		}
		lo.setFilePayload(s.file, s.path)
		s.file = nil
		s.path = ""
		return nil
	}
	lo.setMemoryPayload(s.buf.Bytes())
	return nil
}

// discard drops everything spooled so far, removing the scratch file when
// one was created. Safe to call after bind (it is then a no-op).
func (s *spool) discard() {
	if s.file != nil {
		s.file.Close()
		os.Remove(s.path)
		s.file = nil
		s.path = ""
	}
	s.buf.Reset()
	s.n = 0
}
