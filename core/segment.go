package core

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/natefinch/atomic"

	"github.com/epokhe/bitdbd/index"
)

// segment owns one append-only log file and the in-memory index built
// from it. deleteMu is the per-segment lock a reader holds while
// dereferencing this segment's fd/index, so concurrent writers to other
// segments and destruction cannot race a live read (§4.3).
type segment struct {
	id       int
	path     string
	file     *os.File
	ix       *index.Index
	deleteMu sync.Mutex
}

func sidecarPath(path string) string {
	return path + ".tb"
}

// initSegment creates (or truncates) the segment file at path and writes
// the magic header, then closes it. Fails with an io-error on any
// filesystem failure.
func initSegment(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create segment %q: %w", path, err)
	}
	defer f.Close() // nolint:errcheck

	if err := writeMagic(f); err != nil {
		return fmt.Errorf("write magic %q: %w", path, err)
	}
	return nil
}

// connectSegment opens an existing segment file, verifies its magic
// header, and attempts to load its sidecar index. A missing or corrupt
// sidecar is not fatal: the segment is connected with an empty index
// instead. No scan of the log is made, so records the sidecar did not
// cover are not indexed.
func connectSegment(id int, path string) (*segment, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open segment %q: %w", path, err)
	}

	if err := checkMagic(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("connect segment %q: %w", path, err)
	}

	seg := &segment{id: id, path: path, file: f}

	ix, err := loadSidecar(path)
	if err != nil {
		seg.ix = index.New()
	} else {
		seg.ix = ix
	}

	return seg, nil
}

// loadSidecar reads and validates path's sidecar file, returning
// ErrChecksumMismatch (or an I/O error) if it is missing or corrupt.
func loadSidecar(path string) (*index.Index, error) {
	data, err := os.ReadFile(sidecarPath(path))
	if err != nil {
		return nil, fmt.Errorf("read sidecar: %w", err)
	}

	ix, err := index.ReadSidecar(data)
	if err != nil {
		if errors.Is(err, index.ErrChecksumMismatch) {
			return nil, fmt.Errorf("%w", ErrChecksumMismatch)
		}
		return nil, fmt.Errorf("decode sidecar: %w", err)
	}
	return ix, nil
}

// isFull reports whether the segment's current size has reached maxSize
// (invariant I3). The size of the next record is not taken into account,
// so the last record written to a segment can take it past maxSize.
func (s *segment) isFull(maxSize int64) (bool, error) {
	off, err := s.file.Seek(0, io.SeekEnd)
	if err != nil {
		return false, fmt.Errorf("seek segment %d: %w", s.id, err)
	}
	return off >= maxSize, nil
}

// put appends one record to the segment and indexes its starting
// offset. The index is only updated after the write completes, so a
// crash mid-write either leaves the log unchanged or leaves a complete,
// unindexed record recoverable by a future scan.
func (s *segment) put(key, value []byte) (int64, error) {
	if len(key) > index.MaxKeyLen {
		return 0, fmt.Errorf("%w: %d bytes", ErrKeyTooLong, len(key))
	}

	off, err := s.file.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("seek segment %d: %w", s.id, err)
	}

	if _, err := writeRecord(s.file, key, value); err != nil {
		return 0, fmt.Errorf("write record on segment %d: %w", s.id, err)
	}

	if err := s.ix.Put(key, off); err != nil {
		return 0, fmt.Errorf("%w", err)
	}

	return off, nil
}

// get looks key up in the segment's index and, if present, verifies (I1)
// that the record at the indexed offset actually holds that key before
// returning its value.
func (s *segment) get(key []byte) ([]byte, error) {
	off, ok := s.ix.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: segment %d", ErrKeyNotFound, s.id)
	}

	diskKey, keyFieldLen, valLen, err := recordKeyAt(s.file, off)
	if err != nil {
		return nil, fmt.Errorf("read record header on segment %d: %w", s.id, err)
	}

	if !bytes.Equal(diskKey, key) {
		// the index pointed at a stale/foreign offset; do not mutate the
		// index, the caller may still find a valid entry elsewhere.
		return nil, fmt.Errorf("%w: segment %d", ErrKeyNotFoundOnDisk, s.id)
	}

	val, err := recordValueAt(s.file, off, keyFieldLen, valLen)
	if err != nil {
		return nil, fmt.Errorf("read record value on segment %d: %w", s.id, err)
	}
	return val, nil
}

// persistIndex serialises the segment's index to its sidecar using an
// atomic write (temp file + rename, handled by natefinch/atomic), so a
// crash mid-write leaves the previous sidecar in place rather than a
// partially-written one.
func (s *segment) persistIndex() error {
	if s.ix == nil {
		// destroyConn already released the index; keep the sidecar as is.
		return nil
	}

	var buf bytes.Buffer
	if err := index.WriteSidecar(&buf, s.ix); err != nil {
		return fmt.Errorf("encode sidecar for segment %d: %w", s.id, err)
	}

	if err := atomic.WriteFile(sidecarPath(s.path), bytes.NewReader(buf.Bytes())); err != nil {
		return fmt.Errorf("write sidecar for segment %d: %w", s.id, err)
	}
	return nil
}

// destroyConn frees the segment's in-memory index without touching the
// underlying file.
func (s *segment) destroyConn() {
	s.ix = nil
}

// close closes the segment's open file descriptor.
func (s *segment) close() error {
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close segment %d: %w", s.id, err)
	}
	return nil
}

// destroySegmentFiles unlinks a segment's log file and its sidecar.
// Primarily used by tests; the core never calls this on its own.
func destroySegmentFiles(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove segment %q: %w", path, err)
	}
	if err := os.Remove(sidecarPath(path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove sidecar %q: %w", path, err)
	}
	return nil
}
