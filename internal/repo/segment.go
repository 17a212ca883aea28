package repo

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
)

// DefaultMaxSegmentBytes bounds the store file size the active segment will
// grow to before the log rotates to a fresh one.
const DefaultMaxSegmentBytes = 64 << 20 // 64 MiB

// segment wraps the single append-only store file for one segment id. It is
// used only for the currently active (highest-id) segment; committed
// segments are read through the stateless helpers below instead of being
// held open, since an object repository may accumulate far more segments
// than a process wants live file descriptors for.
type segment struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	size uint64
	id   uint32
	path string
}

// openSegment opens (creating if necessary) the store file for id at path
// in read/write/append mode and primes its size from the file's current
// length, mirroring the teacher's store.go recovery-on-restart behavior.
func openSegment(path string, id uint32) (*segment, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("repo: open segment %d: %w", id, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("repo: stat segment %d: %w", id, err)
	}
	return &segment{
		file: f,
		buf:  bufio.NewWriter(f),
		size: uint64(fi.Size()),
		id:   id,
		path: path,
	}, nil
}

// append writes a fully-framed record to the segment and returns the
// offset at which it starts.
func (s *segment) append(framed []byte) (offset uint32, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offset = uint32(s.size)
	if _, err := s.buf.Write(framed); err != nil {
		return 0, fmt.Errorf("repo: append to segment %d: %w", s.id, err)
	}
	s.size += uint64(len(framed))
	return offset, nil
}

// currentSize returns the segment's current logical length, including buffered
// but not-yet-flushed bytes.
func (s *segment) currentSize() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// flush pushes buffered writes to the OS without fsyncing.
func (s *segment) flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Flush()
}

// sync flushes and fsyncs the segment's store file. Directory fsync for
// rotation/commit durability is the caller's (Log's) responsibility since
// it knows the parent directory.
func (s *segment) sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.buf.Flush(); err != nil {
		return err
	}
	return s.file.Sync()
}

// truncate drops the segment to exactly n bytes, discarding any buffered
// writes beyond that point. Used by rollback to discard an uncommitted
// tail and by repair to drop trailing garbage after the last COMMIT.
func (s *segment) truncate(n uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Reset(s.file)
	if err := s.file.Truncate(int64(n)); err != nil {
		return fmt.Errorf("repo: truncate segment %d to %d: %w", s.id, n, err)
	}
	s.size = uint64(n)
	return nil
}

func (s *segment) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.buf.Flush(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

// readRecordAt opens path fresh, reads the length-prefixed record starting
// at offset, and decodes it. Returns io.EOF if offset is at or past the
// end of the file.
func readRecordAt(path string, offset uint32) (record, error) {
	f, err := os.Open(path)
	if err != nil {
		return record{}, err
	}
	defer f.Close()
	rec, _, err := readRecordFrom(f, offset)
	return rec, err
}

// readRecordFrom reads and decodes the record starting at offset, also
// returning its total on-disk length so callers can advance past it
// without re-deriving that from the decoded fields.
func readRecordFrom(f *os.File, offset uint32) (record, uint32, error) {
	sizeBuf := make([]byte, sizeFieldLen)
	if _, err := f.ReadAt(sizeBuf, int64(offset)); err != nil {
		if err == io.EOF {
			return record{}, 0, io.EOF
		}
		return record{}, 0, fmt.Errorf("repo: read size at offset %d: %w", offset, err)
	}
	total := binary.BigEndian.Uint32(sizeBuf)
	if total < headerLen {
		return record{}, 0, fmt.Errorf("repo: impossible record size %d at offset %d", total, offset)
	}
	buf := make([]byte, total)
	copy(buf, sizeBuf)
	if _, err := f.ReadAt(buf[sizeFieldLen:], int64(offset)+sizeFieldLen); err != nil {
		return record{}, 0, fmt.Errorf("repo: read record body at offset %d: %w", offset, err)
	}
	rec, err := unmarshalRecord(buf)
	if err != nil {
		return record{}, 0, err
	}
	return rec, total, nil
}

// scanResult summarizes a well-formedness scan of one segment file.
type scanResult struct {
	// validLen is the number of bytes, from the start of the file, that
	// parse as a clean sequence of records (the well-formed prefix).
	validLen uint32
	// lastCommitEnd is the byte offset immediately after the last COMMIT
	// record found in the well-formed prefix, or 0 if none was found.
	lastCommitEnd uint32
	// truncated is true if validLen is less than the file's actual size,
	// meaning a checksum/length failure was hit before EOF.
	truncated bool
}

// scanSegment iterates every record in path from offset 0, calling fn for
// each well-formed record in order, and stops at the first parse failure
// or EOF. fn may return false to stop iteration early without that being
// treated as corruption.
func scanSegment(path string, fn func(offset uint32, rec record) bool) (scanResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return scanResult{}, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return scanResult{}, err
	}
	fileSize := uint32(fi.Size())

	var res scanResult
	var offset uint32
	stoppedByFn := false
	for offset < fileSize {
		rec, recLen, err := readRecordFrom(f, offset)
		if err != nil {
			break
		}
		if offset+recLen > fileSize || offset+recLen < offset {
			break
		}
		start := offset
		offset += recLen
		res.validLen = offset
		if rec.tag == tagCommit {
			res.lastCommitEnd = offset
		}
		if fn != nil && !fn(start, rec) {
			stoppedByFn = true
			break
		}
	}
	res.truncated = !stoppedByFn && res.validLen < fileSize
	return res, nil
}
