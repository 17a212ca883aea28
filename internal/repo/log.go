package repo

import (
	"fmt"
	"os"
)

// log owns the append-only sequence of segments that make up a
// repository's storage. Only the active (highest-id) segment is ever
// held open for writing; older segments are addressed by id and read
// through the stateless helpers in segment.go, mirroring the teacher's
// Log type but keyed by segment id rather than record offset.
type log struct {
	dir layout

	maxSegmentBytes uint64

	active *segment
}

// newLog opens (or creates) the log rooted at dir. If the repository
// already has segments on disk, the highest-numbered one is reopened as
// active; otherwise a brand-new segment 0 is created.
func newLog(dir layout, maxSegmentBytes uint64) (*log, error) {
	if maxSegmentBytes == 0 {
		maxSegmentBytes = DefaultMaxSegmentBytes
	}
	l := &log{dir: dir, maxSegmentBytes: maxSegmentBytes}

	ids, err := dir.listSegmentIDs()
	if err != nil {
		return nil, fmt.Errorf("repo: list segments: %w", err)
	}

	var activeID uint32
	if len(ids) > 0 {
		activeID = ids[len(ids)-1]
	}
	if err := os.MkdirAll(dir.bucketDir(activeID), 0755); err != nil {
		return nil, fmt.Errorf("repo: create bucket dir: %w", err)
	}
	seg, err := openSegment(dir.segmentPath(activeID), activeID)
	if err != nil {
		return nil, err
	}
	l.active = seg
	return l, nil
}

// append writes a fully-framed record to the active segment, rotating to
// a new segment first if the write would push it past maxSegmentBytes.
// It returns the Location the record landed at.
func (lg *log) append(framed []byte) (Location, error) {
	if lg.active.currentSize()+uint64(len(framed)) > lg.maxSegmentBytes && lg.active.currentSize() > 0 {
		if err := lg.rotate(); err != nil {
			return Location{}, err
		}
	}
	offset, err := lg.active.append(framed)
	if err != nil {
		return Location{}, err
	}
	return Location{Segment: lg.active.id, Offset: offset}, nil
}

// rotate fsyncs and closes the current active segment, opens a fresh
// one at the next id and fsyncs the bucket directory that holds it,
// without writing a COMMIT — callers decide when to commit, exactly as
// the record framing requires.
func (lg *log) rotate() error {
	if err := lg.active.sync(); err != nil {
		return fmt.Errorf("repo: sync segment %d before rotate: %w", lg.active.id, err)
	}
	if err := lg.active.close(); err != nil {
		return fmt.Errorf("repo: close segment %d before rotate: %w", lg.active.id, err)
	}
	nextID := lg.active.id + 1
	if err := os.MkdirAll(lg.dir.bucketDir(nextID), 0755); err != nil {
		return fmt.Errorf("repo: create bucket dir for segment %d: %w", nextID, err)
	}
	seg, err := openSegment(lg.dir.segmentPath(nextID), nextID)
	if err != nil {
		return err
	}
	lg.active = seg
	d, err := os.Open(lg.dir.bucketDir(nextID))
	if err != nil {
		return fmt.Errorf("repo: open bucket dir for segment %d: %w", nextID, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("repo: sync bucket dir for segment %d: %w", nextID, err)
	}
	return nil
}

// sync flushes and fsyncs the active segment's store file.
func (lg *log) sync() error {
	return lg.active.sync()
}

// activeID reports the segment id currently accepting writes.
func (lg *log) activeID() uint32 {
	return lg.active.id
}

// readAt reads and decodes the record at (segment, offset), opening that
// segment's store file fresh — segment ids other than the active one are
// read this way rather than kept open.
func (lg *log) readAt(loc Location) (record, error) {
	return readRecordAt(lg.dir.segmentPath(loc.Segment), loc.Offset)
}

// close flushes and closes the active segment.
func (lg *log) close() error {
	return lg.active.close()
}

// resetActiveTo closes whatever segment is currently active (its file may
// already have been removed from disk by a repair pass) and reopens id as
// the new active segment. Used after Check/repair has decided which
// segment is now the tip of the log.
func (lg *log) resetActiveTo(id uint32) error {
	if lg.active != nil {
		_ = lg.active.close()
	}
	seg, err := openSegment(lg.dir.segmentPath(id), id)
	if err != nil {
		return err
	}
	lg.active = seg
	return nil
}

// rollbackTo discards everything appended since (startID, startOffset):
// any segment created after startID is deleted outright, and the segment
// at startID is truncated back to startOffset and reopened as active.
func (lg *log) rollbackTo(startID, startOffset uint32) error {
	if lg.active.id == startID {
		return lg.active.truncate(startOffset)
	}
	if err := lg.active.close(); err != nil {
		return fmt.Errorf("repo: close segment %d during rollback: %w", lg.active.id, err)
	}
	for id := lg.active.id; id > startID; id-- {
		if err := os.Remove(lg.dir.segmentPath(id)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("repo: remove segment %d during rollback: %w", id, err)
		}
	}
	seg, err := openSegment(lg.dir.segmentPath(startID), startID)
	if err != nil {
		return err
	}
	if err := seg.truncate(startOffset); err != nil {
		seg.close()
		return err
	}
	lg.active = seg
	return nil
}
