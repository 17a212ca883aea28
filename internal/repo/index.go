package repo

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/tysonmote/gommap"
)

// indexEntryLen is the on-disk width of one index record: a 32-byte key
// plus a (segment-id, offset) pair, each a big-endian uint32. Widths are
// an implementation choice per spec.md §4.2; uint32 comfortably covers a
// repository with up to 2^32 segments of up to 4GiB each.
const indexEntryLen = keyFieldLen + 4 + 4

// loadIndexFile reads every entry out of an index.<N> file into a fresh
// map. The file is memory-mapped for the scan (github.com/tysonmote/
// gommap, as the teacher's own index.go does for its offset index) since
// this is a bulk sequential read, not the incremental random-access
// pattern gommap is used for in the teacher.
func loadIndexFile(path string) (map[Key]Location, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	entries := make(map[Key]Location)
	if size == 0 {
		return entries, nil
	}
	if size%indexEntryLen != 0 {
		return nil, fmt.Errorf("repo: index file %s has size %d, not a multiple of %d", path, size, indexEntryLen)
	}

	mm, err := gommap.Map(f.Fd(), gommap.PROT_READ, gommap.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("repo: mmap index %s: %w", path, err)
	}

	for off := int64(0); off < size; off += indexEntryLen {
		var key Key
		copy(key[:], mm[off:off+keyFieldLen])
		seg := binary.BigEndian.Uint32(mm[off+keyFieldLen : off+keyFieldLen+4])
		pos := binary.BigEndian.Uint32(mm[off+keyFieldLen+4 : off+indexEntryLen])
		entries[key] = Location{Segment: seg, Offset: pos}
	}
	return entries, nil
}

// writeIndexFile persists entries to path atomically: the full content is
// built in memory, written to a temp file in the same directory, and
// renamed over the target (github.com/natefinch/atomic), after which the
// containing directory is fsynced. Entries are emitted sorted by key so
// repeated writes of the same map produce byte-identical files.
func writeIndexFile(path string, entries map[Key]Location) error {
	keys := make([]Key, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return string(keys[i][:]) < string(keys[j][:])
	})

	buf := make([]byte, 0, len(keys)*indexEntryLen)
	for _, k := range keys {
		loc := entries[k]
		var entry [indexEntryLen]byte
		copy(entry[:keyFieldLen], k[:])
		binary.BigEndian.PutUint32(entry[keyFieldLen:keyFieldLen+4], loc.Segment)
		binary.BigEndian.PutUint32(entry[keyFieldLen+4:], loc.Offset)
		buf = append(buf, entry[:]...)
	}
	if err := atomic.WriteFile(path, strings.NewReader(string(buf))); err != nil {
		return err
	}
	d, err := os.Open(filepath.Dir(path))
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
