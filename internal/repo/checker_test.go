package repo_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	. "github.com/elho/borg/internal/repo"
)

// segmentFilePath replicates the bucket layout a repository stores its
// segment files under (data/<id/FANOUT>/<id>), so tests can reach into a
// real segment file without Check's own machinery.
func segmentFilePath(dir string, id uint32) string {
	bucket := strconv.FormatUint(uint64(id/FANOUT), 10)
	return filepath.Join(dir, "data", bucket, strconv.FormatUint(uint64(id), 10))
}

// corruptLastByteBeforeTrailingCommit flips the last byte of a segment
// file's final non-commit record, the one immediately preceding its
// trailing bare COMMIT. A bare COMMIT is always exactly 9 bytes
// (size+crc+tag, no body), so that much is skipped from the end.
func corruptLastByteBeforeTrailingCommit(t *testing.T, path string) {
	t.Helper()
	const bareCommitRecordLen = 9
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	i := len(data) - bareCommitRecordLen - 1
	require.GreaterOrEqual(t, i, 0)
	data[i] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func TestCheckHealthyRepository(t *testing.T) {
	ctx := context.Background()
	r := setupRepository(t)

	require.NoError(t, r.Put(ctx, Key{1}, []byte("a")))
	require.NoError(t, r.Commit(ctx))

	report, err := r.Check(ctx, CheckOptions{})
	require.NoError(t, err)
	require.True(t, report.Healthy)
	require.False(t, report.Repaired)
}

// TestCheckRepairIsIdempotent runs check(repair=true) twice in a row
// against a clean repository and expects the second pass to find nothing
// left to fix.
func TestCheckRepairIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r := setupRepository(t)

	require.NoError(t, r.Put(ctx, Key{1}, []byte("a")))
	require.NoError(t, r.Commit(ctx))

	first, err := r.Check(ctx, CheckOptions{Repair: true})
	require.NoError(t, err)

	second, err := r.Check(ctx, CheckOptions{Repair: true})
	require.NoError(t, err)

	require.True(t, second.Healthy)
	require.False(t, second.Repaired)
	require.Equal(t, first.Healthy, second.Healthy)
}

func TestCheckDetectsUncommittedTailWithoutRepair(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	r, err := NewRepository(dir, Config{})
	require.NoError(t, err)
	require.NoError(t, r.Open(ctx, true))

	require.NoError(t, r.Put(ctx, Key{1}, []byte("a")))
	require.NoError(t, r.Commit(ctx))
	require.NoError(t, r.Put(ctx, Key{2}, []byte("b")))
	// Never committed: simulate a crash mid-transaction by closing without
	// rolling back or committing.
	require.NoError(t, r.Close(ctx))

	r2, err := NewRepository(dir, Config{})
	require.NoError(t, err)
	require.NoError(t, r2.Open(ctx, false))
	defer r2.Close(ctx)

	report, err := r2.Check(ctx, CheckOptions{})
	require.NoError(t, err)
	require.False(t, report.Healthy)
	require.NotEmpty(t, report.Issues)
}

func TestCheckRepairsUncommittedTail(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	r, err := NewRepository(dir, Config{})
	require.NoError(t, err)
	require.NoError(t, r.Open(ctx, true))
	require.NoError(t, r.Put(ctx, Key{1}, []byte("a")))
	require.NoError(t, r.Commit(ctx))
	require.NoError(t, r.Put(ctx, Key{2}, []byte("b")))
	require.NoError(t, r.Close(ctx))

	r2, err := NewRepository(dir, Config{})
	require.NoError(t, err)
	require.NoError(t, r2.Open(ctx, false))
	defer r2.Close(ctx)

	report, err := r2.Check(ctx, CheckOptions{Repair: true})
	require.NoError(t, err)
	require.True(t, report.Repaired)

	_, err = r2.Get(ctx, Key{1})
	require.NoError(t, err)
	_, err = r2.Get(ctx, Key{2})
	require.Error(t, err)
	require.IsType(t, ErrDoesNotExist{}, err)
}

func TestOperationsRejectedUntilCheckRepairs(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	r, err := NewRepository(dir, Config{})
	require.NoError(t, err)
	require.NoError(t, r.Open(ctx, true))
	require.NoError(t, r.Put(ctx, Key{1}, []byte("a")))
	require.NoError(t, r.Commit(ctx))
	require.NoError(t, r.Close(ctx))

	// Forge a bogus second index file so Open flags check-needed.
	indexPath := dir + "/index.1"
	require.NoError(t, os.WriteFile(indexPath, make([]byte, 40), 0644))

	r2, err := NewRepository(dir, Config{})
	require.NoError(t, err)
	require.NoError(t, r2.Open(ctx, false))
	defer r2.Close(ctx)

	_, err = r2.Get(ctx, Key{1})
	require.Error(t, err)
	require.IsType(t, ErrCheckNeeded{}, err)

	_, err = r2.Check(ctx, CheckOptions{Repair: true})
	require.NoError(t, err)

	_, err = r2.Get(ctx, Key{1})
	require.NoError(t, err)
}

// TestCheckRepairsCorruptedRecordInEarlierSegment puts each transaction in
// its own segment (Commit always rotates), corrupts the tail of the
// earlier, already-committed one, and checks that the later segment's own
// commit is still what Check treats as the log's head.
func TestCheckRepairsCorruptedRecordInEarlierSegment(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	r, err := NewRepository(dir, Config{})
	require.NoError(t, err)
	require.NoError(t, r.Open(ctx, true))
	require.NoError(t, r.Put(ctx, Key{1}, []byte("a")))
	require.NoError(t, r.Put(ctx, Key{2}, []byte("b")))
	require.NoError(t, r.Put(ctx, Key{3}, []byte("c")))
	require.NoError(t, r.Commit(ctx))
	require.NoError(t, r.Put(ctx, Key{4}, []byte("d")))
	require.NoError(t, r.Put(ctx, Key{5}, []byte("e")))
	require.NoError(t, r.Put(ctx, Key{6}, []byte("f")))
	require.NoError(t, r.Commit(ctx))
	require.NoError(t, r.Close(ctx))

	// The first transaction landed entirely in segment 0, the second in
	// segment 1 (rotation happens at Commit, not mid-transaction).
	corruptLastByteBeforeTrailingCommit(t, segmentFilePath(dir, 0))

	r2, err := NewRepository(dir, Config{})
	require.NoError(t, err)
	require.NoError(t, r2.Open(ctx, false))
	defer r2.Close(ctx)

	_, err = r2.Get(ctx, Key{3})
	require.Error(t, err)
	require.IsType(t, ErrIntegrityError{}, err)

	report, err := r2.Check(ctx, CheckOptions{})
	require.NoError(t, err)
	require.False(t, report.Healthy)

	report, err = r2.Check(ctx, CheckOptions{})
	require.NoError(t, err)
	require.False(t, report.Healthy)

	report, err = r2.Check(ctx, CheckOptions{Repair: true})
	require.NoError(t, err)
	require.True(t, report.Repaired)

	_, err = r2.Get(ctx, Key{1})
	require.NoError(t, err)
	_, err = r2.Get(ctx, Key{2})
	require.NoError(t, err)
	_, err = r2.Get(ctx, Key{3})
	require.Error(t, err)
	require.IsType(t, ErrDoesNotExist{}, err)
	for _, k := range []Key{{4}, {5}, {6}} {
		_, err := r2.Get(ctx, k)
		require.NoError(t, err)
	}
}

// TestCheckRepairsMissingCommittedSegment deletes a whole committed
// segment's store file outright. It deletes the higher-numbered of the
// two segments, not the lower: losing the lower segment's keys can never
// be recovered by any repair, so only the higher one is a scenario repair
// can meaningfully resolve.
func TestCheckRepairsMissingCommittedSegment(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	r, err := NewRepository(dir, Config{})
	require.NoError(t, err)
	require.NoError(t, r.Open(ctx, true))
	require.NoError(t, r.Put(ctx, Key{1}, []byte("a")))
	require.NoError(t, r.Put(ctx, Key{2}, []byte("b")))
	require.NoError(t, r.Put(ctx, Key{3}, []byte("c")))
	require.NoError(t, r.Commit(ctx))
	require.NoError(t, r.Put(ctx, Key{4}, []byte("d")))
	require.NoError(t, r.Put(ctx, Key{5}, []byte("e")))
	require.NoError(t, r.Put(ctx, Key{6}, []byte("f")))
	require.NoError(t, r.Commit(ctx))
	require.NoError(t, r.Close(ctx))

	require.NoError(t, os.Remove(segmentFilePath(dir, 1)))

	r2, err := NewRepository(dir, Config{})
	require.NoError(t, err)
	require.NoError(t, r2.Open(ctx, false))
	defer r2.Close(ctx)

	_, err = r2.Get(ctx, Key{4})
	require.Error(t, err)
	require.IsType(t, ErrCheckNeeded{}, err)

	report, err := r2.Check(ctx, CheckOptions{})
	require.NoError(t, err)
	require.False(t, report.Healthy)

	report, err = r2.Check(ctx, CheckOptions{Repair: true})
	require.NoError(t, err)
	require.True(t, report.Repaired)

	for _, k := range []Key{{1}, {2}, {3}} {
		_, err := r2.Get(ctx, k)
		require.NoError(t, err)
	}
	for _, k := range []Key{{4}, {5}, {6}} {
		_, err := r2.Get(ctx, k)
		require.Error(t, err)
		require.IsType(t, ErrDoesNotExist{}, err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "index.*"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
}

// TestCheckRepairsStaleIndexAfterRename renames the live index file to a
// name that no longer matches the log's actual latest committed segment,
// simulating a crash that leaves the wrong index name behind.
func TestCheckRepairsStaleIndexAfterRename(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	r, err := NewRepository(dir, Config{})
	require.NoError(t, err)
	require.NoError(t, r.Open(ctx, true))
	require.NoError(t, r.Put(ctx, Key{1}, []byte("a")))
	require.NoError(t, r.Commit(ctx))
	require.NoError(t, r.Put(ctx, Key{4}, []byte("d")))
	require.NoError(t, r.Commit(ctx))
	require.NoError(t, r.Close(ctx))

	matches, err := filepath.Glob(filepath.Join(dir, "index.*"))
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "index.1")}, matches)
	require.NoError(t, os.Rename(filepath.Join(dir, "index.1"), filepath.Join(dir, "index.0")))

	r2, err := NewRepository(dir, Config{})
	require.NoError(t, err)
	require.NoError(t, r2.Open(ctx, false))
	defer r2.Close(ctx)

	_, err = r2.Get(ctx, Key{4})
	require.Error(t, err)
	require.IsType(t, ErrCheckNeeded{}, err)

	report, err := r2.Check(ctx, CheckOptions{Repair: true})
	require.NoError(t, err)
	require.True(t, report.Repaired)

	matches, err = filepath.Glob(filepath.Join(dir, "index.*"))
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "index.2")}, matches)

	_, err = r2.Get(ctx, Key{1})
	require.NoError(t, err)
	_, err = r2.Get(ctx, Key{4})
	require.NoError(t, err)
}
