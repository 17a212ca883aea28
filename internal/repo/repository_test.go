package repo_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	. "github.com/elho/borg/internal/repo"
)

func setupRepository(t *testing.T) *Repository {
	t.Helper()
	r, err := NewRepository(t.TempDir(), Config{})
	require.NoError(t, err)
	require.NoError(t, r.Open(context.Background(), true))
	t.Cleanup(func() { r.Close(context.Background()) })
	return r
}

func TestPutCommitGet(t *testing.T) {
	ctx := context.Background()
	r := setupRepository(t)

	key := Key{1, 2, 3}
	require.NoError(t, r.Put(ctx, key, []byte("hello")))
	require.NoError(t, r.Commit(ctx))

	got, err := r.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)
}

func TestPutVisibleBeforeCommit(t *testing.T) {
	ctx := context.Background()
	r := setupRepository(t)

	key := Key{4}
	require.NoError(t, r.Put(ctx, key, []byte("staged")))

	got, err := r.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, []byte("staged"), got)
}

func TestDeleteMakesKeyInvisible(t *testing.T) {
	ctx := context.Background()
	r := setupRepository(t)

	key := Key{5}
	require.NoError(t, r.Put(ctx, key, []byte("x")))
	require.NoError(t, r.Commit(ctx))
	require.NoError(t, r.Delete(ctx, key))
	require.NoError(t, r.Commit(ctx))

	_, err := r.Get(ctx, key)
	require.Error(t, err)
	require.IsType(t, ErrDoesNotExist{}, err)
}

func TestDeleteOfMissingKeyFails(t *testing.T) {
	ctx := context.Background()
	r := setupRepository(t)

	err := r.Delete(ctx, Key{99})
	require.Error(t, err)
	require.IsType(t, ErrDoesNotExist{}, err)
}

func TestRollbackDiscardsPendingWrites(t *testing.T) {
	ctx := context.Background()
	r := setupRepository(t)

	key := Key{6}
	require.NoError(t, r.Put(ctx, key, []byte("x")))
	require.NoError(t, r.Rollback(ctx))

	_, err := r.Get(ctx, key)
	require.Error(t, err)
	require.IsType(t, ErrDoesNotExist{}, err)
}

func TestRollbackDiscardsPendingDelete(t *testing.T) {
	ctx := context.Background()
	r := setupRepository(t)

	key := Key{7}
	require.NoError(t, r.Put(ctx, key, []byte("x")))
	require.NoError(t, r.Commit(ctx))

	require.NoError(t, r.Delete(ctx, key))
	require.NoError(t, r.Rollback(ctx))

	got, err := r.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, []byte("x"), got)
}

func TestCommitWithNoPendingChangesIsNoOp(t *testing.T) {
	ctx := context.Background()
	r := setupRepository(t)
	require.NoError(t, r.Commit(ctx))
	require.NoError(t, r.Commit(ctx))
}

// TestSingleKindTransactions exercises transactions containing only puts
// and transactions containing only deletes, independently.
func TestSingleKindTransactions(t *testing.T) {
	ctx := context.Background()
	r := setupRepository(t)

	keys := []Key{{10}, {11}, {12}}
	for _, k := range keys {
		require.NoError(t, r.Put(ctx, k, []byte("v")))
	}
	require.NoError(t, r.Commit(ctx))

	for _, k := range keys {
		_, err := r.Get(ctx, k)
		require.NoError(t, err)
	}

	for _, k := range keys {
		require.NoError(t, r.Delete(ctx, k))
	}
	require.NoError(t, r.Commit(ctx))

	for _, k := range keys {
		_, err := r.Get(ctx, k)
		require.Error(t, err)
	}
}

func TestIterateVisitsCommittedKeysOnly(t *testing.T) {
	ctx := context.Background()
	r := setupRepository(t)

	require.NoError(t, r.Put(ctx, Key{20}, []byte("a")))
	require.NoError(t, r.Commit(ctx))
	require.NoError(t, r.Put(ctx, Key{21}, []byte("b")))

	var seen []Key
	require.NoError(t, r.Iterate(ctx, func(k Key) bool {
		seen = append(seen, k)
		return true
	}))

	require.Equal(t, []Key{{20}}, seen)
}

func TestReopenLoadsCommittedState(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	r1, err := NewRepository(dir, Config{})
	require.NoError(t, err)
	require.NoError(t, r1.Open(ctx, true))
	require.NoError(t, r1.Put(ctx, Key{30}, []byte("persisted")))
	require.NoError(t, r1.Commit(ctx))
	require.NoError(t, r1.Close(ctx))

	r2, err := NewRepository(dir, Config{})
	require.NoError(t, err)
	require.NoError(t, r2.Open(ctx, false))
	defer r2.Close(ctx)

	got, err := r2.Get(ctx, Key{30})
	require.NoError(t, err)
	require.Equal(t, []byte("persisted"), got)
}

func TestSecondOpenFailsWhileLocked(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	r1, err := NewRepository(dir, Config{})
	require.NoError(t, err)
	require.NoError(t, r1.Open(ctx, true))
	defer r1.Close(ctx)

	r2, err := NewRepository(dir, Config{})
	require.NoError(t, err)
	err = r2.Open(ctx, false)
	require.Error(t, err)
	require.IsType(t, ErrLockFailed{}, err)
}
