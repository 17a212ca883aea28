package repo

import "context"

// CheckOptions controls a Check invocation.
type CheckOptions struct {
	// Repair, if true, fixes any inconsistency found instead of only
	// reporting it.
	Repair bool
}

// CheckReport summarizes the outcome of one Check call.
type CheckReport struct {
	// Healthy is true if no inconsistency was found (before any repair).
	Healthy bool
	// Issues lists, in human-readable form, every inconsistency found.
	Issues []string
	// Repaired is true if Repair was requested and at least one issue was
	// fixed.
	Repaired bool
	// SegmentsRemoved counts segment files deleted during repair; a
	// segment that is only truncated is not counted.
	SegmentsRemoved int
	// IndexRebuilt is true if the index file was regenerated from a replay
	// of the committed log rather than loaded as-is.
	IndexRebuilt bool
}

// Backend is the operation surface a content-addressed object repository
// exposes, satisfied identically by a local Repository and by the gRPC
// client in internal/rpc so callers can be written against either without
// caring which they hold — the "contract equivalence" requirement.
type Backend interface {
	// Open acquires the repository's exclusive lock and loads its index
	// into memory. It must be called before any other method and exactly
	// once per Backend value. If create is true, a repository is
	// bootstrapped at the target location, failing with ErrAlreadyExists
	// if one is already there; if create is false, opening a location
	// that holds no repository fails instead of implicitly creating one.
	Open(ctx context.Context, create bool) error

	// Close flushes any pending segment writes and releases the lock.
	// Open/Close are not reentrant.
	Close(ctx context.Context) error

	// Put stages a write of payload under key, visible to Get within the
	// same transaction but not durable until Commit.
	Put(ctx context.Context, key Key, payload []byte) error

	// Get returns the payload for key, consulting the pending transaction
	// overlay before the committed snapshot. It returns ErrDoesNotExist if
	// key is absent or has been deleted in this transaction.
	Get(ctx context.Context, key Key) ([]byte, error)

	// Delete stages removal of key. It returns ErrDoesNotExist if key is
	// not visible (committed or pending) at call time.
	Delete(ctx context.Context, key Key) error

	// Commit durably applies every staged Put/Delete as one atomic unit:
	// a COMMIT record is appended and synced, then the index is rewritten
	// to reflect the new state.
	Commit(ctx context.Context) error

	// Rollback discards every staged Put/Delete, truncating the active
	// segment back to its pre-transaction length.
	Rollback(ctx context.Context) error

	// Check validates repository consistency per spec.md §4.4, optionally
	// repairing what it finds.
	Check(ctx context.Context, opts CheckOptions) (CheckReport, error)

	// Iterate calls fn once per key in the last committed snapshot (the
	// pending transaction overlay is not reflected), in unspecified
	// order, stopping early if fn returns false.
	Iterate(ctx context.Context, fn func(key Key) bool) error
}
