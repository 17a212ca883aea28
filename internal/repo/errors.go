package repo

import "fmt"

// ErrDoesNotExist is raised when a key has no live mapping, or when a
// delete targets a key that isn't present.
type ErrDoesNotExist struct {
	Key Key
}

func (e ErrDoesNotExist) Error() string {
	return fmt.Sprintf("repo: object does not exist: %x", e.Key)
}

// ErrIntegrityError is raised when an on-disk record fails checksum, tag,
// or key-match validation during a normal read.
type ErrIntegrityError struct {
	Key     Key
	Segment uint32
	Offset  uint32
	Reason  string
}

func (e ErrIntegrityError) Error() string {
	return fmt.Sprintf("repo: integrity error at segment %d offset %d: %s", e.Segment, e.Offset, e.Reason)
}

// ErrCheckNeeded is raised when the repository has detected an
// inconsistency and refuses normal operation until a deliberate
// check(repair=true) succeeds.
type ErrCheckNeeded struct{}

func (e ErrCheckNeeded) Error() string {
	return "repo: check needed before repository can be used"
}

// ErrLockFailed is raised when another process already holds the
// repository's exclusive lock.
type ErrLockFailed struct {
	Path string
}

func (e ErrLockFailed) Error() string {
	return fmt.Sprintf("repo: failed to acquire lock %s", e.Path)
}

// ErrAlreadyExists is raised by Open(create=true) against a populated
// directory.
type ErrAlreadyExists struct {
	Path string
}

func (e ErrAlreadyExists) Error() string {
	return fmt.Sprintf("repo: repository already exists at %s", e.Path)
}
