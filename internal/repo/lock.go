package repo

import (
	"os"
	"syscall"
)

// repoLock holds the repository's exclusive on-disk lock for the lifetime
// of an open Repository. No lock library appears anywhere in the example
// pack this module was grounded on, so this one piece is a direct,
// minimal use of the stdlib primitive (see DESIGN.md).
type repoLock struct {
	file *os.File
}

// acquireLock opens (creating if necessary) the lock file at path and
// takes a non-blocking exclusive flock on it. A second Open against an
// already-locked repository fails immediately with ErrLockFailed rather
// than waiting, matching the single-writer model in spec.md §5.
func acquireLock(path string) (*repoLock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, ErrLockFailed{Path: path}
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, ErrLockFailed{Path: path}
	}
	return &repoLock{file: f}, nil
}

// release drops the lock and closes the underlying file descriptor.
func (l *repoLock) release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	return l.file.Close()
}
