//go:build !unix

package tracker

import (
	"fmt"
	"os"
)

// fileLock falls back to an exclusively created lock file where flock is
// not available. A crashed run leaves the file behind.
type fileLock struct {
	f    *os.File
	path string
}

func lockFile(path string) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}
	return &fileLock{f: f, path: path}, nil
}

func (l *fileLock) unlock() error {
	l.f.Close()
	return os.Remove(l.path)
}
