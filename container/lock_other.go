//go:build !unix

package container

import (
	"errors"
	"fmt"
	"os"
)

// fileLock falls back to exclusive lock-file creation on platforms
// without flock semantics.
type fileLock struct {
	path string
}

func acquireLock(path string) (*fileLock, error) {
	lockPath := path + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	f.Close()

	return &fileLock{path: lockPath}, nil
}

func (l *fileLock) release() error {
	if l == nil || l.path == "" {
		return nil
	}
	err := os.Remove(l.path)
	l.path = ""
	return err
}
