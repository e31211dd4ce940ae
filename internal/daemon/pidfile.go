package daemon

import (
	"fmt"
	"os"
	"strconv"

	"github.com/gofrs/flock"
)

// PIDFile pairs the conventional pid file with a flock-held companion
// lock file. The lock makes a second daemon started against the same
// pid file fail fast instead of silently fighting over children.
type PIDFile struct {
	path string
	lock *flock.Flock
}

// AcquirePIDFile takes the instance lock and writes the current pid.
// An empty path disables pid file handling entirely.
func AcquirePIDFile(path string) (*PIDFile, error) {
	if path == "" {
		return &PIDFile{}, nil
	}

	lk := flock.New(path + ".lock")
	ok, err := lk.TryLock()
	if err != nil {
		return nil, fmt.Errorf("cannot lock pid file: %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("another instance is running (pid file %s is locked)", path)
	}

	data := []byte(strconv.Itoa(os.Getpid()) + "\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		_ = lk.Unlock()
		return nil, fmt.Errorf("cannot write pid file: %s: %w", path, err)
	}

	return &PIDFile{path: path, lock: lk}, nil
}

// Release removes the pid file and drops the lock.
func (p *PIDFile) Release() {
	if p == nil || p.path == "" {
		return
	}
	_ = os.Remove(p.path)
	if p.lock != nil {
		_ = p.lock.Unlock()
		_ = os.Remove(p.lock.Path())
	}
}

// Path returns the pid file path, empty when disabled.
func (p *PIDFile) Path() string { return p.path }
