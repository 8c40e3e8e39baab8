package cmd

import (
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/surge-downloader/kadtable/internal/config"
)

var (
	instanceLock *flock.Flock
	lockMu       sync.Mutex
)

// AcquireLock takes the single-instance lock for serve. It reports false
// without error when another process holds it.
func AcquireLock() (bool, error) {
	lockMu.Lock()
	defer lockMu.Unlock()

	if instanceLock != nil && instanceLock.Locked() {
		return true, nil
	}
	l := flock.New(filepath.Join(config.GetStateDir(), "kadtable.lock"))
	ok, err := l.TryLock()
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	instanceLock = l
	return true, nil
}

// ReleaseLock drops the lock taken by AcquireLock.
func ReleaseLock() error {
	lockMu.Lock()
	defer lockMu.Unlock()

	if instanceLock == nil {
		return nil
	}
	err := instanceLock.Unlock()
	instanceLock = nil
	return err
}
