// SPDX-License-Identifier: MPL-2.0

//go:build linux

package install

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// errFlockUnavailable is never returned on Linux.
var errFlockUnavailable = errors.New("flock not available on this platform")

// slotLock holds an exclusive flock on a cache slot's lock file. The
// kernel drops the lock when the descriptor closes, including on crash,
// so an orphaned lock file is harmless.
type slotLock struct {
	file *os.File
}

// acquireSlotLock blocks until the exclusive lock on path is held.
func acquireSlotLock(path string) (*slotLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open slot lock %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}
	return &slotLock{file: f}, nil
}

// Release unlocks and closes. It is safe on nil and repeated calls.
func (l *slotLock) Release() {
	if l == nil || l.file == nil {
		return
	}
	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	_ = l.file.Close()
	l.file = nil
}
