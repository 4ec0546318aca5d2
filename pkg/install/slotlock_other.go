// SPDX-License-Identifier: MPL-2.0

//go:build !linux

package install

import "errors"

// errFlockUnavailable makes the cache fall back to in-process locking only.
var errFlockUnavailable = errors.New("flock not available on this platform")

// slotLock is the non-Linux stub.
type slotLock struct{}

func acquireSlotLock(string) (*slotLock, error) {
	return nil, errFlockUnavailable
}

// Release is a no-op.
func (l *slotLock) Release() {}
