/*
Copyright (C) 2026 Aerugo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package selection

import "sync"

// deviceLocks serializes decisions per device id without blocking
// unrelated devices. Entries are reference counted and dropped once the
// last holder releases, so the map never grows past the devices that
// are actively deciding.
type deviceLocks struct {
	mu    sync.Mutex
	locks map[string]*deviceLock
}

type deviceLock struct {
	mu   sync.Mutex
	refs int
}

func newDeviceLocks() *deviceLocks {
	return &deviceLocks{locks: make(map[string]*deviceLock)}
}

// Lock blocks until the device lock is held and returns the release func.
func (d *deviceLocks) Lock(deviceID string) func() {
	d.mu.Lock()
	lock, ok := d.locks[deviceID]
	if !ok {
		lock = &deviceLock{}
		d.locks[deviceID] = lock
	}
	lock.refs++
	d.mu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()

		d.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(d.locks, deviceID)
		}
		d.mu.Unlock()
	}
}
