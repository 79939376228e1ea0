package application

import "sync"

// DeviceLocks serializes work per device id within the process.
type DeviceLocks struct {
	mu    sync.Mutex
	locks map[string]*deviceLock
}

type deviceLock struct {
	mu   sync.Mutex
	refs int
}

// NewDeviceLocks constructs an empty lock table.
func NewDeviceLocks() *DeviceLocks {
	return &DeviceLocks{locks: make(map[string]*deviceLock)}
}

// Lock blocks until the device lock is held and returns its release func.
func (l *DeviceLocks) Lock(deviceID string) func() {
	l.mu.Lock()
	lock := l.locks[deviceID]
	if lock == nil {
		lock = &deviceLock{}
		l.locks[deviceID] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, deviceID)
		}
		l.mu.Unlock()
	}
}

// Len returns the number of devices with a held or awaited lock.
func (l *DeviceLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// Do runs fn while holding the device lock. The lock is released even if fn panics.
func (l *DeviceLocks) Do(deviceID string, fn func() error) error {
	unlock := l.Lock(deviceID)
	defer unlock()
	return fn()
}
