package devices

import "errors"

var (
	// ErrDeviceNotFound indicates the device id is unknown to the registry.
	ErrDeviceNotFound = errors.New("device: not found")
	// ErrConflict indicates a duplicate unique key.
	ErrConflict = errors.New("device: conflict")
)
