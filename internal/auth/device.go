package auth

import (
	"context"
	"errors"

	devices "wardex-cloud/internal/devices/domain"
)

// AccessResolver reports how a user relates to a device.
type AccessResolver interface {
	Resolve(ctx context.Context, deviceID, userID string) (devices.Access, error)
}

// DeviceAccessChecker gates device-scoped operations.
type DeviceAccessChecker struct {
	resolver AccessResolver
}

// NewDeviceAccessChecker constructs a DeviceAccessChecker.
func NewDeviceAccessChecker(resolver AccessResolver) (*DeviceAccessChecker, error) {
	if resolver == nil {
		return nil, errors.New("device access checker: nil resolver")
	}
	return &DeviceAccessChecker{resolver: resolver}, nil
}

// EnsureDeviceAccess allows the owner or any user holding a grant.
func (c *DeviceAccessChecker) EnsureDeviceAccess(ctx context.Context, userID, deviceID string) error {
	access, err := c.resolve(ctx, userID, deviceID)
	if err != nil {
		return err
	}
	if !access.Granted() {
		return ErrNotFoundOrForbidden
	}
	return nil
}

// EnsureDeviceOwner allows only the owner.
func (c *DeviceAccessChecker) EnsureDeviceOwner(ctx context.Context, userID, deviceID string) error {
	access, err := c.resolve(ctx, userID, deviceID)
	if err != nil {
		return err
	}
	if !access.DeviceExists || !access.Owner {
		return ErrNotFoundOrForbidden
	}
	return nil
}

func (c *DeviceAccessChecker) resolve(ctx context.Context, userID, deviceID string) (devices.Access, error) {
	if c == nil || c.resolver == nil {
		return devices.Access{}, errors.New("device access checker: not configured")
	}
	if userID == "" || deviceID == "" {
		return devices.Access{}, ErrNotFoundOrForbidden
	}
	return c.resolver.Resolve(ctx, deviceID, userID)
}
