package devices

import "context"

// DeviceRepository manages device records.
type DeviceRepository interface {
	Get(ctx context.Context, id string) (*Device, error)
	ListAccessible(ctx context.Context, userID string) ([]Device, error)
	Create(ctx context.Context, device *Device) error
	DeleteOwned(ctx context.Context, id, ownerID string) (bool, error)
	SetDeviceKey(ctx context.Context, id, key string) error
}

// AccessRepository resolves and grants device access.
type AccessRepository interface {
	Resolve(ctx context.Context, deviceID, userID string) (Access, error)
	Grant(ctx context.Context, access *DeviceAccess) error
}

// HistoryRepository reads door and alarm history.
type HistoryRepository interface {
	ListDoorEvents(ctx context.Context, deviceIDs []string, limit int) ([]DoorEvent, error)
	ListAlarmEvents(ctx context.Context, deviceIDs []string, limit int) ([]AlarmEvent, error)
}

// StateTx is a unit of work holding the device row lock.
type StateTx interface {
	Device() Device
	UpdateState(ctx context.Context, update StateUpdate) error
	InsertDoorEvent(ctx context.Context, event *DoorEvent) error
	InsertAlarmEvent(ctx context.Context, event *AlarmEvent) error
}

// StateStore runs state transitions atomically per device.
type StateStore interface {
	// WithDeviceLocked returns ErrDeviceNotFound when the device does not exist.
	WithDeviceLocked(ctx context.Context, deviceID string, fn func(ctx context.Context, tx StateTx) error) error
}

// Store bundles every registry capability.
type Store interface {
	DeviceRepository
	AccessRepository
	HistoryRepository
	StateStore
	Ping(ctx context.Context) error
}
