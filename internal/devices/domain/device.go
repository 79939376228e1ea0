package devices

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
)

// DoorState is the reported state of the door contact.
type DoorState string

const (
	DoorOpen   DoorState = "open"
	DoorClosed DoorState = "close"
)

// Valid returns true for a known door state.
func (s DoorState) Valid() bool {
	return s == DoorOpen || s == DoorClosed
}

// AlarmState is the per-device alarm state machine position.
type AlarmState string

const (
	AlarmStateIdle  AlarmState = "idle"
	AlarmStateAlarm AlarmState = "alarm"
)

const (
	DefaultDeviceType = "home"
	MaxBattery        = 999.99
)

// Device is a registered door sensor with its last-known state cache.
type Device struct {
	ID             string
	OwnerID        string
	Name           string
	Type           string
	RoomName       string
	WifiSSID       string
	IsEnabled      bool
	AlarmEnabled   bool
	LastDoorState  DoorState
	LastAlarmState AlarmState
	LastBattery    *float64
	LastSeenAt     time.Time
	LastEventAt    time.Time
	IsOnline       *bool
	CreatedAt      time.Time
	DeviceKey      string
}

// Validate checks device invariants.
func (d Device) Validate() error {
	if !ValidID(d.ID) {
		return errors.New("device: invalid id")
	}
	if !ValidID(d.OwnerID) {
		return errors.New("device: invalid owner id")
	}
	if d.Name == "" {
		return errors.New("device: empty name")
	}
	return nil
}

// Armed reports whether a door opening should raise the alarm.
func (d Device) Armed() bool {
	return d.IsEnabled && d.AlarmEnabled
}

// InAlarm reports whether the state machine sits in the alarm state.
func (d Device) InAlarm() bool {
	return d.LastAlarmState == AlarmStateAlarm
}

// DeviceAccess grants a non-owner a role on a device.
type DeviceAccess struct {
	ID        int64
	DeviceID  string
	UserID    string
	Role      string
	CreatedAt time.Time
}

// Access is the resolved relation between an identity and a device.
type Access struct {
	DeviceExists bool
	Owner        bool
	Role         string
}

// Granted reports owner or any granted role.
func (a Access) Granted() bool {
	return a.DeviceExists && (a.Owner || a.Role != "")
}

// NewDeviceID returns a random device identifier.
func NewDeviceID() string {
	return uuid.NewString()
}

// ValidID reports whether value is a UUID as stored by the registry.
func ValidID(value string) bool {
	if value == "" {
		return false
	}
	_, err := uuid.Parse(value)
	return err == nil
}

// RoundBattery clamps a battery reading to numeric(5,2).
func RoundBattery(value float64) (float64, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, errors.New("device: invalid battery")
	}
	rounded := math.Round(value*100) / 100
	if rounded < 0 || rounded > MaxBattery {
		return 0, errors.New("device: battery out of range")
	}
	return rounded, nil
}
