package devices

import "time"

// AlarmEventType enumerates alarm history rows.
type AlarmEventType string

const (
	AlarmEventOn        AlarmEventType = "alarm_on"
	AlarmEventOff       AlarmEventType = "alarm_off"
	AlarmEventTriggered AlarmEventType = "alarm_triggered"

	legacyAlarmEventArmed    AlarmEventType = "alarm_armed"
	legacyAlarmEventDisarmed AlarmEventType = "alarm_disarmed"
)

// Normalize maps legacy rows onto the current vocabulary.
func (t AlarmEventType) Normalize() AlarmEventType {
	switch t {
	case legacyAlarmEventArmed:
		return AlarmEventOn
	case legacyAlarmEventDisarmed:
		return AlarmEventOff
	default:
		return t
	}
}

// DoorEvent is an append-only door telemetry record.
type DoorEvent struct {
	ID           int64
	DeviceID     string
	DoorState    DoorState
	Battery      *float64
	AlarmEnabled *bool
	TS           time.Time
}

// AlarmEvent is an append-only alarm history record.
type AlarmEvent struct {
	ID                int64
	DeviceID          string
	EventType         AlarmEventType
	TS                time.Time
	TriggeredByUserID string
}

// StateUpdate lists the last-known fields to overwrite; nil fields are untouched.
type StateUpdate struct {
	LastDoorState  *DoorState
	LastAlarmState *AlarmState
	LastBattery    *float64
	LastSeenAt     *time.Time
	LastEventAt    *time.Time
	IsOnline       *bool
	AlarmEnabled   *bool
}

// Empty reports whether the update carries no field.
func (u StateUpdate) Empty() bool {
	return u.LastDoorState == nil && u.LastAlarmState == nil && u.LastBattery == nil &&
		u.LastSeenAt == nil && u.LastEventAt == nil && u.IsOnline == nil && u.AlarmEnabled == nil
}

// Apply copies the update onto a device value.
func (u StateUpdate) Apply(d *Device) {
	if d == nil {
		return
	}
	if u.LastDoorState != nil {
		d.LastDoorState = *u.LastDoorState
	}
	if u.LastAlarmState != nil {
		d.LastAlarmState = *u.LastAlarmState
	}
	if u.LastBattery != nil {
		v := *u.LastBattery
		d.LastBattery = &v
	}
	if u.LastSeenAt != nil {
		d.LastSeenAt = u.LastSeenAt.UTC()
	}
	if u.LastEventAt != nil {
		d.LastEventAt = u.LastEventAt.UTC()
	}
	if u.IsOnline != nil {
		v := *u.IsOnline
		d.IsOnline = &v
	}
	if u.AlarmEnabled != nil {
		d.AlarmEnabled = *u.AlarmEnabled
	}
}
