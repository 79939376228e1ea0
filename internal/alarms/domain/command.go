package alarms

import (
	"errors"
	"strings"
	"time"

	devices "wardex-cloud/internal/devices/domain"
)

// Action is a user-issued alarm command.
type Action string

const (
	ActionOn  Action = "on"
	ActionOff Action = "off"
)

// ErrInvalidAction indicates an unknown alarm command.
var ErrInvalidAction = errors.New("alarm: action must be on or off")

// ParseAction validates an action string.
func ParseAction(value string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(value))) {
	case ActionOn:
		return ActionOn, nil
	case ActionOff:
		return ActionOff, nil
	default:
		return "", ErrInvalidAction
	}
}

// Enabled reports the armed flag the action sets.
func (a Action) Enabled() bool {
	return a == ActionOn
}

// EventType returns the history row kind recorded for the action.
func (a Action) EventType() devices.AlarmEventType {
	if a == ActionOn {
		return devices.AlarmEventOn
	}
	return devices.AlarmEventOff
}

// StateUpdate returns the device fields the action writes at now.
// Arming leaves the alarm state alone so the next open door raises it.
func (a Action) StateUpdate(now time.Time) devices.StateUpdate {
	enabled := a.Enabled()
	online := true
	update := devices.StateUpdate{
		AlarmEnabled: &enabled,
		LastSeenAt:   &now,
		IsOnline:     &online,
	}
	if a == ActionOff {
		idle := devices.AlarmStateIdle
		update.LastAlarmState = &idle
	}
	return update
}
