package notify

import (
	"context"

	telemetryapp "wardex-cloud/internal/telemetry/application"
)

// MultiTrigger forwards alarm transitions to several collaborators in order.
type MultiTrigger struct {
	triggers []telemetryapp.AlarmTrigger
}

// NewMultiTrigger constructs a MultiTrigger; nil entries are skipped.
func NewMultiTrigger(triggers ...telemetryapp.AlarmTrigger) *MultiTrigger {
	return &MultiTrigger{triggers: triggers}
}

// TriggerAlarm forwards the transition to all triggers.
func (m *MultiTrigger) TriggerAlarm(ctx context.Context, deviceID string) {
	if m == nil {
		return
	}
	for _, trigger := range m.triggers {
		if trigger != nil {
			trigger.TriggerAlarm(ctx, deviceID)
		}
	}
}
