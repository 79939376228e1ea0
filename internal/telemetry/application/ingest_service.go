package application

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	devicesapp "wardex-cloud/internal/devices/application"
	devices "wardex-cloud/internal/devices/domain"
	"wardex-cloud/internal/live"
	"wardex-cloud/internal/observability/metrics"
	telemetry "wardex-cloud/internal/telemetry/domain"
)

// DefaultMaxFutureSkew bounds how far ahead of the server clock a reading may be dated.
const DefaultMaxFutureSkew = 5 * time.Minute

// AlarmTrigger pushes a raised alarm to the physical device.
type AlarmTrigger interface {
	TriggerAlarm(ctx context.Context, deviceID string)
}

// Result describes what one ingest did.
type Result struct {
	DeviceID   string
	Triggered  bool
	Stale      bool
	AlarmState devices.AlarmState
}

// Service runs the per-device door alarm state machine.
type Service struct {
	store    devices.StateStore
	locks    *devicesapp.DeviceLocks
	notifier live.Notifier
	trigger  AlarmTrigger
	logger   zerolog.Logger
	now      func() time.Time
	maxSkew  time.Duration
}

// ServiceOption customizes the ingest service.
type ServiceOption func(*Service)

// WithNotifier assigns the live update notifier.
func WithNotifier(notifier live.Notifier) ServiceOption {
	return func(s *Service) {
		s.notifier = notifier
	}
}

// WithAlarmTrigger assigns the downstream trigger.
func WithAlarmTrigger(trigger AlarmTrigger) ServiceOption {
	return func(s *Service) {
		s.trigger = trigger
	}
}

// WithDeviceLocks shares a lock table with other device writers.
func WithDeviceLocks(locks *devicesapp.DeviceLocks) ServiceOption {
	return func(s *Service) {
		if locks != nil {
			s.locks = locks
		}
	}
}

// WithMaxFutureSkew sets how far ahead of now a reading ts may be.
func WithMaxFutureSkew(skew time.Duration) ServiceOption {
	return func(s *Service) {
		if skew > 0 {
			s.maxSkew = skew
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger zerolog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService constructs an ingest service.
func NewService(store devices.StateStore, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("telemetry ingest: nil state store")
	}
	service := &Service{
		store:  store,
		locks:  devicesapp.NewDeviceLocks(),
		logger:  zerolog.Nop(),
		now:     time.Now,
		maxSkew: DefaultMaxFutureSkew,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Ingest records a door reading and advances the alarm state machine.
//
// The door event, the optional alarm_triggered event and the device state
// update commit together. Fan-out and the downstream push run after commit
// and never fail the call.
func (s *Service) Ingest(ctx context.Context, reading telemetry.Reading) (Result, error) {
	if s == nil {
		return Result{}, errors.New("telemetry ingest: nil service")
	}
	if err := reading.Validate(); err != nil {
		return Result{}, err
	}
	// a far-future ts would pin last_event_at and mark every later reading stale
	if err := reading.CheckNotFuture(s.now(), s.maxSkew); err != nil {
		return Result{}, err
	}

	result := Result{DeviceID: reading.DeviceID}
	err := s.locks.Do(reading.DeviceID, func() error {
		return s.store.WithDeviceLocked(ctx, reading.DeviceID, func(ctx context.Context, tx devices.StateTx) error {
			return s.apply(ctx, tx, reading, &result)
		})
	})
	if err != nil {
		return Result{}, err
	}

	if result.Triggered {
		metrics.IncAlarmEvent(string(devices.AlarmEventTriggered))
		s.logger.Info().Str("device_id", reading.DeviceID).Msg("alarm triggered")
	}
	if s.notifier != nil {
		s.notifier.Notify(ctx, reading.DeviceID)
	}
	if result.Triggered && s.trigger != nil {
		s.trigger.TriggerAlarm(ctx, reading.DeviceID)
	}
	return result, nil
}

// apply runs the state machine step inside the device transaction.
func (s *Service) apply(ctx context.Context, tx devices.StateTx, reading telemetry.Reading, result *Result) error {
	device := tx.Device()
	armed := device.Armed()
	if reading.ArmedHint != nil && *reading.ArmedHint != armed {
		s.logger.Debug().
			Str("device_id", device.ID).
			Bool("hint", *reading.ArmedHint).
			Bool("armed", armed).
			Msg("ignoring armed hint from sender")
	}

	battery := reading.Battery
	if err := tx.InsertDoorEvent(ctx, &devices.DoorEvent{
		DeviceID:     device.ID,
		DoorState:    reading.Door,
		Battery:      &battery,
		AlarmEnabled: &armed,
		TS:           reading.TS,
	}); err != nil {
		return err
	}

	result.AlarmState = device.LastAlarmState
	if !device.LastEventAt.IsZero() && reading.TS.Before(device.LastEventAt) {
		result.Stale = true
		return nil
	}

	triggered := armed && reading.Door == devices.DoorOpen && !device.InAlarm()
	if triggered {
		if err := tx.InsertAlarmEvent(ctx, &devices.AlarmEvent{
			DeviceID:  device.ID,
			EventType: devices.AlarmEventTriggered,
			TS:        reading.TS,
		}); err != nil {
			return err
		}
	}

	online := true
	ts := reading.TS
	door := reading.Door
	update := devices.StateUpdate{
		LastDoorState: &door,
		LastBattery:   &battery,
		LastSeenAt:    &ts,
		LastEventAt:   &ts,
		IsOnline:      &online,
	}
	if triggered {
		state := devices.AlarmStateAlarm
		update.LastAlarmState = &state
		result.AlarmState = state
	}
	if err := tx.UpdateState(ctx, update); err != nil {
		return err
	}
	result.Triggered = triggered
	return nil
}
