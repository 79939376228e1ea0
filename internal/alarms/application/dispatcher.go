package application

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	alarms "wardex-cloud/internal/alarms/domain"
	"wardex-cloud/internal/audit"
	"wardex-cloud/internal/auth"
	devicesapp "wardex-cloud/internal/devices/application"
	devices "wardex-cloud/internal/devices/domain"
	"wardex-cloud/internal/live"
	"wardex-cloud/internal/observability/metrics"
)

const defaultCommandTimeout = 10 * time.Second

// CommandSender delivers alarm commands to the physical device.
type CommandSender interface {
	SendAlarmCommand(ctx context.Context, deviceID string, on bool) error
}

// AccessChecker gates device-scoped operations.
type AccessChecker interface {
	EnsureDeviceAccess(ctx context.Context, userID, deviceID string) error
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Dispatcher applies user alarm commands and forwards them downstream.
type Dispatcher struct {
	store          devices.StateStore
	access         AccessChecker
	sender         CommandSender
	notifier       live.Notifier
	audit          audit.Logger
	locks          *devicesapp.DeviceLocks
	clock          Clock
	commandTimeout time.Duration
	logger         zerolog.Logger
}

// DispatcherOption customizes the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithCommandSender assigns the downstream sender. Without one, commands stay local.
func WithCommandSender(sender CommandSender) DispatcherOption {
	return func(d *Dispatcher) {
		d.sender = sender
	}
}

// WithNotifier assigns the live update notifier.
func WithNotifier(notifier live.Notifier) DispatcherOption {
	return func(d *Dispatcher) {
		d.notifier = notifier
	}
}

// WithAuditLogger assigns the audit logger.
func WithAuditLogger(logger audit.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.audit = logger
	}
}

// WithDeviceLocks shares a lock table with other device writers.
func WithDeviceLocks(locks *devicesapp.DeviceLocks) DispatcherOption {
	return func(d *Dispatcher) {
		if locks != nil {
			d.locks = locks
		}
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) DispatcherOption {
	return func(d *Dispatcher) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// WithCommandTimeout bounds each downstream push.
func WithCommandTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.commandTimeout = timeout
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger zerolog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher constructs an alarm command dispatcher.
func NewDispatcher(store devices.StateStore, access AccessChecker, opts ...DispatcherOption) (*Dispatcher, error) {
	if store == nil {
		return nil, errors.New("alarm dispatcher: nil state store")
	}
	if access == nil {
		return nil, errors.New("alarm dispatcher: nil access checker")
	}
	d := &Dispatcher{
		store:          store,
		access:         access,
		locks:          devicesapp.NewDeviceLocks(),
		clock:          systemClock{},
		commandTimeout: defaultCommandTimeout,
		logger:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// SetAlarm arms or disarms a device on behalf of identity.
//
// The history row and device update commit before the downstream push.
// A failed push is logged and counted; the call still succeeds.
func (d *Dispatcher) SetAlarm(ctx context.Context, deviceID string, action alarms.Action, identity auth.Identity) error {
	if d == nil {
		return errors.New("alarm dispatcher: nil dispatcher")
	}
	if action != alarms.ActionOn && action != alarms.ActionOff {
		return alarms.ErrInvalidAction
	}
	if err := d.access.EnsureDeviceAccess(ctx, identity.UserID, deviceID); err != nil {
		return err
	}

	now := d.clock.Now().UTC()
	err := d.locks.Do(deviceID, func() error {
		return d.store.WithDeviceLocked(ctx, deviceID, func(ctx context.Context, tx devices.StateTx) error {
			if err := tx.InsertAlarmEvent(ctx, &devices.AlarmEvent{
				DeviceID:          deviceID,
				EventType:         action.EventType(),
				TS:                now,
				TriggeredByUserID: identity.UserID,
			}); err != nil {
				return err
			}
			return tx.UpdateState(ctx, action.StateUpdate(now))
		})
	})
	if errors.Is(err, devices.ErrDeviceNotFound) {
		return auth.ErrNotFoundOrForbidden
	}
	if err != nil {
		return err
	}

	metrics.IncAlarmEvent(string(action.EventType()))
	if d.notifier != nil {
		d.notifier.Notify(ctx, deviceID)
	}
	d.logAudit(ctx, deviceID, action, identity)
	d.push(ctx, deviceID, action.Enabled())
	return nil
}

// TriggerAlarm pushes alarm=true after telemetry raised the alarm.
func (d *Dispatcher) TriggerAlarm(ctx context.Context, deviceID string) {
	if d == nil {
		return
	}
	d.push(ctx, deviceID, true)
}

func (d *Dispatcher) push(ctx context.Context, deviceID string, on bool) {
	logger := d.logger.With().Str("device_id", deviceID).Bool("alarm", on).Logger()
	if d.sender == nil {
		metrics.IncCommandResult(metrics.CommandResultSkipped)
		logger.Debug().Msg("no command sender configured; skipping downstream push")
		return
	}
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.commandTimeout)
	defer cancel()
	if err := d.sender.SendAlarmCommand(pushCtx, deviceID, on); err != nil {
		metrics.IncCommandResult(metrics.CommandResultFailed)
		logger.Error().Err(err).Msg("failed to send alarm command")
		return
	}
	metrics.IncCommandResult(metrics.CommandResultSent)
	logger.Info().Msg("alarm command sent")
}

func (d *Dispatcher) logAudit(ctx context.Context, deviceID string, action alarms.Action, identity auth.Identity) {
	if d.audit == nil {
		return
	}
	auditAction := audit.ActionAlarmOff
	if action == alarms.ActionOn {
		auditAction = audit.ActionAlarmOn
	}
	req := audit.RequestFromContext(ctx)
	entry := audit.Entry{
		Actor:        identity.UserID,
		Action:       auditAction,
		ResourceType: audit.ResourceDevice,
		ResourceID:   deviceID,
		DeviceID:     deviceID,
		Metadata:     audit.Metadata(map[string]string{"action": string(action), "email": identity.Email}),
		IP:           req.IP,
		UserAgent:    req.UserAgent,
	}
	if err := d.audit.Log(ctx, entry); err != nil {
		d.logger.Warn().Err(err).Str("device_id", deviceID).Msg("audit log failed")
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
