package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"

	devices "wardex-cloud/internal/devices/domain"
	"wardex-cloud/internal/devices/infrastructure/memory"
	telemetry "wardex-cloud/internal/telemetry/domain"
)

type recordingNotifier struct {
	mu  sync.Mutex
	ids []string
}

func (n *recordingNotifier) Notify(_ context.Context, deviceID string) {
	n.mu.Lock()
	n.ids = append(n.ids, deviceID)
	n.mu.Unlock()
}

type recordingTrigger struct {
	mu    sync.Mutex
	calls int
}

func (t *recordingTrigger) TriggerAlarm(context.Context, string) {
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()
}

type fixture struct {
	store    *memory.Store
	service  *Service
	notifier *recordingNotifier
	trigger  *recordingTrigger
	device   devices.Device
}

func newFixture(t *testing.T, armed bool) *fixture {
	t.Helper()
	store := memory.NewStore()
	device := devices.Device{
		ID:           devices.NewDeviceID(),
		OwnerID:      devices.NewDeviceID(),
		Name:         "front door",
		IsEnabled:    true,
		AlarmEnabled: armed,
	}
	if err := store.Create(context.Background(), &device); err != nil {
		t.Fatalf("create device: %v", err)
	}
	notifier := &recordingNotifier{}
	trigger := &recordingTrigger{}
	service, err := NewService(store, WithNotifier(notifier), WithAlarmTrigger(trigger))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return &fixture{store: store, service: service, notifier: notifier, trigger: trigger, device: device}
}

func (f *fixture) ingest(t *testing.T, door devices.DoorState, battery float64, ts time.Time) Result {
	t.Helper()
	result, err := f.service.Ingest(context.Background(), telemetry.Reading{
		DeviceID: f.device.ID,
		Door:     door,
		Battery:  battery,
		TS:       ts,
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	return result
}

func (f *fixture) current(t *testing.T) devices.Device {
	t.Helper()
	device, err := f.store.Get(context.Background(), f.device.ID)
	if err != nil || device == nil {
		t.Fatalf("get device: %v", err)
	}
	return *device
}

func (f *fixture) history(t *testing.T) ([]devices.DoorEvent, []devices.AlarmEvent) {
	t.Helper()
	ctx := context.Background()
	doors, err := f.store.ListDoorEvents(ctx, []string{f.device.ID}, 0)
	if err != nil {
		t.Fatalf("list door events: %v", err)
	}
	alarmEvents, err := f.store.ListAlarmEvents(ctx, []string{f.device.ID}, 0)
	if err != nil {
		t.Fatalf("list alarm events: %v", err)
	}
	return doors, alarmEvents
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestIngest_ArmedOpenTriggersOnce(t *testing.T) {
	is := is.New(t)
	f := newFixture(t, true)

	first := f.ingest(t, devices.DoorOpen, 90, t0)
	is.True(first.Triggered)
	is.Equal(first.AlarmState, devices.AlarmStateAlarm)

	second := f.ingest(t, devices.DoorOpen, 89, t0.Add(time.Second))
	is.True(!second.Triggered)

	doors, alarmEvents := f.history(t)
	is.Equal(len(doors), 2)
	is.Equal(len(alarmEvents), 1)
	is.Equal(alarmEvents[0].EventType, devices.AlarmEventTriggered)
	is.Equal(alarmEvents[0].TriggeredByUserID, "")
	is.True(alarmEvents[0].TS.Equal(t0))
	is.Equal(f.current(t).LastAlarmState, devices.AlarmStateAlarm)
	is.Equal(f.trigger.calls, 1)
	is.Equal(len(f.notifier.ids), 2)
}

func TestIngest_UnarmedOpenUpdatesStateOnly(t *testing.T) {
	is := is.New(t)
	f := newFixture(t, false)

	result := f.ingest(t, devices.DoorOpen, 87.5, t0)
	is.True(!result.Triggered)

	device := f.current(t)
	is.Equal(device.LastDoorState, devices.DoorOpen)
	is.Equal(*device.LastBattery, 87.5)
	is.True(*device.IsOnline)
	is.True(device.LastSeenAt.Equal(t0))
	is.Equal(device.LastAlarmState, devices.AlarmState(""))

	doors, alarmEvents := f.history(t)
	is.Equal(len(doors), 1)
	is.Equal(*doors[0].AlarmEnabled, false)
	is.Equal(len(alarmEvents), 0)
	is.Equal(f.trigger.calls, 0)
}

func TestIngest_CloseDoesNotClearAlarm(t *testing.T) {
	is := is.New(t)
	f := newFixture(t, true)

	f.ingest(t, devices.DoorOpen, 90, t0)
	f.ingest(t, devices.DoorClosed, 90, t0.Add(time.Minute))
	f.ingest(t, devices.DoorOpen, 90, t0.Add(2*time.Minute))

	device := f.current(t)
	is.Equal(device.LastAlarmState, devices.AlarmStateAlarm)
	is.Equal(device.LastDoorState, devices.DoorOpen)
	_, alarmEvents := f.history(t)
	is.Equal(len(alarmEvents), 1)
}

func TestIngest_DisabledDeviceIsUnarmed(t *testing.T) {
	is := is.New(t)
	store := memory.NewStore()
	device := devices.Device{
		ID:           devices.NewDeviceID(),
		OwnerID:      devices.NewDeviceID(),
		Name:         "garage",
		IsEnabled:    false,
		AlarmEnabled: true,
	}
	is.NoErr(store.Create(context.Background(), &device))
	service, err := NewService(store)
	is.NoErr(err)

	result, err := service.Ingest(context.Background(), telemetry.Reading{
		DeviceID: device.ID, Door: devices.DoorOpen, Battery: 50, TS: t0,
	})
	is.NoErr(err)
	is.True(!result.Triggered)
}

func TestIngest_ArmedHintIsIgnored(t *testing.T) {
	is := is.New(t)
	f := newFixture(t, false)
	hint := true
	result, err := f.service.Ingest(context.Background(), telemetry.Reading{
		DeviceID: f.device.ID, Door: devices.DoorOpen, Battery: 50, TS: t0, ArmedHint: &hint,
	})
	is.NoErr(err)
	is.True(!result.Triggered)
}

func TestIngest_StaleReadingOnlyAppendsHistory(t *testing.T) {
	is := is.New(t)
	f := newFixture(t, true)

	f.ingest(t, devices.DoorClosed, 80, t0)
	stale := f.ingest(t, devices.DoorOpen, 70, t0.Add(-time.Hour))
	is.True(stale.Stale)
	is.True(!stale.Triggered)

	device := f.current(t)
	is.Equal(device.LastDoorState, devices.DoorClosed)
	is.Equal(*device.LastBattery, 80.0)
	is.True(device.LastSeenAt.Equal(t0))

	doors, alarmEvents := f.history(t)
	is.Equal(len(doors), 2)
	is.Equal(len(alarmEvents), 0)
}

func TestIngest_UnknownDevice(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.service.Ingest(context.Background(), telemetry.Reading{
		DeviceID: devices.NewDeviceID(), Door: devices.DoorOpen, Battery: 1, TS: t0,
	})
	if !errors.Is(err, devices.ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
	if len(f.notifier.ids) != 0 {
		t.Fatalf("expected no notification for failed ingest")
	}
}

func TestIngest_InvalidReading(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.service.Ingest(context.Background(), telemetry.Reading{
		DeviceID: f.device.ID, Door: "ajar", Battery: 1, TS: t0,
	})
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestIngest_StorageFailureIsAllOrNothing(t *testing.T) {
	is := is.New(t)
	f := newFixture(t, true)
	f.store.FailWrites(errors.New("disk full"))

	_, err := f.service.Ingest(context.Background(), telemetry.Reading{
		DeviceID: f.device.ID, Door: devices.DoorOpen, Battery: 1, TS: t0,
	})
	is.True(err != nil)

	f.store.FailWrites(nil)
	doors, alarmEvents := f.history(t)
	is.Equal(len(doors), 0)
	is.Equal(len(alarmEvents), 0)
	is.Equal(f.current(t).LastAlarmState, devices.AlarmState(""))
	is.Equal(len(f.notifier.ids), 0)
	is.Equal(f.trigger.calls, 0)
}

func TestIngest_ConcurrentOpensTriggerOnce(t *testing.T) {
	is := is.New(t)
	f := newFixture(t, true)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.service.Ingest(context.Background(), telemetry.Reading{
				DeviceID: f.device.ID,
				Door:     devices.DoorOpen,
				Battery:  50,
				TS:       t0.Add(time.Duration(i) * time.Second),
			})
			if err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	doors, alarmEvents := f.history(t)
	is.Equal(len(doors), 25)
	is.Equal(len(alarmEvents), 1)
	is.Equal(f.trigger.calls, 1)
}

func TestIngest_FutureReadingRejected(t *testing.T) {
	is := is.New(t)
	f := newFixture(t, true)
	service, err := NewService(f.store,
		WithNotifier(f.notifier),
		WithAlarmTrigger(f.trigger),
		WithClock(func() time.Time { return t0 }),
		WithMaxFutureSkew(time.Minute),
	)
	is.NoErr(err)

	// a relay sending milliseconds as seconds lands decades ahead
	_, err = service.Ingest(context.Background(), telemetry.Reading{
		DeviceID: f.device.ID, Door: devices.DoorClosed, Battery: 80, TS: t0.AddDate(80, 0, 0),
	})
	is.True(errors.Is(err, telemetry.ErrFutureReading))

	// within the skew window is accepted
	_, err = service.Ingest(context.Background(), telemetry.Reading{
		DeviceID: f.device.ID, Door: devices.DoorClosed, Battery: 80, TS: t0.Add(30 * time.Second),
	})
	is.NoErr(err)

	result, err := service.Ingest(context.Background(), telemetry.Reading{
		DeviceID: f.device.ID, Door: devices.DoorOpen, Battery: 79, TS: t0.Add(45 * time.Second),
	})
	is.NoErr(err)
	is.True(!result.Stale)
	is.True(result.Triggered)

	device := f.current(t)
	is.Equal(device.LastDoorState, devices.DoorOpen)
	is.Equal(device.LastAlarmState, devices.AlarmStateAlarm)
	doors, alarmEvents := f.history(t)
	is.Equal(len(doors), 2)
	is.Equal(len(alarmEvents), 1)
}

func TestIngest_EqualTimestampIsApplied(t *testing.T) {
	is := is.New(t)
	f := newFixture(t, false)

	f.ingest(t, devices.DoorOpen, 80, t0)
	same := f.ingest(t, devices.DoorClosed, 79, t0)
	is.True(!same.Stale)

	device := f.current(t)
	is.Equal(device.LastDoorState, devices.DoorClosed)
	is.Equal(*device.LastBattery, 79.0)
}
