package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	devices "wardex-cloud/internal/devices/domain"
)

// Store is an in-memory device registry for demo/testing.
type Store struct {
	mu         sync.RWMutex
	devices    map[string]*devices.Device
	access     map[string]map[string]devices.DeviceAccess
	doorEvents []devices.DoorEvent
	alarms     []devices.AlarmEvent
	nextID     int64
	failWrites error
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		devices: make(map[string]*devices.Device),
		access:  make(map[string]map[string]devices.DeviceAccess),
	}
}

// FailWrites makes every transactional write return err until reset with nil.
func (s *Store) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites = err
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	_ = ctx
	return nil
}

// Get loads a device copy by id.
func (s *Store) Get(ctx context.Context, id string) (*devices.Device, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	device := s.devices[id]
	if device == nil {
		return nil, nil
	}
	copied := *device
	return &copied, nil
}

// ListAccessible returns devices owned by or shared with userID.
func (s *Store) ListAccessible(ctx context.Context, userID string) ([]devices.Device, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []devices.Device
	for id, device := range s.devices {
		_, shared := s.access[id][userID]
		if device.OwnerID == userID || shared {
			result = append(result, *device)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// Create inserts a device.
func (s *Store) Create(ctx context.Context, device *devices.Device) error {
	_ = ctx
	if device == nil {
		return errors.New("memory device store: nil device")
	}
	if err := device.Validate(); err != nil {
		return err
	}
	if device.Type == "" {
		device.Type = devices.DefaultDeviceType
	}
	if device.CreatedAt.IsZero() {
		device.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[device.ID]; ok {
		return devices.ErrConflict
	}
	copied := *device
	s.devices[device.ID] = &copied
	return nil
}

// DeleteOwned removes a device and its dependent rows when ownerID owns it.
func (s *Store) DeleteOwned(ctx context.Context, id, ownerID string) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	device := s.devices[id]
	if device == nil || device.OwnerID != ownerID {
		return false, nil
	}
	delete(s.devices, id)
	delete(s.access, id)
	doors := s.doorEvents[:0]
	for _, event := range s.doorEvents {
		if event.DeviceID != id {
			doors = append(doors, event)
		}
	}
	s.doorEvents = doors
	alarms := s.alarms[:0]
	for _, event := range s.alarms {
		if event.DeviceID != id {
			alarms = append(alarms, event)
		}
	}
	s.alarms = alarms
	return true, nil
}

// SetDeviceKey stores the outbound command credential.
func (s *Store) SetDeviceKey(ctx context.Context, id, key string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if device := s.devices[id]; device != nil {
		device.DeviceKey = key
	}
	return nil
}

// Resolve reports the relation between userID and deviceID.
func (s *Store) Resolve(ctx context.Context, deviceID, userID string) (devices.Access, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	device := s.devices[deviceID]
	if device == nil {
		return devices.Access{}, nil
	}
	return devices.Access{
		DeviceExists: true,
		Owner:        device.OwnerID == userID,
		Role:         s.access[deviceID][userID].Role,
	}, nil
}

// Grant inserts an access row.
func (s *Store) Grant(ctx context.Context, access *devices.DeviceAccess) error {
	_ = ctx
	if access == nil || access.DeviceID == "" || access.UserID == "" {
		return errors.New("memory device store: invalid grant")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.devices[access.DeviceID] == nil {
		return devices.ErrDeviceNotFound
	}
	grants := s.access[access.DeviceID]
	if grants == nil {
		grants = make(map[string]devices.DeviceAccess)
		s.access[access.DeviceID] = grants
	}
	if _, ok := grants[access.UserID]; ok {
		return devices.ErrConflict
	}
	if access.CreatedAt.IsZero() {
		access.CreatedAt = time.Now().UTC()
	}
	s.nextID++
	access.ID = s.nextID
	grants[access.UserID] = *access
	return nil
}

// ListDoorEvents returns newest-first door events for the given devices.
func (s *Store) ListDoorEvents(ctx context.Context, deviceIDs []string, limit int) ([]devices.DoorEvent, error) {
	_ = ctx
	wanted := idSet(deviceIDs)
	s.mu.RLock()
	var result []devices.DoorEvent
	for _, event := range s.doorEvents {
		if _, ok := wanted[event.DeviceID]; ok {
			result = append(result, event)
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].TS.Equal(result[j].TS) {
			return result[i].ID > result[j].ID
		}
		return result[i].TS.After(result[j].TS)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ListAlarmEvents returns newest-first alarm events for the given devices.
func (s *Store) ListAlarmEvents(ctx context.Context, deviceIDs []string, limit int) ([]devices.AlarmEvent, error) {
	_ = ctx
	wanted := idSet(deviceIDs)
	s.mu.RLock()
	var result []devices.AlarmEvent
	for _, event := range s.alarms {
		if _, ok := wanted[event.DeviceID]; ok {
			event.EventType = event.EventType.Normalize()
			result = append(result, event)
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].TS.Equal(result[j].TS) {
			return result[i].ID > result[j].ID
		}
		return result[i].TS.After(result[j].TS)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// WithDeviceLocked stages writes and applies them only when fn succeeds.
func (s *Store) WithDeviceLocked(ctx context.Context, deviceID string, fn func(ctx context.Context, tx devices.StateTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	device := s.devices[deviceID]
	if device == nil {
		return devices.ErrDeviceNotFound
	}
	tx := &stateTx{device: *device, failWrites: s.failWrites}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	*device = tx.device
	for _, event := range tx.doors {
		s.nextID++
		event.ID = s.nextID
		s.doorEvents = append(s.doorEvents, *event)
	}
	for _, event := range tx.alarms {
		s.nextID++
		event.ID = s.nextID
		s.alarms = append(s.alarms, *event)
	}
	return nil
}

type stateTx struct {
	device     devices.Device
	doors      []*devices.DoorEvent
	alarms     []*devices.AlarmEvent
	failWrites error
}

func (t *stateTx) Device() devices.Device { return t.device }

func (t *stateTx) UpdateState(ctx context.Context, update devices.StateUpdate) error {
	_ = ctx
	if t.failWrites != nil {
		return t.failWrites
	}
	update.Apply(&t.device)
	return nil
}

func (t *stateTx) InsertDoorEvent(ctx context.Context, event *devices.DoorEvent) error {
	_ = ctx
	if t.failWrites != nil {
		return t.failWrites
	}
	if event == nil || !event.DoorState.Valid() || event.TS.IsZero() {
		return errors.New("memory device store: invalid door event")
	}
	t.doors = append(t.doors, event)
	return nil
}

func (t *stateTx) InsertAlarmEvent(ctx context.Context, event *devices.AlarmEvent) error {
	_ = ctx
	if t.failWrites != nil {
		return t.failWrites
	}
	if event == nil || event.EventType == "" || event.TS.IsZero() {
		return errors.New("memory device store: invalid alarm event")
	}
	t.alarms = append(t.alarms, event)
	return nil
}

func idSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
