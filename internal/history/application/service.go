package application

import (
	"context"
	"errors"
	"sort"
	"time"

	"wardex-cloud/internal/auth"
	devices "wardex-cloud/internal/devices/domain"
)

const (
	DefaultLimit = 200
	MaxLimit     = 1000
	// DeviceLimit caps each table for single-device queries.
	DeviceLimit = 100
)

// Kind tags a merged history entry with its source table.
type Kind string

const (
	KindDoor  Kind = "door"
	KindAlarm Kind = "alarm"
)

// Entry is one row of the merged event history.
type Entry struct {
	Kind              Kind
	ID                int64
	DeviceID          string
	DoorState         devices.DoorState
	Battery           *float64
	AlarmEnabled      *bool
	AlarmEventType    devices.AlarmEventType
	TriggeredByUserID string
	TS                time.Time
}

// DeviceLister resolves the devices a user may see.
type DeviceLister interface {
	ListAccessible(ctx context.Context, userID string) ([]devices.Device, error)
}

// Gate authorizes device-scoped reads.
type Gate interface {
	EnsureDeviceAccess(ctx context.Context, userID, deviceID string) error
}

// Service answers event history queries.
type Service struct {
	devices      DeviceLister
	history      devices.HistoryRepository
	gate         Gate
	defaultLimit int
	maxLimit     int
}

// ServiceOption customizes the history service.
type ServiceOption func(*Service)

// WithLimits overrides the default and maximum merged result sizes.
func WithLimits(defaultLimit, maxLimit int) ServiceOption {
	return func(s *Service) {
		if maxLimit > 0 {
			s.maxLimit = maxLimit
		}
		if defaultLimit > 0 {
			s.defaultLimit = defaultLimit
		}
		if s.defaultLimit > s.maxLimit {
			s.defaultLimit = s.maxLimit
		}
	}
}

// NewService constructs a history service.
func NewService(deviceLister DeviceLister, history devices.HistoryRepository, gate Gate, opts ...ServiceOption) (*Service, error) {
	if deviceLister == nil || history == nil {
		return nil, errors.New("history service: nil repository")
	}
	if gate == nil {
		return nil, errors.New("history service: nil gate")
	}
	s := &Service{
		devices:      deviceLister,
		history:      history,
		gate:         gate,
		defaultLimit: DefaultLimit,
		maxLimit:     MaxLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NormalizeLimit applies the default to zero and clamps to the maximum.
func (s *Service) NormalizeLimit(limit int) int {
	if limit <= 0 {
		return s.defaultLimit
	}
	if limit > s.maxLimit {
		return s.maxLimit
	}
	return limit
}

// ListEvents merges door and alarm events over every device the identity can see.
// limit applies to each table and to the merged result.
func (s *Service) ListEvents(ctx context.Context, identity auth.Identity, limit int) ([]Entry, error) {
	list, err := s.devices.ListAccessible(ctx, identity.UserID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return []Entry{}, nil
	}
	ids := make([]string, 0, len(list))
	for _, device := range list {
		ids = append(ids, device.ID)
	}
	return s.merged(ctx, ids, s.NormalizeLimit(limit))
}

// ListDeviceEvents merges door and alarm events for one device.
func (s *Service) ListDeviceEvents(ctx context.Context, deviceID string, identity auth.Identity) ([]Entry, error) {
	if err := s.gate.EnsureDeviceAccess(ctx, identity.UserID, deviceID); err != nil {
		return nil, err
	}
	return s.merged(ctx, []string{deviceID}, 2*DeviceLimit)
}

// ListDoorEvents returns the newest door events for one device.
func (s *Service) ListDoorEvents(ctx context.Context, deviceID string, identity auth.Identity) ([]devices.DoorEvent, error) {
	if err := s.gate.EnsureDeviceAccess(ctx, identity.UserID, deviceID); err != nil {
		return nil, err
	}
	return s.history.ListDoorEvents(ctx, []string{deviceID}, DeviceLimit)
}

// ListAlarmEvents returns the newest alarm events for one device.
func (s *Service) ListAlarmEvents(ctx context.Context, deviceID string, identity auth.Identity) ([]devices.AlarmEvent, error) {
	if err := s.gate.EnsureDeviceAccess(ctx, identity.UserID, deviceID); err != nil {
		return nil, err
	}
	return s.history.ListAlarmEvents(ctx, []string{deviceID}, DeviceLimit)
}

func (s *Service) merged(ctx context.Context, ids []string, limit int) ([]Entry, error) {
	perTable := limit
	if len(ids) == 1 && perTable > DeviceLimit {
		perTable = DeviceLimit
	}
	doors, err := s.history.ListDoorEvents(ctx, ids, perTable)
	if err != nil {
		return nil, err
	}
	alarmRows, err := s.history.ListAlarmEvents(ctx, ids, perTable)
	if err != nil {
		return nil, err
	}
	return Merge(doors, alarmRows, limit), nil
}

// Merge tags and interleaves events newest first, truncated to limit when positive.
func Merge(doors []devices.DoorEvent, alarmRows []devices.AlarmEvent, limit int) []Entry {
	entries := make([]Entry, 0, len(doors)+len(alarmRows))
	for _, e := range doors {
		entries = append(entries, Entry{
			Kind:         KindDoor,
			ID:           e.ID,
			DeviceID:     e.DeviceID,
			DoorState:    e.DoorState,
			Battery:      e.Battery,
			AlarmEnabled: e.AlarmEnabled,
			TS:           e.TS,
		})
	}
	for _, e := range alarmRows {
		entries = append(entries, Entry{
			Kind:              KindAlarm,
			ID:                e.ID,
			DeviceID:          e.DeviceID,
			AlarmEventType:    e.EventType.Normalize(),
			TriggeredByUserID: e.TriggeredByUserID,
			TS:                e.TS,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].TS.Equal(entries[j].TS) {
			return entries[i].TS.After(entries[j].TS)
		}
		// an alarm_triggered row shares its door row's ts; show it first
		if entries[i].Kind != entries[j].Kind {
			return entries[i].Kind == KindAlarm
		}
		return entries[i].ID > entries[j].ID
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}
