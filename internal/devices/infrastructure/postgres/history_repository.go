package postgres

import (
	"context"
	"database/sql"
	"errors"

	devices "wardex-cloud/internal/devices/domain"
)

// HistoryRepository is a Postgres implementation for door and alarm history.
type HistoryRepository struct {
	db DBTX
}

// NewHistoryRepository constructs a repository.
func NewHistoryRepository(db DBTX) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// InsertDoorEvent appends a door event.
func (r *HistoryRepository) InsertDoorEvent(ctx context.Context, event *devices.DoorEvent) error {
	if r == nil || r.db == nil {
		return errors.New("history repo: nil db")
	}
	if event == nil || event.DeviceID == "" || event.TS.IsZero() || !event.DoorState.Valid() {
		return errors.New("history repo: invalid door event")
	}
	return r.db.QueryRowContext(ctx, `
INSERT INTO door_events (device_id, door_state, battery, alarm_enabled, ts)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`,
		event.DeviceID,
		string(event.DoorState),
		nullableFloat(event.Battery),
		nullableBool(event.AlarmEnabled),
		event.TS.UTC(),
	).Scan(&event.ID)
}

// InsertAlarmEvent appends an alarm event.
func (r *HistoryRepository) InsertAlarmEvent(ctx context.Context, event *devices.AlarmEvent) error {
	if r == nil || r.db == nil {
		return errors.New("history repo: nil db")
	}
	if event == nil || event.DeviceID == "" || event.TS.IsZero() || event.EventType == "" {
		return errors.New("history repo: invalid alarm event")
	}
	return r.db.QueryRowContext(ctx, `
INSERT INTO alarm_events (device_id, event_type, ts, triggered_by_user_id)
VALUES ($1, $2, $3, $4)
RETURNING id`,
		event.DeviceID,
		string(event.EventType),
		event.TS.UTC(),
		nullableString(event.TriggeredByUserID),
	).Scan(&event.ID)
}

// ListDoorEvents returns newest-first door events for the given devices.
func (r *HistoryRepository) ListDoorEvents(ctx context.Context, deviceIDs []string, limit int) ([]devices.DoorEvent, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("history repo: nil db")
	}
	if len(deviceIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, device_id, door_state, battery, alarm_enabled, ts
FROM door_events
WHERE device_id = ANY($1::uuid[])
ORDER BY ts DESC, id DESC
LIMIT $2`, deviceIDs, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []devices.DoorEvent
	for rows.Next() {
		var event devices.DoorEvent
		var state string
		var battery sql.NullFloat64
		var armed sql.NullBool
		if err := rows.Scan(&event.ID, &event.DeviceID, &state, &battery, &armed, &event.TS); err != nil {
			return nil, err
		}
		event.DoorState = devices.DoorState(state)
		event.TS = event.TS.UTC()
		if battery.Valid {
			v := battery.Float64
			event.Battery = &v
		}
		if armed.Valid {
			v := armed.Bool
			event.AlarmEnabled = &v
		}
		result = append(result, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListAlarmEvents returns newest-first alarm events for the given devices.
func (r *HistoryRepository) ListAlarmEvents(ctx context.Context, deviceIDs []string, limit int) ([]devices.AlarmEvent, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("history repo: nil db")
	}
	if len(deviceIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, device_id, event_type, ts, triggered_by_user_id
FROM alarm_events
WHERE device_id = ANY($1::uuid[])
ORDER BY ts DESC, id DESC
LIMIT $2`, deviceIDs, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []devices.AlarmEvent
	for rows.Next() {
		var event devices.AlarmEvent
		var eventType string
		var userID sql.NullString
		if err := rows.Scan(&event.ID, &event.DeviceID, &eventType, &event.TS, &userID); err != nil {
			return nil, err
		}
		event.EventType = devices.AlarmEventType(eventType).Normalize()
		event.TriggeredByUserID = userID.String
		event.TS = event.TS.UTC()
		result = append(result, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
