package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	devices "wardex-cloud/internal/devices/domain"
)

const deviceColumns = `d.id, d.owner_id, d.name, d.type, d.room_name, d.wifi_ssid, d.is_enabled, d.alarm_enabled,
	d.last_door_state, d.last_alarm_state, d.last_battery, d.last_seen_at, d.last_event_at, d.is_online,
	d.created_at, d.device_key`

// DeviceRepository is a Postgres implementation for devices.
type DeviceRepository struct {
	db DBTX
}

// NewDeviceRepository constructs a repository.
func NewDeviceRepository(db DBTX) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// Get loads a device by id.
func (r *DeviceRepository) Get(ctx context.Context, id string) (*devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	if !devices.ValidID(id) {
		return nil, nil
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+deviceColumns+`
FROM devices d
WHERE d.id = $1
LIMIT 1`, id)
	return scanDevice(row)
}

func (r *DeviceRepository) getForUpdate(ctx context.Context, id string) (*devices.Device, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+deviceColumns+`
FROM devices d
WHERE d.id = $1
FOR UPDATE`, id)
	return scanDevice(row)
}

// ListAccessible returns devices owned by or shared with a user.
func (r *DeviceRepository) ListAccessible(ctx context.Context, userID string) ([]devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	if !devices.ValidID(userID) {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+deviceColumns+`
FROM devices d
WHERE d.owner_id = $1
	OR EXISTS (SELECT 1 FROM device_access a WHERE a.device_id = d.id AND a.user_id = $1)
ORDER BY d.created_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []devices.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *device)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Create inserts a device.
func (r *DeviceRepository) Create(ctx context.Context, device *devices.Device) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if device == nil {
		return errors.New("device repo: nil device")
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
	_, err := r.db.ExecContext(ctx, `
INSERT INTO devices (
	id, owner_id, name, type, room_name, wifi_ssid, is_enabled, alarm_enabled, created_at, device_key
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
)`,
		device.ID,
		device.OwnerID,
		device.Name,
		device.Type,
		nullableString(device.RoomName),
		nullableString(device.WifiSSID),
		device.IsEnabled,
		device.AlarmEnabled,
		device.CreatedAt,
		nullableString(device.DeviceKey),
	)
	if isUniqueViolation(err) {
		return devices.ErrConflict
	}
	return err
}

// DeleteOwned removes a device when ownerID owns it.
func (r *DeviceRepository) DeleteOwned(ctx context.Context, id, ownerID string) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("device repo: nil db")
	}
	if !devices.ValidID(id) || !devices.ValidID(ownerID) {
		return false, nil
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// SetDeviceKey stores the outbound command credential.
func (r *DeviceRepository) SetDeviceKey(ctx context.Context, id, key string) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `UPDATE devices SET device_key = $1 WHERE id = $2`, nullableString(key), id)
	return err
}

// UpdateState writes the non-nil fields of update.
func (r *DeviceRepository) UpdateState(ctx context.Context, id string, update devices.StateUpdate) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if update.Empty() {
		return nil
	}
	var (
		sets []string
		args []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if update.LastDoorState != nil {
		add("last_door_state", string(*update.LastDoorState))
	}
	if update.LastAlarmState != nil {
		add("last_alarm_state", string(*update.LastAlarmState))
	}
	if update.LastBattery != nil {
		add("last_battery", *update.LastBattery)
	}
	if update.LastSeenAt != nil {
		add("last_seen_at", update.LastSeenAt.UTC())
	}
	if update.LastEventAt != nil {
		add("last_event_at", update.LastEventAt.UTC())
	}
	if update.IsOnline != nil {
		add("is_online", *update.IsOnline)
	}
	if update.AlarmEnabled != nil {
		add("alarm_enabled", *update.AlarmEnabled)
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE devices SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}

type deviceScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row deviceScanner) (*devices.Device, error) {
	var device devices.Device
	var roomName, wifiSSID, doorState, alarmState, deviceKey sql.NullString
	var battery sql.NullFloat64
	var lastSeenAt, lastEventAt sql.NullTime
	var isOnline sql.NullBool
	if err := row.Scan(
		&device.ID,
		&device.OwnerID,
		&device.Name,
		&device.Type,
		&roomName,
		&wifiSSID,
		&device.IsEnabled,
		&device.AlarmEnabled,
		&doorState,
		&alarmState,
		&battery,
		&lastSeenAt,
		&lastEventAt,
		&isOnline,
		&device.CreatedAt,
		&deviceKey,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	device.RoomName = roomName.String
	device.WifiSSID = wifiSSID.String
	device.LastDoorState = devices.DoorState(doorState.String)
	device.LastAlarmState = devices.AlarmState(alarmState.String)
	device.DeviceKey = deviceKey.String
	device.CreatedAt = device.CreatedAt.UTC()
	if battery.Valid {
		v := battery.Float64
		device.LastBattery = &v
	}
	if lastSeenAt.Valid {
		device.LastSeenAt = lastSeenAt.Time.UTC()
	}
	if lastEventAt.Valid {
		device.LastEventAt = lastEventAt.Time.UTC()
	}
	if isOnline.Valid {
		v := isOnline.Bool
		device.IsOnline = &v
	}
	return &device, nil
}
