package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	devices "wardex-cloud/internal/devices/domain"
)

const uniqueViolation = "23505"

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the Postgres-backed device registry.
type Store struct {
	db *sql.DB
	*DeviceRepository
	*AccessRepository
	*HistoryRepository
}

// NewStore constructs a Store over an open pgx-backed database.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("device store: nil db")
	}
	return &Store{
		db:                db,
		DeviceRepository:  NewDeviceRepository(db),
		AccessRepository:  NewAccessRepository(db),
		HistoryRepository: NewHistoryRepository(db),
	}, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("device store: nil db")
	}
	var one int
	return s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

// WithDeviceLocked runs fn inside a transaction holding the device row lock.
func (s *Store) WithDeviceLocked(ctx context.Context, deviceID string, fn func(ctx context.Context, tx devices.StateTx) error) error {
	if s == nil || s.db == nil {
		return errors.New("device store: nil db")
	}
	if !devices.ValidID(deviceID) {
		return devices.ErrDeviceNotFound
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	repo := NewDeviceRepository(tx)
	device, err := repo.getForUpdate(ctx, deviceID)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if device == nil {
		_ = tx.Rollback()
		return devices.ErrDeviceNotFound
	}

	state := &stateTx{
		device:  *device,
		devices: repo,
		history: NewHistoryRepository(tx),
	}
	if err := fn(ctx, state); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type stateTx struct {
	device  devices.Device
	devices *DeviceRepository
	history *HistoryRepository
}

func (t *stateTx) Device() devices.Device { return t.device }

func (t *stateTx) UpdateState(ctx context.Context, update devices.StateUpdate) error {
	if err := t.devices.UpdateState(ctx, t.device.ID, update); err != nil {
		return err
	}
	update.Apply(&t.device)
	return nil
}

func (t *stateTx) InsertDoorEvent(ctx context.Context, event *devices.DoorEvent) error {
	return t.history.InsertDoorEvent(ctx, event)
}

func (t *stateTx) InsertAlarmEvent(ctx context.Context, event *devices.AlarmEvent) error {
	return t.history.InsertAlarmEvent(ctx, event)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullableTime(value time.Time) sql.NullTime {
	if value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value, Valid: true}
}

func nullableString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func nullableFloat(value *float64) sql.NullFloat64 {
	if value == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *value, Valid: true}
}

func nullableBool(value *bool) sql.NullBool {
	if value == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *value, Valid: true}
}
