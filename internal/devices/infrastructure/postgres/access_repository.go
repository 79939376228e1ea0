package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	devices "wardex-cloud/internal/devices/domain"
)

// AccessRepository is a Postgres implementation for device access grants.
type AccessRepository struct {
	db DBTX
}

// NewAccessRepository constructs a repository.
func NewAccessRepository(db DBTX) *AccessRepository {
	return &AccessRepository{db: db}
}

// Resolve reports the relation between userID and deviceID in one query.
func (r *AccessRepository) Resolve(ctx context.Context, deviceID, userID string) (devices.Access, error) {
	if r == nil || r.db == nil {
		return devices.Access{}, errors.New("access repo: nil db")
	}
	if !devices.ValidID(deviceID) || !devices.ValidID(userID) {
		return devices.Access{}, nil
	}
	var ownerID string
	var role sql.NullString
	err := r.db.QueryRowContext(ctx, `
SELECT d.owner_id, a.role
FROM devices d
LEFT JOIN device_access a ON a.device_id = d.id AND a.user_id = $2
WHERE d.id = $1
LIMIT 1`, deviceID, userID).Scan(&ownerID, &role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return devices.Access{}, nil
		}
		return devices.Access{}, err
	}
	return devices.Access{
		DeviceExists: true,
		Owner:        ownerID == userID,
		Role:         role.String,
	}, nil
}

// Grant inserts an access row.
func (r *AccessRepository) Grant(ctx context.Context, access *devices.DeviceAccess) error {
	if r == nil || r.db == nil {
		return errors.New("access repo: nil db")
	}
	if access == nil || !devices.ValidID(access.DeviceID) || !devices.ValidID(access.UserID) {
		return errors.New("access repo: invalid grant")
	}
	if access.CreatedAt.IsZero() {
		access.CreatedAt = time.Now().UTC()
	}
	err := r.db.QueryRowContext(ctx, `
INSERT INTO device_access (device_id, user_id, role, created_at)
VALUES ($1, $2, $3, $4)
RETURNING id`, access.DeviceID, access.UserID, access.Role, access.CreatedAt).Scan(&access.ID)
	if isUniqueViolation(err) {
		return devices.ErrConflict
	}
	return err
}
