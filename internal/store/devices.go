package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"civicportal/internal/models"
)

func (s *Store) CreateRememberedDevice(ctx context.Context, d models.RememberedDevice) (models.RememberedDevice, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO remembered_devices(id,citizen_id,token_hash,created_at,expires_at) VALUES(?,?,?,?,?)`,
		d.ID, d.CitizenID, d.TokenHash, d.CreatedAt, d.ExpiresAt)
	if isUniqueErr(err) {
		return models.RememberedDevice{}, ErrConflict
	}
	return d, err
}

func (s *Store) GetRememberedDeviceByTokenHash(ctx context.Context, tokenHash string) (models.RememberedDevice, error) {
	var d models.RememberedDevice
	var revoked sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id,citizen_id,token_hash,created_at,expires_at,revoked_at FROM remembered_devices WHERE token_hash=?`,
		tokenHash).Scan(&d.ID, &d.CitizenID, &d.TokenHash, &d.CreatedAt, &d.ExpiresAt, &revoked)
	if err == sql.ErrNoRows {
		return models.RememberedDevice{}, ErrNotFound
	}
	if err != nil {
		return models.RememberedDevice{}, err
	}
	if revoked.Valid {
		t := revoked.Time
		d.RevokedAt = &t
	}
	return d, nil
}

func (s *Store) RevokeRememberedDevice(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE remembered_devices SET revoked_at=? WHERE id=? AND revoked_at IS NULL`,
		time.Now().UTC(), id)
	return err
}

// RevokeCitizenDevices clears every remembered device of a citizen, used
// after password changes.
func (s *Store) RevokeCitizenDevices(ctx context.Context, citizenID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE remembered_devices SET revoked_at=? WHERE citizen_id=? AND revoked_at IS NULL`,
		time.Now().UTC(), citizenID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) DeleteExpiredRememberedDevices(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM remembered_devices WHERE expires_at < ?`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
