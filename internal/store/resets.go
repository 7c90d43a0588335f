package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"civicportal/internal/models"
)

// UpsertPasswordReset stores the pending reset for an address, replacing
// any earlier one. One active reset per email.
func (s *Store) UpsertPasswordReset(ctx context.Context, r models.PasswordReset) error {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO password_resets(email,user_type,token_hash,expires_at,created_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(email) DO UPDATE SET user_type=excluded.user_type, token_hash=excluded.token_hash,
		 expires_at=excluded.expires_at, created_at=excluded.created_at`,
		r.Email, r.UserType, r.TokenHash, r.ExpiresAt, r.CreatedAt)
	return err
}

// ConsumePasswordReset atomically fetches and deletes the reset matching
// the token hash. A token works exactly once.
func (s *Store) ConsumePasswordReset(ctx context.Context, tokenHash string) (models.PasswordReset, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.PasswordReset{}, err
	}
	defer tx.Rollback()
	var r models.PasswordReset
	err = tx.QueryRowContext(ctx,
		`SELECT email,user_type,token_hash,expires_at,created_at FROM password_resets WHERE token_hash=?`,
		tokenHash).Scan(&r.Email, &r.UserType, &r.TokenHash, &r.ExpiresAt, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return models.PasswordReset{}, ErrNotFound
	}
	if err != nil {
		return models.PasswordReset{}, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM password_resets WHERE email=?`, r.Email); err != nil {
		return models.PasswordReset{}, err
	}
	return r, tx.Commit()
}

func (s *Store) DeleteExpiredPasswordResets(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM password_resets WHERE expires_at < ?`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
