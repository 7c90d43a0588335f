package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"civicportal/internal/models"
)

func (s *Store) CreateSession(ctx context.Context, sess models.Session) (models.Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(id,principal_id,principal_name,user_type,role,token_hash,csrf_token,fingerprint_hash,ip_hint,login_at,last_activity_at,expires_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		sess.ID, sess.PrincipalID, sess.PrincipalName, sess.UserType, sess.Role,
		sess.TokenHash, sess.CSRFToken, sess.FingerprintHash, sess.IPHint,
		sess.LoginAt, sess.LastActivityAt, sess.ExpiresAt,
	)
	if isUniqueErr(err) {
		return models.Session{}, ErrConflict
	}
	return sess, err
}

func (s *Store) GetSessionByTokenHash(ctx context.Context, tokenHash string) (models.Session, error) {
	var sess models.Session
	var revoked sql.NullTime
	var ipHint sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id,principal_id,principal_name,user_type,role,token_hash,csrf_token,fingerprint_hash,ip_hint,login_at,last_activity_at,expires_at,revoked_at
		 FROM sessions WHERE token_hash=?`, tokenHash,
	).Scan(&sess.ID, &sess.PrincipalID, &sess.PrincipalName, &sess.UserType, &sess.Role,
		&sess.TokenHash, &sess.CSRFToken, &sess.FingerprintHash, &ipHint,
		&sess.LoginAt, &sess.LastActivityAt, &sess.ExpiresAt, &revoked)
	if err == sql.ErrNoRows {
		return models.Session{}, ErrNotFound
	}
	if err != nil {
		return models.Session{}, err
	}
	if ipHint.Valid {
		sess.IPHint = ipHint.String
	}
	if revoked.Valid {
		t := revoked.Time
		sess.RevokedAt = &t
	}
	return sess, nil
}

func (s *Store) TouchSessionActivity(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET last_activity_at=? WHERE id=?`, at, id)
	return err
}

func (s *Store) RevokeSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at=? WHERE id=? AND revoked_at IS NULL`,
		time.Now().UTC(), id)
	return err
}

// RevokePrincipalSessions kills every live session of a principal, used
// after password changes.
func (s *Store) RevokePrincipalSessions(ctx context.Context, userType models.UserType, principalID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at=? WHERE principal_id=? AND user_type=? AND revoked_at IS NULL`,
		time.Now().UTC(), principalID, userType)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RotateCSRF replaces the session's CSRF token and returns the new value.
func (s *Store) RotateCSRF(ctx context.Context, sessionID, newToken string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET csrf_token=? WHERE id=?`, newToken, sessionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpiredSessions removes rows past their absolute deadline or
// revoked more than a day ago. Called opportunistically from the janitor.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at < ? OR (revoked_at IS NOT NULL AND revoked_at < ?)`,
		now, now.Add(-24*time.Hour))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
