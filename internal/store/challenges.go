package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"civicportal/internal/models"
)

// ReplaceChallenge drops any existing challenge for the browser cookie
// and inserts the new one, keeping at most one pending login per browser.
func (s *Store) ReplaceChallenge(ctx context.Context, oldCookieHash string, ch models.LoginChallenge) (models.LoginChallenge, error) {
	if ch.ID == "" {
		ch.ID = uuid.NewString()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.LoginChallenge{}, err
	}
	defer tx.Rollback()
	if oldCookieHash != "" {
		if _, err := tx.ExecContext(ctx, `DELETE FROM login_challenges WHERE cookie_hash=?`, oldCookieHash); err != nil {
			return models.LoginChallenge{}, err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO login_challenges(id,cookie_hash,principal_id,principal_name,user_type,role,destination_email,code,attempts,remember_device,issued_at,last_sent_at,expires_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		ch.ID, ch.CookieHash, ch.PrincipalID, ch.PrincipalName, ch.UserType, ch.Role,
		ch.DestinationEmail, ch.Code, ch.Attempts, boolInt(ch.RememberDevice),
		ch.IssuedAt, ch.LastSentAt, ch.ExpiresAt,
	); err != nil {
		if isUniqueErr(err) {
			return models.LoginChallenge{}, ErrConflict
		}
		return models.LoginChallenge{}, err
	}
	return ch, tx.Commit()
}

func (s *Store) GetChallengeByCookieHash(ctx context.Context, cookieHash string) (models.LoginChallenge, error) {
	var ch models.LoginChallenge
	var remember int
	err := s.db.QueryRowContext(ctx,
		`SELECT id,cookie_hash,principal_id,principal_name,user_type,role,destination_email,code,attempts,remember_device,issued_at,last_sent_at,expires_at
		 FROM login_challenges WHERE cookie_hash=?`, cookieHash,
	).Scan(&ch.ID, &ch.CookieHash, &ch.PrincipalID, &ch.PrincipalName, &ch.UserType, &ch.Role,
		&ch.DestinationEmail, &ch.Code, &ch.Attempts, &remember,
		&ch.IssuedAt, &ch.LastSentAt, &ch.ExpiresAt)
	if err == sql.ErrNoRows {
		return models.LoginChallenge{}, ErrNotFound
	}
	if err != nil {
		return models.LoginChallenge{}, err
	}
	ch.RememberDevice = remember != 0
	return ch, nil
}

// IncrementChallengeAttempts bumps the counter in the database and
// returns the new value. The relative UPDATE keeps concurrent verifies
// from losing increments.
func (s *Store) IncrementChallengeAttempts(ctx context.Context, id string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE login_challenges SET attempts = attempts + 1 WHERE id=?`, id)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrNotFound
	}
	var attempts int
	if err := s.db.QueryRowContext(ctx,
		`SELECT attempts FROM login_challenges WHERE id=?`, id).Scan(&attempts); err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return attempts, nil
}

// RefreshChallenge installs a new code on an existing challenge, resets
// the attempt counter and extends expiry. Used by resend.
func (s *Store) RefreshChallenge(ctx context.Context, id, code string, sentAt, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE login_challenges SET code=?, attempts=0, last_sent_at=?, expires_at=? WHERE id=?`,
		code, sentAt, expiresAt, id)
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

func (s *Store) DeleteChallenge(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM login_challenges WHERE id=?`, id)
	return err
}

func (s *Store) DeleteExpiredChallenges(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM login_challenges WHERE expires_at < ?`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
