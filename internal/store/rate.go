package store

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
)

// InsertRateAttempt appends one attempt row and opportunistically prunes
// rows older than an hour across all subjects and actions. Prune failures
// are logged, never surfaced: losing old rows only loosens limits.
func (s *Store) InsertRateAttempt(ctx context.Context, subjectKey, action string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rate_limiting(id,subject_key,action_type,attempt_time) VALUES(?,?,?,?)`,
		uuid.NewString(), subjectKey, action, at)
	if err != nil {
		return err
	}
	if _, perr := s.db.ExecContext(ctx,
		`DELETE FROM rate_limiting WHERE attempt_time < ?`, at.Add(-time.Hour)); perr != nil {
		log.Printf("event=rate_prune_failed err=%q", perr)
	}
	return nil
}

// CountRateAttempts counts attempts for a subject and action inside the
// trailing window ending at now.
func (s *Store) CountRateAttempts(ctx context.Context, subjectKey, action string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM rate_limiting WHERE subject_key=? AND action_type=? AND attempt_time >= ?`,
		subjectKey, action, since).Scan(&n)
	return n, err
}
