package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"civicportal/internal/models"
)

func (s *Store) InsertSecurityEvent(ctx context.Context, ev models.SecurityEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO security_logs(id,event_type,principal_id,ip_address,description,created_at) VALUES(?,?,?,?,?,?)`,
		ev.ID, ev.EventType, ev.PrincipalID, ev.IPAddress, ev.Description, ev.CreatedAt)
	return err
}

func (s *Store) ListSecurityEvents(ctx context.Context, q models.SecurityEventQuery) ([]models.SecurityEvent, error) {
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	var (
		rows *sql.Rows
		err  error
	)
	if q.EventType != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id,event_type,principal_id,ip_address,description,created_at
			 FROM security_logs WHERE event_type=? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
			q.EventType, limit, offset)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id,event_type,principal_id,ip_address,description,created_at
			 FROM security_logs ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
			limit, offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.SecurityEvent{}
	for rows.Next() {
		var ev models.SecurityEvent
		var pid sql.NullString
		if err := rows.Scan(&ev.ID, &ev.EventType, &pid, &ev.IPAddress, &ev.Description, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if pid.Valid {
			v := pid.String
			ev.PrincipalID = &v
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
