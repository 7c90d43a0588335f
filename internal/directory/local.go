package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"civicportal/internal/models"
)

// Local serves principals from the employees and citizens tables in the
// portal's own database.
type Local struct {
	db *sql.DB
}

func NewLocal(db *sql.DB) *Local {
	return &Local{db: db}
}

func (l *Local) StaffByEmail(ctx context.Context, email string) (*models.Principal, error) {
	return l.byEmail(ctx, models.UserTypeEmployee, email)
}

func (l *Local) CitizenByEmail(ctx context.Context, email string) (*models.Principal, error) {
	return l.byEmail(ctx, models.UserTypeCitizen, email)
}

func (l *Local) byEmail(ctx context.Context, ut models.UserType, email string) (*models.Principal, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var (
		q string
		p models.Principal
	)
	p.UserType = ut
	switch ut {
	case models.UserTypeEmployee:
		q = `SELECT id, name, email, password_hash, role, created_at, last_login_at FROM employees WHERE email = ?`
	case models.UserTypeCitizen:
		q = `SELECT id, name, email, password_hash, created_at, last_login_at FROM citizens WHERE email = ?`
	default:
		return nil, fmt.Errorf("directory: unknown user type %q", ut)
	}
	row := l.db.QueryRowContext(ctx, q, email)
	var last sql.NullTime
	var err error
	if ut == models.UserTypeEmployee {
		err = row.Scan(&p.ID, &p.Name, &p.Email, &p.PasswordHash, &p.Role, &p.CreatedAt, &last)
	} else {
		err = row.Scan(&p.ID, &p.Name, &p.Email, &p.PasswordHash, &p.CreatedAt, &last)
		p.Role = models.RoleCitizen
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if last.Valid {
		t := last.Time
		p.LastLoginAt = &t
	}
	return &p, nil
}

func (l *Local) CitizenByID(ctx context.Context, id string) (*models.Principal, error) {
	var p models.Principal
	p.UserType = models.UserTypeCitizen
	p.Role = models.RoleCitizen
	var last sql.NullTime
	err := l.db.QueryRowContext(ctx,
		`SELECT id, name, email, password_hash, created_at, last_login_at FROM citizens WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.Email, &p.PasswordHash, &p.CreatedAt, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if last.Valid {
		t := last.Time
		p.LastLoginAt = &t
	}
	return &p, nil
}

func (l *Local) UpdatePassword(ctx context.Context, ut models.UserType, id, passwordHash string) error {
	res, err := l.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET password_hash = ? WHERE id = ?`, tableFor(ut)),
		passwordHash, id)
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

func (l *Local) TouchLastLogin(ctx context.Context, ut models.UserType, id string) error {
	_, err := l.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET last_login_at = ? WHERE id = ?`, tableFor(ut)),
		time.Now().UTC(), id)
	return err
}

func (l *Local) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

func tableFor(ut models.UserType) string {
	if ut == models.UserTypeCitizen {
		return "citizens"
	}
	return "employees"
}
