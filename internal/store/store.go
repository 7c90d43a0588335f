package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"civicportal/internal/models"
)

var ErrNotFound = errors.New("not found")
var ErrConflict = errors.New("conflict")

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store { return &Store{db: db} }

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) CreateEmployee(ctx context.Context, name, email, passwordHash, role string) (models.Principal, error) {
	now := time.Now().UTC()
	p := models.Principal{
		ID: uuid.NewString(), Name: name,
		Email: strings.ToLower(strings.TrimSpace(email)),
		PasswordHash: passwordHash, Role: strings.ToLower(role),
		UserType: models.UserTypeEmployee, CreatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO employees(id,name,email,password_hash,role,created_at) VALUES(?,?,?,?,?,?)`,
		p.ID, p.Name, p.Email, p.PasswordHash, p.Role, p.CreatedAt,
	)
	if isUniqueErr(err) {
		return models.Principal{}, ErrConflict
	}
	return p, err
}

func (s *Store) CreateCitizen(ctx context.Context, name, email, passwordHash string) (models.Principal, error) {
	now := time.Now().UTC()
	p := models.Principal{
		ID: uuid.NewString(), Name: name,
		Email: strings.ToLower(strings.TrimSpace(email)),
		PasswordHash: passwordHash, Role: models.RoleCitizen,
		UserType: models.UserTypeCitizen, CreatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO citizens(id,name,email,password_hash,created_at) VALUES(?,?,?,?,?)`,
		p.ID, p.Name, p.Email, p.PasswordHash, p.CreatedAt,
	)
	if isUniqueErr(err) {
		return models.Principal{}, ErrConflict
	}
	return p, err
}

// EnsureAdmin guarantees a staff admin account exists with the given
// credentials. Run once at startup from configuration.
func (s *Store) EnsureAdmin(ctx context.Context, name, email, passwordHash string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || passwordHash == "" {
		return nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE employees SET name=?, password_hash=?, role='admin' WHERE email=?`,
		name, passwordHash, email,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO employees(id,name,email,password_hash,role,created_at) VALUES(?,?,?,?,?,?)`,
		uuid.NewString(), name, email, passwordHash, "admin", time.Now().UTC(),
	)
	return err
}

func isUniqueErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
