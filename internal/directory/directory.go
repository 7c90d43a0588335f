// Package directory resolves principals by email. The default backend is
// the portal's own employees/citizens tables; deployments that keep
// accounts in a shared municipal database point the SQL backend at it
// instead.
package directory

import (
	"context"
	"errors"

	"civicportal/internal/models"
)

// ErrNotFound is returned when no principal exists for an email. Callers
// translate it into a generic invalid-credentials answer, never into a
// user-visible "no such account".
var ErrNotFound = errors.New("directory: principal not found")

type Directory interface {
	// StaffByEmail and CitizenByEmail look up a principal in the
	// respective population. Role on citizen principals is always
	// models.RoleCitizen.
	StaffByEmail(ctx context.Context, email string) (*models.Principal, error)
	CitizenByEmail(ctx context.Context, email string) (*models.Principal, error)

	// CitizenByID backs remembered-device logins, which carry only the
	// citizen id.
	CitizenByID(ctx context.Context, id string) (*models.Principal, error)

	UpdatePassword(ctx context.Context, userType models.UserType, id, passwordHash string) error
	TouchLastLogin(ctx context.Context, userType models.UserType, id string) error

	Ping(ctx context.Context) error
}
