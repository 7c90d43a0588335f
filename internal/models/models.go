package models

import "time"

// UserType distinguishes the two principal tables. Staff accounts carry an
// explicit role; citizen accounts are implicitly "citizen".
type UserType string

const (
	UserTypeEmployee UserType = "employee"
	UserTypeCitizen  UserType = "citizen"
)

const RoleCitizen = "citizen"

// StaffRoles are the roles a staff account may hold.
var StaffRoles = []string{"admin", "super_admin", "employee", "department_head", "contractor"}

type Principal struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         string
	UserType     UserType
	CreatedAt    time.Time
	LastLoginAt  *time.Time
}

// Session is the server-side record behind the opaque session cookie. The
// cookie carries the raw token; only its SHA-256 hash is stored.
type Session struct {
	ID              string
	PrincipalID     string
	PrincipalName   string
	UserType        UserType
	Role            string
	TokenHash       string
	CSRFToken       string
	FingerprintHash string
	IPHint          string
	LoginAt         time.Time
	LastActivityAt  time.Time
	ExpiresAt       time.Time
	RevokedAt       *time.Time
}

// LoginChallenge is the pending-login record created after a successful
// password check and destroyed when the OTP phase ends. At most one challenge
// exists per browser; issuing a new one discards the prior.
type LoginChallenge struct {
	ID               string
	CookieHash       string
	PrincipalID      string
	PrincipalName    string
	UserType         UserType
	Role             string
	DestinationEmail string
	Code             string
	Attempts         int
	RememberDevice   bool
	IssuedAt         time.Time
	LastSentAt       time.Time
	ExpiresAt        time.Time
}

// SecurityEvent is an append-only audit record. The core writes these and
// never reads them back for its own decisions.
type SecurityEvent struct {
	ID          string    `json:"id"`
	EventType   string    `json:"event_type"`
	PrincipalID *string   `json:"principal_id,omitempty"`
	IPAddress   string    `json:"ip_address"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// PasswordReset is keyed by email: at most one active reset per address,
// replaced on each new request.
type PasswordReset struct {
	Email     string
	UserType  UserType
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// RememberedDevice lets a known citizen browser skip password and OTP for a
// bounded period. Staff logins never get one.
type RememberedDevice struct {
	ID        string
	CitizenID string
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

type SecurityEventQuery struct {
	EventType string
	Limit     int
	Offset    int
}
