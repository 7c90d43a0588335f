// Package service implements the identity core: password verification,
// OTP challenges, session lifecycle, password resets and the database
// backed rate limiter. Every decision here reads current database state;
// nothing security-relevant is cached between requests.
package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"civicportal/internal/config"
	"civicportal/internal/directory"
	"civicportal/internal/models"
	"civicportal/internal/notify"
	"civicportal/internal/rate"
	"civicportal/internal/rbac"
	"civicportal/internal/store"
	"civicportal/internal/util"
)

// Security event types written to security_logs.
const (
	EventLoginFailure          = "login_failure"
	EventLoginSuccess          = "login_success"
	EventRateLimited           = "rate_limited"
	EventOtpExhausted          = "otp_exhausted"
	EventSessionHijack         = "session_hijack_suspected"
	EventRememberedDeviceLogin = "remembered_device_login"
	EventLogout                = "logout"
	EventPasswordReset         = "password_reset"
)

type Service struct {
	store    *store.Store
	dir      directory.Directory
	sender   notify.Sender
	matrix   *rbac.Matrix
	cfg      config.Config
	sealKey  []byte
	policies map[string]rate.Policy
}

func New(st *store.Store, dir directory.Directory, sender notify.Sender, matrix *rbac.Matrix, cfg config.Config) *Service {
	return &Service{
		store:    st,
		dir:      dir,
		sender:   sender,
		matrix:   matrix,
		cfg:      cfg,
		sealKey:  util.Derive32ByteKey(cfg.SessionEncryptKey),
		policies: rate.Policies(),
	}
}

func (s *Service) Store() *store.Store  { return s.store }
func (s *Service) Matrix() *rbac.Matrix { return s.matrix }

// Ready reports whether the database, the principal directory and the
// mail relay all answer.
func (s *Service) Ready(ctx context.Context) error {
	if err := s.store.DB().PingContext(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := s.dir.Ping(ctx); err != nil {
		return fmt.Errorf("directory: %w", err)
	}
	if err := s.sender.Ping(ctx); err != nil {
		return fmt.Errorf("mailer: %w", err)
	}
	return nil
}

// checkRate denies when the subject has already spent its budget for the
// action inside the trailing window. It reads the database on every call.
func (s *Service) checkRate(ctx context.Context, subjectKey, action, ip string) error {
	pol, ok := s.policies[action]
	if !ok {
		return fmt.Errorf("unknown rate action %q", action)
	}
	now := time.Now().UTC()
	n, err := s.store.CountRateAttempts(ctx, subjectKey, action, now.Add(-pol.Window))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}
	if n >= pol.Max {
		s.logEvent(ctx, EventRateLimited, nil, ip, fmt.Sprintf("action=%s subject=%s count=%d", action, subjectKey, n))
		return ErrRateLimited
	}
	return nil
}

// recordFailure appends one attempt row. Called only after a failed
// attempt; successes never consume budget.
func (s *Service) recordFailure(ctx context.Context, subjectKey, action string) {
	if err := s.store.InsertRateAttempt(ctx, subjectKey, action, time.Now().UTC()); err != nil {
		log.Printf("event=rate_record_failed action=%s err=%q", action, err)
	}
}

func (s *Service) logEvent(ctx context.Context, eventType string, principalID *string, ip, description string) {
	ev := models.SecurityEvent{
		EventType:   eventType,
		PrincipalID: principalID,
		IPAddress:   ip,
		Description: description,
	}
	if err := s.store.InsertSecurityEvent(ctx, ev); err != nil {
		log.Printf("event=security_log_failed type=%s err=%q", eventType, err)
	}
}

// SecurityEvents lists audit records for admin review.
func (s *Service) SecurityEvents(ctx context.Context, q models.SecurityEventQuery) ([]models.SecurityEvent, error) {
	return s.store.ListSecurityEvents(ctx, q)
}

// Janitor removes expired challenges, sessions, resets and devices.
// Best effort; the read paths enforce expiry on their own.
func (s *Service) Janitor(ctx context.Context) {
	now := time.Now().UTC()
	if _, err := s.store.DeleteExpiredChallenges(ctx, now); err != nil {
		log.Printf("event=janitor_challenges_failed err=%q", err)
	}
	if _, err := s.store.DeleteExpiredSessions(ctx, now); err != nil {
		log.Printf("event=janitor_sessions_failed err=%q", err)
	}
	if _, err := s.store.DeleteExpiredPasswordResets(ctx, now); err != nil {
		log.Printf("event=janitor_resets_failed err=%q", err)
	}
	if _, err := s.store.DeleteExpiredRememberedDevices(ctx, now); err != nil {
		log.Printf("event=janitor_devices_failed err=%q", err)
	}
}
