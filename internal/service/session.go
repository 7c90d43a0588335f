package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"civicportal/internal/auth"
	"civicportal/internal/models"
	"civicportal/internal/store"
	"civicportal/internal/util"
)

// createSession mints the server-side session record and the opaque token
// handed to the browser. Always called with a freshly generated token, so
// no pre-authentication identifier ever survives into an authenticated
// session.
func (s *Service) createSession(ctx context.Context, principalID, principalName string, userType models.UserType, role, ip, userAgent string) (models.Session, string, error) {
	rawToken, tokenHash, err := auth.NewOpaqueToken()
	if err != nil {
		return models.Session{}, "", fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}
	csrf, err := auth.NewCSRFToken()
	if err != nil {
		return models.Session{}, "", fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}
	now := time.Now().UTC()
	sess := models.Session{
		PrincipalID:     principalID,
		PrincipalName:   principalName,
		UserType:        userType,
		Role:            role,
		TokenHash:       tokenHash,
		CSRFToken:       csrf,
		FingerprintHash: auth.HashUserAgent(userAgent),
		IPHint:          ip,
		LoginAt:         now,
		LastActivityAt:  now,
		ExpiresAt:       now.Add(s.cfg.SessionAbsoluteDuration()),
	}
	sess, err = s.store.CreateSession(ctx, sess)
	if err != nil {
		return models.Session{}, "", translateStoreErr(err)
	}
	return sess, rawToken, nil
}

// ValidateSession resolves a presented session token and enforces the
// lifecycle rules in order: existence, revocation, absolute lifetime,
// idle timeout, then the browser fingerprint. It never advances the
// activity timestamp; that happens in RefreshActivity once the request
// has also cleared CSRF and authorization, so rejected requests cannot
// keep a session alive.
func (s *Service) ValidateSession(ctx context.Context, rawToken, userAgent, ip string) (models.Session, error) {
	if rawToken == "" {
		return models.Session{}, ErrSessionExpired
	}
	sess, err := s.store.GetSessionByTokenHash(ctx, auth.HashToken(rawToken))
	if errors.Is(err, store.ErrNotFound) {
		return models.Session{}, ErrSessionExpired
	}
	if err != nil {
		return models.Session{}, translateStoreErr(err)
	}
	now := time.Now().UTC()
	if sess.RevokedAt != nil {
		return models.Session{}, ErrSessionExpired
	}
	if now.After(sess.ExpiresAt) {
		_ = s.store.RevokeSession(ctx, sess.ID)
		return models.Session{}, ErrSessionExpired
	}
	if now.Sub(sess.LastActivityAt) > s.cfg.SessionIdleDuration() {
		_ = s.store.RevokeSession(ctx, sess.ID)
		return models.Session{}, ErrSessionExpired
	}
	if auth.HashUserAgent(userAgent) != sess.FingerprintHash {
		_ = s.store.RevokeSession(ctx, sess.ID)
		s.logEvent(ctx, EventSessionHijack, &sess.PrincipalID, ip,
			fmt.Sprintf("type=%s session=%s", sess.UserType, sess.ID))
		return models.Session{}, ErrSessionHijack
	}
	return sess, nil
}

// RefreshActivity advances the idle-timeout clock. Best effort: a missed
// refresh only shortens the session, never extends it.
func (s *Service) RefreshActivity(ctx context.Context, sessionID string) {
	if err := s.store.TouchSessionActivity(ctx, sessionID, time.Now().UTC()); err != nil {
		log.Printf("event=activity_refresh_failed err=%q", err)
	}
}

// Logout revokes the session and, when a remember-device cookie rides
// along, that device registration too.
func (s *Service) Logout(ctx context.Context, sess models.Session, sealedRememberCookie, ip string) error {
	if err := s.store.RevokeSession(ctx, sess.ID); err != nil {
		return translateStoreErr(err)
	}
	if sealedRememberCookie != "" && sess.UserType == models.UserTypeCitizen {
		if raw, err := util.DecryptString(s.sealKey, sealedRememberCookie); err == nil {
			if dev, derr := s.store.GetRememberedDeviceByTokenHash(ctx, auth.HashToken(raw)); derr == nil {
				if err := s.store.RevokeRememberedDevice(ctx, dev.ID); err != nil {
					s.logDirErr("revoke_device", err)
				}
			}
		}
	}
	s.logEvent(ctx, EventLogout, &sess.PrincipalID, ip, fmt.Sprintf("type=%s", sess.UserType))
	return nil
}

// RotateCSRF installs a fresh CSRF token on the session and returns it.
func (s *Service) RotateCSRF(ctx context.Context, sessionID string) (string, error) {
	token, err := auth.NewCSRFToken()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}
	if err := s.store.RotateCSRF(ctx, sessionID, token); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrSessionExpired
		}
		return "", translateStoreErr(err)
	}
	return token, nil
}
