package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"civicportal/internal/auth"
	"civicportal/internal/directory"
	"civicportal/internal/models"
	"civicportal/internal/rate"
	"civicportal/internal/store"
)

const resetTokenLifetime = 30 * time.Minute

// RequestPasswordReset mails a single-use reset token when the address
// exists. The caller gets the same nil answer either way, so the endpoint
// cannot be used to probe for accounts. Only the rate limiter can turn
// this into an error.
func (s *Service) RequestPasswordReset(ctx context.Context, userType models.UserType, email, ip string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := s.checkRate(ctx, ip, rate.ActionPasswordReset, ip); err != nil {
		return err
	}
	s.recordFailure(ctx, ip, rate.ActionPasswordReset)

	var (
		p   *models.Principal
		err error
	)
	switch userType {
	case models.UserTypeEmployee:
		p, err = s.dir.StaffByEmail(ctx, email)
	case models.UserTypeCitizen:
		p, err = s.dir.CitizenByEmail(ctx, email)
	default:
		return fmt.Errorf("unknown user type %q", userType)
	}
	if errors.Is(err, directory.ErrNotFound) {
		return nil
	}
	if err != nil {
		s.logDirErr("reset_lookup", err)
		return nil
	}

	rawToken, tokenHash, err := auth.NewOpaqueToken()
	if err != nil {
		s.logDirErr("reset_token", err)
		return nil
	}
	now := time.Now().UTC()
	if err := s.store.UpsertPasswordReset(ctx, models.PasswordReset{
		Email:     p.Email,
		UserType:  p.UserType,
		TokenHash: tokenHash,
		ExpiresAt: now.Add(resetTokenLifetime),
		CreatedAt: now,
	}); err != nil {
		s.logDirErr("reset_store", err)
		return nil
	}
	if err := s.sender.SendPasswordReset(ctx, p.Email, rawToken); err != nil {
		s.logDirErr("reset_mail", err)
	}
	return nil
}

// ConfirmPasswordReset consumes the token, installs the new password and
// revokes every session and remembered device of the principal.
func (s *Service) ConfirmPasswordReset(ctx context.Context, token, newPassword, ip string) error {
	if err := auth.CheckPasswordPolicy(newPassword, s.cfg.PasswordMinLength, s.cfg.PasswordMaxLength); err != nil {
		return fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
	}
	r, err := s.store.ConsumePasswordReset(ctx, auth.HashToken(token))
	if errors.Is(err, store.ErrNotFound) {
		return ErrResetInvalid
	}
	if err != nil {
		return translateStoreErr(err)
	}
	if time.Now().UTC().After(r.ExpiresAt) {
		return ErrResetInvalid
	}

	var p *models.Principal
	switch r.UserType {
	case models.UserTypeEmployee:
		p, err = s.dir.StaffByEmail(ctx, r.Email)
	case models.UserTypeCitizen:
		p, err = s.dir.CitizenByEmail(ctx, r.Email)
	default:
		return ErrResetInvalid
	}
	if errors.Is(err, directory.ErrNotFound) {
		return ErrResetInvalid
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}

	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}
	if err := s.dir.UpdatePassword(ctx, p.UserType, p.ID, hash); err != nil {
		return fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}
	if _, err := s.store.RevokePrincipalSessions(ctx, p.UserType, p.ID); err != nil {
		s.logDirErr("reset_revoke_sessions", err)
	}
	if p.UserType == models.UserTypeCitizen {
		if _, err := s.store.RevokeCitizenDevices(ctx, p.ID); err != nil {
			s.logDirErr("reset_revoke_devices", err)
		}
	}
	s.logEvent(ctx, EventPasswordReset, &p.ID, ip, fmt.Sprintf("type=%s", p.UserType))
	return nil
}
