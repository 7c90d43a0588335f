package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"civicportal/internal/auth"
	"civicportal/internal/directory"
	"civicportal/internal/models"
	"civicportal/internal/rate"
	"civicportal/internal/store"
	"civicportal/internal/util"
)

// StartLoginInput carries the first login phase. PriorLoginCookie is the
// raw pending-login cookie from the browser, if any; a new login discards
// the challenge behind it.
type StartLoginInput struct {
	UserType         models.UserType
	Email            string
	Password         string
	RememberDevice   bool
	IP               string
	PriorLoginCookie string
}

// StartLoginResult is returned after the password phase succeeds. The
// cookie value identifies the pending challenge; the code itself went out
// by mail and never appears in a response.
type StartLoginResult struct {
	LoginCookie string
	ExpiresAt   time.Time
}

// StartLogin verifies the password and, on success, mails a fresh OTP and
// parks the login in a challenge row. All credential failures collapse to
// ErrInvalidCredentials so responses cannot distinguish a wrong password
// from an unknown account.
func (s *Service) StartLogin(ctx context.Context, in StartLoginInput) (StartLoginResult, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	subject := in.IP + "|" + email
	if err := s.checkRate(ctx, subject, rate.ActionLogin, in.IP); err != nil {
		return StartLoginResult{}, err
	}

	var (
		p   *models.Principal
		err error
	)
	switch in.UserType {
	case models.UserTypeEmployee:
		p, err = s.dir.StaffByEmail(ctx, email)
	case models.UserTypeCitizen:
		p, err = s.dir.CitizenByEmail(ctx, email)
	default:
		return StartLoginResult{}, fmt.Errorf("unknown user type %q", in.UserType)
	}
	if errors.Is(err, directory.ErrNotFound) {
		// Burn comparable time so the miss is not observable.
		auth.VerifyPassword("$argon2id$v=19$m=32768,t=2,p=1$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", in.Password)
		s.recordFailure(ctx, subject, rate.ActionLogin)
		s.logEvent(ctx, EventLoginFailure, nil, in.IP, fmt.Sprintf("type=%s email=%s reason=unknown", in.UserType, email))
		return StartLoginResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return StartLoginResult{}, fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}
	if !auth.VerifyPassword(p.PasswordHash, in.Password) {
		s.recordFailure(ctx, subject, rate.ActionLogin)
		s.logEvent(ctx, EventLoginFailure, &p.ID, in.IP, fmt.Sprintf("type=%s reason=password", in.UserType))
		return StartLoginResult{}, ErrInvalidCredentials
	}

	code, err := auth.GenerateOTP()
	if err != nil {
		return StartLoginResult{}, fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}
	// Mail first. If delivery fails no challenge exists and the login
	// simply did not happen.
	if err := s.sender.SendVerificationCode(ctx, p.Email, p.Name, code); err != nil {
		return StartLoginResult{}, fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}

	rawCookie, cookieHash, err := auth.NewOpaqueToken()
	if err != nil {
		return StartLoginResult{}, fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}
	now := time.Now().UTC()
	ch := models.LoginChallenge{
		CookieHash:       cookieHash,
		PrincipalID:      p.ID,
		PrincipalName:    p.Name,
		UserType:         p.UserType,
		Role:             p.Role,
		DestinationEmail: p.Email,
		Code:             code,
		RememberDevice:   in.RememberDevice && p.UserType == models.UserTypeCitizen,
		IssuedAt:         now,
		LastSentAt:       now,
		ExpiresAt:        now.Add(s.cfg.OTPExpiry()),
	}
	var oldHash string
	if in.PriorLoginCookie != "" {
		oldHash = auth.HashToken(in.PriorLoginCookie)
	}
	if _, err := s.store.ReplaceChallenge(ctx, oldHash, ch); err != nil {
		return StartLoginResult{}, fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}
	return StartLoginResult{LoginCookie: rawCookie, ExpiresAt: ch.ExpiresAt}, nil
}

// VerifyResult is a completed login: a brand-new session token plus the
// optional sealed remember-device cookie.
type VerifyResult struct {
	SessionToken   string
	Session        models.Session
	RememberCookie string
	RememberExpiry time.Time
}

// VerifyOTP checks a submitted code against the pending challenge. A
// malformed submission is rejected before it can consume one of the five
// attempts; an exhausted challenge stays exhausted until it expires.
func (s *Service) VerifyOTP(ctx context.Context, loginCookie, code, ip, userAgent string) (VerifyResult, error) {
	if err := s.checkRate(ctx, ip, rate.ActionOTPVerify, ip); err != nil {
		return VerifyResult{}, err
	}
	if loginCookie == "" {
		return VerifyResult{}, ErrNoChallenge
	}
	ch, err := s.store.GetChallengeByCookieHash(ctx, auth.HashToken(loginCookie))
	if errors.Is(err, store.ErrNotFound) {
		return VerifyResult{}, ErrNoChallenge
	}
	if err != nil {
		return VerifyResult{}, translateStoreErr(err)
	}
	now := time.Now().UTC()
	if now.After(ch.ExpiresAt) {
		_ = s.store.DeleteChallenge(ctx, ch.ID)
		return VerifyResult{}, ErrOtpExpired
	}
	if !auth.ValidOTPFormat(code) {
		return VerifyResult{}, ErrOtpInvalidFormat
	}
	if ch.Attempts >= s.cfg.OTPMaxAttempts {
		return VerifyResult{}, ErrOtpExhausted
	}
	if !auth.OTPEqual(ch.Code, code) {
		attempts, ierr := s.store.IncrementChallengeAttempts(ctx, ch.ID)
		if ierr != nil {
			return VerifyResult{}, translateStoreErr(ierr)
		}
		s.recordFailure(ctx, ip, rate.ActionOTPVerify)
		if attempts >= s.cfg.OTPMaxAttempts {
			s.logEvent(ctx, EventOtpExhausted, &ch.PrincipalID, ip, fmt.Sprintf("type=%s attempts=%d", ch.UserType, attempts))
			return VerifyResult{}, ErrOtpExhausted
		}
		return VerifyResult{}, ErrOtpMismatch
	}

	// Success: the challenge is spent and the authenticated session gets
	// a token unrelated to anything the browser held before.
	if err := s.store.DeleteChallenge(ctx, ch.ID); err != nil {
		return VerifyResult{}, translateStoreErr(err)
	}
	sess, rawToken, err := s.createSession(ctx, ch.PrincipalID, ch.PrincipalName, ch.UserType, ch.Role, ip, userAgent)
	if err != nil {
		return VerifyResult{}, err
	}
	s.logEvent(ctx, EventLoginSuccess, &ch.PrincipalID, ip, fmt.Sprintf("type=%s", ch.UserType))
	if err := s.dir.TouchLastLogin(ctx, ch.UserType, ch.PrincipalID); err != nil {
		// Advisory timestamp only.
		s.logDirErr("touch_last_login", err)
	}

	res := VerifyResult{SessionToken: rawToken, Session: sess}
	if ch.RememberDevice && ch.UserType == models.UserTypeCitizen {
		sealed, expiry, derr := s.rememberDevice(ctx, ch.PrincipalID)
		if derr != nil {
			s.logDirErr("remember_device", derr)
		} else {
			res.RememberCookie = sealed
			res.RememberExpiry = expiry
		}
	}
	return res, nil
}

// ResendOTP replaces the pending code with a fresh one and restarts the
// attempt counter. Throttled per challenge and rate limited per client.
func (s *Service) ResendOTP(ctx context.Context, loginCookie, ip string) (time.Time, error) {
	if err := s.checkRate(ctx, ip, rate.ActionOTPResend, ip); err != nil {
		return time.Time{}, err
	}
	if loginCookie == "" {
		return time.Time{}, ErrNoChallenge
	}
	ch, err := s.store.GetChallengeByCookieHash(ctx, auth.HashToken(loginCookie))
	if errors.Is(err, store.ErrNotFound) {
		return time.Time{}, ErrNoChallenge
	}
	if err != nil {
		return time.Time{}, translateStoreErr(err)
	}
	now := time.Now().UTC()
	if now.After(ch.ExpiresAt) {
		_ = s.store.DeleteChallenge(ctx, ch.ID)
		return time.Time{}, ErrOtpExpired
	}
	if now.Sub(ch.LastSentAt) < s.cfg.OTPResendCooldown() {
		return time.Time{}, ErrResendThrottled
	}
	code, err := auth.GenerateOTP()
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}
	if err := s.sender.SendVerificationCode(ctx, ch.DestinationEmail, ch.PrincipalName, code); err != nil {
		s.recordFailure(ctx, ip, rate.ActionOTPResend)
		return time.Time{}, fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}
	expiresAt := now.Add(s.cfg.OTPExpiry())
	if err := s.store.RefreshChallenge(ctx, ch.ID, code, now, expiresAt); err != nil {
		return time.Time{}, translateStoreErr(err)
	}
	s.recordFailure(ctx, ip, rate.ActionOTPResend)
	return expiresAt, nil
}

// CancelLogin abandons a pending challenge, if one exists.
func (s *Service) CancelLogin(ctx context.Context, loginCookie string) error {
	if loginCookie == "" {
		return nil
	}
	ch, err := s.store.GetChallengeByCookieHash(ctx, auth.HashToken(loginCookie))
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return translateStoreErr(err)
	}
	return s.store.DeleteChallenge(ctx, ch.ID)
}

// LoginWithRememberedDevice turns a valid remember-device cookie into an
// authenticated citizen session without password or OTP.
func (s *Service) LoginWithRememberedDevice(ctx context.Context, sealedCookie, ip, userAgent string) (VerifyResult, error) {
	raw, err := util.DecryptString(s.sealKey, sealedCookie)
	if err != nil {
		return VerifyResult{}, ErrInvalidCredentials
	}
	dev, err := s.store.GetRememberedDeviceByTokenHash(ctx, auth.HashToken(raw))
	if errors.Is(err, store.ErrNotFound) {
		return VerifyResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return VerifyResult{}, translateStoreErr(err)
	}
	now := time.Now().UTC()
	if dev.RevokedAt != nil || now.After(dev.ExpiresAt) {
		return VerifyResult{}, ErrInvalidCredentials
	}
	p, err := s.dir.CitizenByID(ctx, dev.CitizenID)
	if errors.Is(err, directory.ErrNotFound) {
		_ = s.store.RevokeRememberedDevice(ctx, dev.ID)
		return VerifyResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return VerifyResult{}, fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}
	sess, rawToken, err := s.createSession(ctx, p.ID, p.Name, models.UserTypeCitizen, models.RoleCitizen, ip, userAgent)
	if err != nil {
		return VerifyResult{}, err
	}
	s.logEvent(ctx, EventRememberedDeviceLogin, &p.ID, ip, "device="+dev.ID)
	return VerifyResult{SessionToken: rawToken, Session: sess}, nil
}

func (s *Service) rememberDevice(ctx context.Context, citizenID string) (sealed string, expiry time.Time, err error) {
	raw, hash, err := auth.NewOpaqueToken()
	if err != nil {
		return "", time.Time{}, err
	}
	expiry = time.Now().UTC().Add(s.cfg.RememberDeviceDuration())
	if _, err := s.store.CreateRememberedDevice(ctx, models.RememberedDevice{
		CitizenID: citizenID,
		TokenHash: hash,
		ExpiresAt: expiry,
	}); err != nil {
		return "", time.Time{}, err
	}
	sealed, err = util.EncryptString(s.sealKey, raw)
	if err != nil {
		return "", time.Time{}, err
	}
	return sealed, expiry, nil
}

func (s *Service) logDirErr(op string, err error) {
	log.Printf("event=%s_failed err=%q", op, err)
}

func translateStoreErr(err error) error {
	return fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
}
