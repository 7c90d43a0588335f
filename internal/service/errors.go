package service

import "errors"

// Sentinel errors returned by the identity core. Handlers map these to
// HTTP status codes and stable error codes; the messages themselves never
// reach clients.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRateLimited        = errors.New("rate limited")

	ErrNoChallenge      = errors.New("no pending login")
	ErrOtpExpired       = errors.New("verification code expired")
	ErrOtpInvalidFormat = errors.New("verification code malformed")
	ErrOtpMismatch      = errors.New("verification code mismatch")
	ErrOtpExhausted     = errors.New("verification attempts exhausted")
	ErrResendThrottled  = errors.New("resend requested too soon")

	ErrSessionExpired = errors.New("session expired")
	ErrSessionHijack  = errors.New("session fingerprint mismatch")

	ErrForbidden      = errors.New("forbidden")
	ErrResetInvalid   = errors.New("reset token invalid or expired")
	ErrPasswordPolicy = errors.New("password policy violation")

	ErrDependencyUnavailable = errors.New("dependency unavailable")
)
