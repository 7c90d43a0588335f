package rate

import "time"

// Action names recorded in the rate_limiting table. The column is free
// text, so every call site goes through these constants.
const (
	ActionLogin         = "login"
	ActionOTPVerify     = "otp_verify"
	ActionOTPResend     = "otp_resend"
	ActionPasswordReset = "password_reset_request"
)

// Policy is the budget for one action: at most Max attempts per subject
// inside a trailing Window.
type Policy struct {
	Action string
	Max    int
	Window time.Duration
}

// Policies returns the per-action budgets enforced against the database.
func Policies() map[string]Policy {
	return map[string]Policy{
		ActionLogin:         {Action: ActionLogin, Max: 5, Window: 5 * time.Minute},
		ActionOTPVerify:     {Action: ActionOTPVerify, Max: 10, Window: 10 * time.Minute},
		ActionOTPResend:     {Action: ActionOTPResend, Max: 4, Window: 10 * time.Minute},
		ActionPasswordReset: {Action: ActionPasswordReset, Max: 5, Window: 15 * time.Minute},
	}
}
