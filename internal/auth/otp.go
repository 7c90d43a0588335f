package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"regexp"
)

var otpFormat = regexp.MustCompile(`^\d{6}$`)

// GenerateOTP returns a uniformly random six digit code. Leading zeros
// are preserved, so "004213" is a valid code.
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// ValidOTPFormat reports whether the submission is exactly six ASCII digits.
// Anything else is rejected before it can consume a verification attempt.
func ValidOTPFormat(code string) bool {
	return otpFormat.MatchString(code)
}

// OTPEqual compares a submitted code against the stored one without
// leaking a timing signal.
func OTPEqual(stored, submitted string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(submitted)) == 1
}
