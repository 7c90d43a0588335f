package api

import (
	"net/http"
	"testing"
)

func TestPasswordResetEndToEnd(t *testing.T) {
	sender := &captureSender{}
	router, sqdb, cfg := newTestRouter(t, sender)

	// A live session that must die when the password changes.
	session, _, _ := loginAs(t, router, sender, cfg, "/api/v1/citizen/login", testCitizenEmail, false)

	rec := postJSON(t, router, "/api/v1/password/reset/request", map[string]string{
		"email": testCitizenEmail, "user_type": "citizen",
	}, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset request: expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	token := sender.resetToken()
	if token == "" {
		t.Fatalf("expected reset token mailed")
	}

	newPassword := "BrandNewSecret99X"
	rec = postJSON(t, router, "/api/v1/password/reset/confirm", map[string]string{
		"token": token, "new_password": newPassword,
	}, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset confirm: expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	// Old sessions are revoked.
	if got := getPath(t, router, "/api/v1/me", []*http.Cookie{session}, testUserAgent); got.Code != http.StatusUnauthorized {
		t.Fatalf("expected old session revoked after reset, got %d", got.Code)
	}

	// Old password dead, new password works.
	rec = postJSON(t, router, "/api/v1/citizen/login", map[string]string{
		"email": testCitizenEmail, "password": testGoodPassword,
	}, nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected old password rejected, got %d", rec.Code)
	}
	rec = postJSON(t, router, "/api/v1/citizen/login", map[string]string{
		"email": testCitizenEmail, "password": newPassword,
	}, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected new password accepted, got %d body=%s", rec.Code, rec.Body.String())
	}

	// The token is single use.
	rec = postJSON(t, router, "/api/v1/password/reset/confirm", map[string]string{
		"token": token, "new_password": "YetAnotherSecret77Z",
	}, nil, nil)
	if rec.Code != http.StatusBadRequest || errCode(t, rec) != "reset_invalid" {
		t.Fatalf("expected consumed token rejected, got %d %q", rec.Code, errCode(t, rec))
	}

	var events int
	if err := sqdb.QueryRow(`SELECT COUNT(1) FROM security_logs WHERE event_type='password_reset'`).Scan(&events); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if events != 1 {
		t.Fatalf("expected one password_reset event, got %d", events)
	}
}

func TestPasswordResetRequestIsSilentForUnknownEmail(t *testing.T) {
	sender := &captureSender{}
	router, sqdb, _ := newTestRouter(t, sender)

	rec := postJSON(t, router, "/api/v1/password/reset/request", map[string]string{
		"email": "ghost@mail.example", "user_type": "citizen",
	}, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for unknown address, got %d", rec.Code)
	}
	if sender.resetToken() != "" {
		t.Fatalf("no mail must go out for unknown addresses")
	}
	var count int
	if err := sqdb.QueryRow(`SELECT COUNT(1) FROM password_resets`).Scan(&count); err != nil {
		t.Fatalf("count resets: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no reset row for unknown address, got %d", count)
	}
}

func TestPasswordResetRejectsWeakPassword(t *testing.T) {
	sender := &captureSender{}
	router, _, _ := newTestRouter(t, sender)

	postJSON(t, router, "/api/v1/password/reset/request", map[string]string{
		"email": testCitizenEmail, "user_type": "citizen",
	}, nil, nil)
	token := sender.resetToken()
	if token == "" {
		t.Fatalf("expected reset token mailed")
	}

	rec := postJSON(t, router, "/api/v1/password/reset/confirm", map[string]string{
		"token": token, "new_password": "short1",
	}, nil, nil)
	if rec.Code != http.StatusBadRequest || errCode(t, rec) != "password_policy" {
		t.Fatalf("expected 400 password_policy for weak password, got %d %q", rec.Code, errCode(t, rec))
	}

	// Policy failures happen before the token is consumed.
	rec = postJSON(t, router, "/api/v1/password/reset/confirm", map[string]string{
		"token": token, "new_password": "StrongEnough42Now",
	}, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected token still valid after policy rejection, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestNewResetRequestReplacesOldToken(t *testing.T) {
	sender := &captureSender{}
	router, sqdb, _ := newTestRouter(t, sender)

	postJSON(t, router, "/api/v1/password/reset/request", map[string]string{
		"email": testCitizenEmail, "user_type": "citizen",
	}, nil, nil)
	first := sender.resetToken()

	postJSON(t, router, "/api/v1/password/reset/request", map[string]string{
		"email": testCitizenEmail, "user_type": "citizen",
	}, nil, nil)
	second := sender.resetToken()
	if first == second {
		t.Fatalf("expected a fresh token per request")
	}

	var count int
	if err := sqdb.QueryRow(`SELECT COUNT(1) FROM password_resets`).Scan(&count); err != nil {
		t.Fatalf("count resets: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a single active reset per email, got %d", count)
	}

	rec := postJSON(t, router, "/api/v1/password/reset/confirm", map[string]string{
		"token": first, "new_password": "StrongEnough42Now",
	}, nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected superseded token rejected, got %d", rec.Code)
	}
}
