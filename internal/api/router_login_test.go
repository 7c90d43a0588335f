package api

import (
	"errors"
	"net/http"
	"testing"
)

func TestStaffLoginUnknownAndWrongPasswordAreIndistinguishable(t *testing.T) {
	sender := &captureSender{}
	router, sqdb, _ := newTestRouter(t, sender)

	recUnknown := postJSON(t, router, "/api/v1/staff/login", map[string]string{
		"email": "nobody@city.example", "password": testGoodPassword,
	}, nil, nil)
	recWrong := postJSON(t, router, "/api/v1/staff/login", map[string]string{
		"email": testAdminEmail, "password": testOtherPassword,
	}, nil, nil)

	if recUnknown.Code != http.StatusUnauthorized {
		t.Fatalf("unknown account: expected 401, got %d body=%s", recUnknown.Code, recUnknown.Body.String())
	}
	if recWrong.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password: expected 401, got %d body=%s", recWrong.Code, recWrong.Body.String())
	}
	if errCode(t, recUnknown) != "invalid_credentials" || errCode(t, recWrong) != "invalid_credentials" {
		t.Fatalf("expected identical invalid_credentials codes, got %q and %q",
			errCode(t, recUnknown), errCode(t, recWrong))
	}
	// Bodies differ only by request id.
	var a, b map[string]any
	decodeBody(t, recUnknown.Body.Bytes(), &a)
	decodeBody(t, recWrong.Body.Bytes(), &b)
	if a["message"] != b["message"] {
		t.Fatalf("expected identical messages, got %q and %q", a["message"], b["message"])
	}

	var count int
	if err := sqdb.QueryRow(`SELECT COUNT(1) FROM rate_limiting WHERE action_type='login'`).Scan(&count); err != nil {
		t.Fatalf("count rate rows: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 login attempt rows, got %d", count)
	}
}

func TestLoginLockoutAfterBudgetSpent(t *testing.T) {
	sender := &captureSender{}
	router, sqdb, _ := newTestRouter(t, sender)

	for i := 0; i < 5; i++ {
		rec := postJSON(t, router, "/api/v1/staff/login", map[string]string{
			"email": testAdminEmail, "password": testOtherPassword,
		}, nil, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d body=%s", i+1, rec.Code, rec.Body.String())
		}
	}

	// Budget spent: even the correct password is refused now.
	rec := postJSON(t, router, "/api/v1/staff/login", map[string]string{
		"email": testAdminEmail, "password": testGoodPassword,
	}, nil, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after lockout, got %d body=%s", rec.Code, rec.Body.String())
	}
	if errCode(t, rec) != "rate_limited" {
		t.Fatalf("expected rate_limited, got %q", errCode(t, rec))
	}

	var events int
	if err := sqdb.QueryRow(`SELECT COUNT(1) FROM security_logs WHERE event_type='rate_limited'`).Scan(&events); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if events == 0 {
		t.Fatalf("expected a rate_limited security event")
	}
}

func TestFourFailuresStillAllowFifthAttempt(t *testing.T) {
	sender := &captureSender{}
	router, _, _ := newTestRouter(t, sender)

	for i := 0; i < 4; i++ {
		postJSON(t, router, "/api/v1/staff/login", map[string]string{
			"email": testAdminEmail, "password": testOtherPassword,
		}, nil, nil)
	}
	rec := postJSON(t, router, "/api/v1/staff/login", map[string]string{
		"email": testAdminEmail, "password": testGoodPassword,
	}, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 5th attempt to pass, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestLoginMailerFailureLeavesNoChallenge(t *testing.T) {
	sender := &captureSender{failWith: errors.New("smtp dial: connection refused")}
	router, sqdb, _ := newTestRouter(t, sender)

	rec := postJSON(t, router, "/api/v1/citizen/login", map[string]string{
		"email": testCitizenEmail, "password": testGoodPassword,
	}, nil, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when mail relay is down, got %d body=%s", rec.Code, rec.Body.String())
	}
	if errCode(t, rec) != "unavailable" {
		t.Fatalf("expected unavailable, got %q", errCode(t, rec))
	}

	var count int
	if err := sqdb.QueryRow(`SELECT COUNT(1) FROM login_challenges`).Scan(&count); err != nil {
		t.Fatalf("count challenges: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no challenge row after mailer failure, got %d", count)
	}
}

func TestTwoPhaseLoginHappyPath(t *testing.T) {
	sender := &captureSender{}
	router, sqdb, cfg := newTestRouter(t, sender)

	session, _, _ := loginAs(t, router, sender, cfg, "/api/v1/staff/login", testAdminEmail, false)

	rec := getPath(t, router, "/api/v1/me", []*http.Cookie{session}, testUserAgent)
	if rec.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	var me map[string]any
	decodeBody(t, rec.Body.Bytes(), &me)
	if me["role"] != "admin" || me["user_type"] != "employee" {
		t.Fatalf("unexpected me body: %v", me)
	}

	var challenges int
	if err := sqdb.QueryRow(`SELECT COUNT(1) FROM login_challenges`).Scan(&challenges); err != nil {
		t.Fatalf("count challenges: %v", err)
	}
	if challenges != 0 {
		t.Fatalf("expected challenge consumed on success, got %d rows", challenges)
	}

	var successes int
	if err := sqdb.QueryRow(`SELECT COUNT(1) FROM security_logs WHERE event_type='login_success'`).Scan(&successes); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if successes != 1 {
		t.Fatalf("expected one login_success event, got %d", successes)
	}
}

func TestNewLoginReplacesPendingChallenge(t *testing.T) {
	sender := &captureSender{}
	router, sqdb, cfg := newTestRouter(t, sender)

	rec := postJSON(t, router, "/api/v1/staff/login", map[string]string{
		"email": testAdminEmail, "password": testGoodPassword,
	}, nil, nil)
	first := cookieByName(t, rec, cfg.LoginCookieName)
	if first == nil {
		t.Fatalf("missing first login cookie")
	}
	rec = postJSON(t, router, "/api/v1/staff/login", map[string]string{
		"email": testAdminEmail, "password": testGoodPassword,
	}, []*http.Cookie{first}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("second login: expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	var count int
	if err := sqdb.QueryRow(`SELECT COUNT(1) FROM login_challenges`).Scan(&count); err != nil {
		t.Fatalf("count challenges: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one pending challenge, got %d", count)
	}

	// The first cookie no longer resolves to anything.
	verify := postJSON(t, router, "/api/v1/login/verify", map[string]string{"code": sender.code()},
		[]*http.Cookie{first}, nil)
	if verify.Code != http.StatusBadRequest || errCode(t, verify) != "no_pending_login" {
		t.Fatalf("expected stale cookie to be rejected, got %d %q", verify.Code, errCode(t, verify))
	}
}
