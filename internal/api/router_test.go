package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"civicportal/internal/auth"
	"civicportal/internal/config"
	"civicportal/internal/db"
	"civicportal/internal/directory"
	"civicportal/internal/rbac"
	"civicportal/internal/service"
	"civicportal/internal/store"
)

const (
	testUserAgent     = "civicportal-test-browser/1.0"
	testAdminEmail    = "admin@city.example"
	testStaffEmail    = "clerk@city.example"
	testContractorEM  = "builder@firm.example"
	testCitizenEmail  = "resident@mail.example"
	testGoodPassword  = "CorrectHorse42Battery"
	testOtherPassword = "WrongHorse42Battery"
)

// captureSender records outgoing codes and tokens so tests can replay
// them, and can be told to fail like a broken relay.
type captureSender struct {
	mu        sync.Mutex
	lastCode  string
	lastReset string
	codeSends int
	failWith  error
}

func (s *captureSender) SendVerificationCode(_ context.Context, to, name, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.lastCode = code
	s.codeSends++
	return nil
}

func (s *captureSender) SendPasswordReset(_ context.Context, to, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.lastReset = token
	return nil
}

func (s *captureSender) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failWith
}

func (s *captureSender) code() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCode
}

func (s *captureSender) resetToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReset
}

func newTestRouter(t *testing.T, sender *captureSender) (http.Handler, *sql.DB, config.Config) {
	t.Helper()
	sqdb, err := db.OpenSQLite(filepath.Join(t.TempDir(), "app.db"), 1, 1, time.Minute)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqdb.Close() })
	if err := db.ApplyMigrationFile(sqdb, filepath.Join("..", "..", "migrations", "001_init.sql")); err != nil {
		t.Fatalf("apply migration: %v", err)
	}

	st := store.New(sqdb)
	hash, err := auth.HashPassword(testGoodPassword)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	ctx := context.Background()
	if _, err := st.CreateEmployee(ctx, "City Admin", testAdminEmail, hash, "admin"); err != nil {
		t.Fatalf("create admin: %v", err)
	}
	if _, err := st.CreateEmployee(ctx, "Desk Clerk", testStaffEmail, hash, "employee"); err != nil {
		t.Fatalf("create clerk: %v", err)
	}
	if _, err := st.CreateEmployee(ctx, "Road Builder", testContractorEM, hash, "contractor"); err != nil {
		t.Fatalf("create contractor: %v", err)
	}
	if _, err := st.CreateCitizen(ctx, "Res Ident", testCitizenEmail, hash); err != nil {
		t.Fatalf("create citizen: %v", err)
	}

	cfg := config.Config{
		ListenAddr:           "127.0.0.1:0",
		SessionCookieName:    "civicportal_session",
		LoginCookieName:      "civicportal_login",
		CSRFCookieName:       "civicportal_csrf",
		RememberCookieName:   "civicportal_device",
		SessionIdleMinutes:   30,
		SessionAbsoluteHrs:   24,
		SessionEncryptKey:    "this_is_a_valid_long_session_encrypt_key_123456",
		StaffLoginURL:        "/staff/login",
		CitizenLoginURL:      "/citizen/login",
		OTPExpiryMinutes:     10,
		OTPMaxAttempts:       5,
		OTPResendCooldownSec: 45,
		RememberDeviceDays:   30,
		PasswordMinLength:    12,
		PasswordMaxLength:    128,
	}
	svc := service.New(st, directory.NewLocal(sqdb), sender, rbac.Default(), cfg)
	return NewRouter(cfg, svc), sqdb, cfg
}

func postJSON(t *testing.T, router http.Handler, path string, body any, cookies []*http.Cookie, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", testUserAgent)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func getPath(t *testing.T, router http.Handler, path string, cookies []*http.Cookie, userAgent string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("User-Agent", userAgent)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func cookieByName(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == name && c.Value != "" {
			return c
		}
	}
	return nil
}

func decodeBody(t *testing.T, raw []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("decode body: %v body=%s", err, raw)
	}
}

func errCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v body=%s", err, rec.Body.String())
	}
	return body.Code
}

// loginAs walks the full two-phase login and returns the authenticated
// cookies plus the CSRF token.
func loginAs(t *testing.T, router http.Handler, sender *captureSender, cfg config.Config, path, email string, remember bool) (session, csrf, rememberCookie *http.Cookie) {
	t.Helper()
	rec := postJSON(t, router, path, map[string]any{
		"email": email, "password": testGoodPassword, "remember_device": remember,
	}, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("start login: expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	loginCookie := cookieByName(t, rec, cfg.LoginCookieName)
	if loginCookie == nil {
		t.Fatalf("start login: missing login cookie")
	}
	rec = postJSON(t, router, "/api/v1/login/verify", map[string]string{"code": sender.code()},
		[]*http.Cookie{loginCookie}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	session = cookieByName(t, rec, cfg.SessionCookieName)
	csrf = cookieByName(t, rec, cfg.CSRFCookieName)
	rememberCookie = cookieByName(t, rec, cfg.RememberCookieName)
	if session == nil || csrf == nil {
		t.Fatalf("verify: missing auth cookies")
	}
	return session, csrf, rememberCookie
}
