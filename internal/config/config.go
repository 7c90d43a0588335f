package config

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenAddr string

	DBPath            string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	SessionCookieName  string
	LoginCookieName    string
	CSRFCookieName     string
	RememberCookieName string
	SessionIdleMinutes int
	SessionAbsoluteHrs int
	SessionEncryptKey  string
	CookieSecure       bool
	TrustProxy         bool
	CORSAllowedOrigins []string

	OTPExpiryMinutes     int
	OTPMaxAttempts       int
	OTPResendCooldownSec int
	RememberDeviceDays   int

	StaffLoginURL   string
	CitizenLoginURL string

	RBACMatrixPath string

	PasswordMinLength int
	PasswordMaxLength int

	// External principal directory. When driver and DSN are empty the
	// employees/citizens tables in the local database are used.
	DirectoryDBDriver     string
	DirectoryDBDSN        string
	DirectoryStaffTable   string
	DirectoryCitizenTable string
	DirectoryIDColumn     string
	DirectoryNameColumn   string
	DirectoryEmailColumn  string
	DirectoryPassColumn   string
	DirectoryRoleColumn   string

	MailSender   string
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	MailFrom     string

	HTTPReadTimeoutSec       int
	HTTPReadHeaderTimeoutSec int
	HTTPWriteTimeoutSec      int
	HTTPIdleTimeoutSec       int

	BootstrapAdminName     string
	BootstrapAdminEmail    string
	BootstrapAdminPassword string
}

func Load() (Config, error) {
	cfg := Config{
		ListenAddr:               env("LISTEN_ADDR", ":8080"),
		DBPath:                   env("APP_DB_PATH", "./data/portal.db"),
		DBMaxOpenConns:           envInt("APP_DB_MAX_OPEN_CONNS", 4),
		DBMaxIdleConns:           envInt("APP_DB_MAX_IDLE_CONNS", 2),
		DBConnMaxLifetime:        time.Duration(envInt("APP_DB_CONN_MAX_LIFETIME_MIN", 30)) * time.Minute,
		SessionCookieName:        env("SESSION_COOKIE_NAME", "civicportal_session"),
		LoginCookieName:          env("LOGIN_COOKIE_NAME", "civicportal_login"),
		CSRFCookieName:           env("CSRF_COOKIE_NAME", "civicportal_csrf"),
		RememberCookieName:       env("REMEMBER_COOKIE_NAME", "civicportal_device"),
		SessionIdleMinutes:       envInt("SESSION_IDLE_MINUTES", 30),
		SessionAbsoluteHrs:       envInt("SESSION_ABSOLUTE_HOURS", 24),
		SessionEncryptKey:        env("SESSION_ENCRYPT_KEY", "CHANGE_ME_PRODUCTION_SESSION_KEY"),
		CookieSecure:             envBool("COOKIE_SECURE", false),
		TrustProxy:               envBool("TRUST_PROXY", false),
		CORSAllowedOrigins:       envCSV("CORS_ALLOWED_ORIGINS"),
		OTPExpiryMinutes:         envInt("OTP_EXPIRY_MINUTES", 10),
		OTPMaxAttempts:           envInt("OTP_MAX_ATTEMPTS", 5),
		OTPResendCooldownSec:     envInt("OTP_RESEND_COOLDOWN_SEC", 45),
		RememberDeviceDays:       envInt("REMEMBER_DEVICE_DAYS", 30),
		StaffLoginURL:            env("STAFF_LOGIN_URL", "/staff/login"),
		CitizenLoginURL:          env("CITIZEN_LOGIN_URL", "/citizen/login"),
		RBACMatrixPath:           env("RBAC_MATRIX_PATH", ""),
		PasswordMinLength:        envInt("PASSWORD_MIN_LENGTH", 12),
		PasswordMaxLength:        envInt("PASSWORD_MAX_LENGTH", 128),
		DirectoryDBDriver:        env("DIRECTORY_DB_DRIVER", ""),
		DirectoryDBDSN:           env("DIRECTORY_DB_DSN", ""),
		DirectoryStaffTable:      env("DIRECTORY_STAFF_TABLE", "employees"),
		DirectoryCitizenTable:    env("DIRECTORY_CITIZEN_TABLE", "citizens"),
		DirectoryIDColumn:        env("DIRECTORY_ID_COL", "id"),
		DirectoryNameColumn:      env("DIRECTORY_NAME_COL", "name"),
		DirectoryEmailColumn:     env("DIRECTORY_EMAIL_COL", "email"),
		DirectoryPassColumn:      env("DIRECTORY_PASS_COL", "password_hash"),
		DirectoryRoleColumn:      env("DIRECTORY_ROLE_COL", "role"),
		MailSender:               strings.ToLower(env("MAIL_SENDER", "log")),
		SMTPHost:                 env("SMTP_HOST", "127.0.0.1"),
		SMTPPort:                 envInt("SMTP_PORT", 587),
		SMTPUsername:             env("SMTP_USERNAME", ""),
		SMTPPassword:             env("SMTP_PASSWORD", ""),
		MailFrom:                 env("MAIL_FROM", "no-reply@example.gov"),
		HTTPReadTimeoutSec:       envInt("HTTP_READ_TIMEOUT_SEC", 10),
		HTTPReadHeaderTimeoutSec: envInt("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		HTTPWriteTimeoutSec:      envInt("HTTP_WRITE_TIMEOUT_SEC", 30),
		HTTPIdleTimeoutSec:       envInt("HTTP_IDLE_TIMEOUT_SEC", 60),
		BootstrapAdminName:       env("BOOTSTRAP_ADMIN_NAME", "Administrator"),
		BootstrapAdminEmail:      env("BOOTSTRAP_ADMIN_EMAIL", ""),
		BootstrapAdminPassword:   env("BOOTSTRAP_ADMIN_PASSWORD", ""),
	}

	if cfg.SessionIdleMinutes <= 0 || cfg.SessionAbsoluteHrs <= 0 {
		return Config{}, fmt.Errorf("session timeouts must be positive")
	}
	if cfg.DBMaxOpenConns <= 0 || cfg.DBMaxIdleConns < 0 {
		return Config{}, fmt.Errorf("invalid DB pool config")
	}
	if cfg.OTPExpiryMinutes <= 0 || cfg.OTPMaxAttempts <= 0 || cfg.OTPResendCooldownSec < 0 {
		return Config{}, fmt.Errorf("invalid OTP config")
	}
	if cfg.RememberDeviceDays <= 0 {
		return Config{}, fmt.Errorf("REMEMBER_DEVICE_DAYS must be positive")
	}
	if cfg.PasswordMinLength < 8 {
		return Config{}, fmt.Errorf("password min length must be >= 8")
	}
	if cfg.PasswordMaxLength < cfg.PasswordMinLength {
		return Config{}, fmt.Errorf("password max length must be >= min length")
	}
	if strings.TrimSpace(cfg.SessionEncryptKey) == "" ||
		cfg.SessionEncryptKey == "CHANGE_ME_PRODUCTION_SESSION_KEY" ||
		len(cfg.SessionEncryptKey) < 24 {
		return Config{}, fmt.Errorf("SESSION_ENCRYPT_KEY must be set to a strong non-default value (>=24 chars)")
	}
	if !cfg.CookieSecure && !isLocalListen(cfg.ListenAddr) {
		return Config{}, fmt.Errorf("COOKIE_SECURE=false is allowed only for local listen addresses")
	}
	switch cfg.MailSender {
	case "log", "smtp":
	default:
		return Config{}, fmt.Errorf("MAIL_SENDER must be one of: log, smtp")
	}
	if cfg.MailSender == "smtp" && (cfg.SMTPHost == "" || cfg.SMTPPort <= 0) {
		return Config{}, fmt.Errorf("SMTP_HOST and SMTP_PORT are required when MAIL_SENDER=smtp")
	}
	if cfg.DirectoryDBDriver != "" {
		switch cfg.DirectoryDBDriver {
		case "mysql", "pgx":
		default:
			return Config{}, fmt.Errorf("DIRECTORY_DB_DRIVER must be one of: mysql, pgx")
		}
		if strings.TrimSpace(cfg.DirectoryDBDSN) == "" {
			return Config{}, fmt.Errorf("DIRECTORY_DB_DSN is required when DIRECTORY_DB_DRIVER is set")
		}
	}
	return cfg, nil
}

// ResolveCookieSecure marks cookies Secure when configured or when the
// request itself arrived over TLS.
func (c Config) ResolveCookieSecure(r *http.Request) bool {
	if c.CookieSecure {
		return true
	}
	return r != nil && r.TLS != nil
}

func (c Config) SessionIdleDuration() time.Duration {
	return time.Duration(c.SessionIdleMinutes) * time.Minute
}

func (c Config) SessionAbsoluteDuration() time.Duration {
	return time.Duration(c.SessionAbsoluteHrs) * time.Hour
}

func (c Config) OTPExpiry() time.Duration {
	return time.Duration(c.OTPExpiryMinutes) * time.Minute
}

func (c Config) OTPResendCooldown() time.Duration {
	return time.Duration(c.OTPResendCooldownSec) * time.Second
}

func (c Config) RememberDeviceDuration() time.Duration {
	return time.Duration(c.RememberDeviceDays) * 24 * time.Hour
}

func env(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return d
	}
	return n
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return d
	}
	return b
}

func envCSV(k string) []string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isLocalListen(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	switch host {
	case "", "0.0.0.0", "::":
		// Bare port listens are treated as local only in development; the
		// secure-cookie guard still applies to them.
		return host == ""
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
