package middleware

import (
	"crypto/subtle"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"civicportal/internal/models"
	"civicportal/internal/rate"
	"civicportal/internal/rbac"
	"civicportal/internal/service"
	"civicportal/internal/util"
)

func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := uuid.NewString()
		r = r.WithContext(WithRequestID(r.Context(), rid))
		w.Header().Set("X-Request-ID", rid)
		next.ServeHTTP(w, r)
	})
}

// AuthnConfig tells the authentication middleware how to reject a dead
// session: which cookie carries the token and where each population logs
// back in.
type AuthnConfig struct {
	CookieName      string
	StaffLoginURL   string
	CitizenLoginURL string
	TrustProxy      bool
}

// Authn resolves the session cookie against the database and rejects the
// request when the session is gone, expired or bound to another browser.
// Expired sessions answer 401 with a redirect hint carrying expired=1 so
// clients land on the right login page with an explanation.
func Authn(svc *service.Service, cfg AuthnConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rid := RequestID(r.Context())
			var raw string
			if c, err := r.Cookie(cfg.CookieName); err == nil {
				raw = c.Value
			}
			sess, err := svc.ValidateSession(r.Context(), raw, r.UserAgent(), ClientIP(r, cfg.TrustProxy))
			if err != nil {
				switch {
				case errors.Is(err, service.ErrDependencyUnavailable):
					// Transient outage. The session row is still good, so
					// the browser keeps its cookie and retries.
					util.WriteError(w, http.StatusServiceUnavailable, "unavailable", "temporarily unavailable", rid)
				case errors.Is(err, service.ErrSessionHijack):
					clearCookie(w, cfg.CookieName)
					util.WriteError(w, http.StatusUnauthorized, "session_hijack_suspected", "session terminated", rid)
				default:
					clearCookie(w, cfg.CookieName)
					login := cfg.CitizenLoginURL
					if sessionHintIsStaff(r) {
						login = cfg.StaffLoginURL
					}
					util.WriteJSON(w, http.StatusUnauthorized, map[string]string{
						"code":       "session_expired",
						"message":    "session expired, please sign in again",
						"redirect":   login + "?expired=1",
						"request_id": rid,
					})
				}
				return
			}
			r = r.WithContext(WithSession(r.Context(), sess))
			next.ServeHTTP(w, r)
		})
	}
}

// sessionHintIsStaff picks the login page for an expired session. The
// session row is already gone, so the audience hint comes from the path.
func sessionHintIsStaff(r *http.Request) bool {
	p := r.URL.Path
	return strings.Contains(p, "/admin") || strings.Contains(p, "/staff") || strings.Contains(p, "/contractor")
}

func clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name: name, Value: "", Path: "/", MaxAge: -1,
		HttpOnly: true, SameSite: http.SameSiteLaxMode,
	})
}

// ActivityRefresh advances the session idle clock after the request has
// cleared every remaining gate. Registered between Authn and CSRF so it
// observes the final status: 401 and 403 outcomes leave the timestamp
// alone, keeping rejected requests from holding a session open.
func ActivityRefresh(svc *service.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, ok := Session(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sr, r)
			if sr.status == http.StatusUnauthorized || sr.status == http.StatusForbidden {
				return
			}
			svc.RefreshActivity(r.Context(), sess.ID)
		})
	}
}

// RequireRoles allows only sessions whose role is in the list.
func RequireRoles(roles ...string) func(http.Handler) http.Handler {
	allowed := map[string]struct{}{}
	for _, role := range roles {
		allowed[strings.ToLower(role)] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, ok := Session(r.Context())
			if !ok {
				util.WriteError(w, http.StatusUnauthorized, "unauthorized", "authentication required", RequestID(r.Context()))
				return
			}
			if _, ok := allowed[strings.ToLower(sess.Role)]; !ok {
				util.WriteError(w, http.StatusForbidden, "forbidden", "insufficient role", RequestID(r.Context()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission consults the permission matrix for the session role.
// Citizens are staff-matrix outsiders and always get 403 here.
func RequirePermission(matrix *rbac.Matrix, key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, ok := Session(r.Context())
			if !ok {
				util.WriteError(w, http.StatusUnauthorized, "unauthorized", "authentication required", RequestID(r.Context()))
				return
			}
			if sess.UserType != models.UserTypeEmployee || !matrix.Allowed(sess.Role, key) {
				util.WriteError(w, http.StatusForbidden, "forbidden", "permission denied", RequestID(r.Context()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermissionOr is RequirePermission with a fallback role list for
// deployment matrices that predate the permission key.
func RequirePermissionOr(matrix *rbac.Matrix, key string, fallback ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, ok := Session(r.Context())
			if !ok {
				util.WriteError(w, http.StatusUnauthorized, "unauthorized", "authentication required", RequestID(r.Context()))
				return
			}
			if sess.UserType != models.UserTypeEmployee || !matrix.AllowedWithFallback(sess.Role, key, fallback) {
				util.WriteError(w, http.StatusForbidden, "forbidden", "permission denied", RequestID(r.Context()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CSRF verifies the X-CSRF-Token header against the token stored on the
// session row. Safe methods pass through.
func CSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		sess, ok := Session(r.Context())
		if !ok {
			util.WriteError(w, http.StatusUnauthorized, "unauthorized", "authentication required", RequestID(r.Context()))
			return
		}
		h := r.Header.Get("X-CSRF-Token")
		if h == "" || subtle.ConstantTimeCompare([]byte(h), []byte(sess.CSRFToken)) != 1 {
			util.WriteError(w, http.StatusForbidden, "csrf_failed", "invalid csrf token", RequestID(r.Context()))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimit is the in-memory front limiter keyed by route and client IP.
// The database limiter inside the service remains authoritative.
func RateLimit(l *rate.Limiter, route string, limit int, window time.Duration, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := route + ":" + ClientIP(r, trustProxy)
			if !l.Allow(key, limit, window) {
				util.WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", RequestID(r.Context()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			return strings.TrimSpace(parts[0])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r)
		rid := RequestID(r.Context())
		log.Printf("request method=%s path=%s status=%d duration_ms=%d request_id=%s remote_ip=%s",
			r.Method, r.URL.Path, sr.status, time.Since(start).Milliseconds(), rid, ClientIP(r, false))
	})
}
