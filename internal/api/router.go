package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"civicportal/internal/config"
	"civicportal/internal/middleware"
	"civicportal/internal/models"
	"civicportal/internal/rate"
	"civicportal/internal/rbac"
	"civicportal/internal/service"
	"civicportal/internal/util"
	"civicportal/internal/version"
)

type Handlers struct {
	cfg     config.Config
	svc     *service.Service
	limiter *rate.Limiter
}

func NewRouter(cfg config.Config, svc *service.Service) http.Handler {
	h := &Handlers{
		cfg:     cfg,
		svc:     svc,
		limiter: rate.NewLimiter(),
	}
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.RequestLogger)
	r.Use(middleware.SecurityHeaders)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "X-CSRF-Token"},
			AllowCredentials: true,
		}))
	}

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		util.WriteJSON(w, 200, map[string]any{
			"status":  "ok",
			"version": version.Current(),
		})
	})
	r.Get("/health/ready", h.Ready)

	authn := middleware.Authn(svc, middleware.AuthnConfig{
		CookieName:      cfg.SessionCookieName,
		StaffLoginURL:   cfg.StaffLoginURL,
		CitizenLoginURL: cfg.CitizenLoginURL,
		TrustProxy:      cfg.TrustProxy,
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Pre-authentication surface. The in-memory limiter sheds floods
		// cheaply; the database limiter inside the service enforces the
		// real budgets.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(h.limiter, "auth", 60, time.Minute, cfg.TrustProxy))
			r.Post("/staff/login", h.StaffLogin)
			r.Post("/citizen/login", h.CitizenLogin)
			r.Post("/citizen/login/device", h.DeviceLogin)
			r.Post("/login/verify", h.VerifyLogin)
			r.Post("/login/resend", h.ResendCode)
			r.Post("/login/cancel", h.CancelLogin)
			r.Post("/password/reset/request", h.PasswordResetRequest)
			r.Post("/password/reset/confirm", h.PasswordResetConfirm)
		})

		// Authenticated surface.
		r.Group(func(r chi.Router) {
			r.Use(authn)
			r.Use(middleware.ActivityRefresh(svc))
			r.Use(middleware.NoCache)
			r.Use(middleware.CSRF)

			r.Get("/me", h.Me)
			r.Get("/csrf", h.CSRFToken)
			r.Post("/csrf/rotate", h.CSRFRotate)
			r.Post("/logout", h.Logout)
			r.Get("/authz/check", h.AuthzCheck)

			r.With(middleware.RequireRoles(models.StaffRoles...)).
				Get("/staff/overview", h.StaffOverview)
			r.With(middleware.RequirePermissionOr(svc.Matrix(), rbac.PermSecurityLogsView, "admin", "super_admin")).
				Get("/admin/security-events", h.AdminSecurityEvents)
			r.With(middleware.RequirePermission(svc.Matrix(), rbac.PermContractorWorkspaceView)).
				Get("/contractor/workspace", h.ContractorWorkspace)
		})
	})
	return r
}

func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	ready := map[string]any{
		"checked_at": time.Now().UTC().Format(time.RFC3339),
	}
	if err := h.svc.Ready(r.Context()); err != nil {
		ready["status"] = "degraded"
		ready["error"] = err.Error()
		util.WriteJSON(w, http.StatusServiceUnavailable, ready)
		return
	}
	ready["status"] = "ready"
	util.WriteJSON(w, 200, ready)
}
