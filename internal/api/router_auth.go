package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"civicportal/internal/middleware"
	"civicportal/internal/models"
	"civicportal/internal/service"
	"civicportal/internal/util"
)

type loginRequest struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	RememberDevice bool   `json:"remember_device"`
}

func (h *Handlers) StaffLogin(w http.ResponseWriter, r *http.Request) {
	h.startLogin(w, r, models.UserTypeEmployee)
}

func (h *Handlers) CitizenLogin(w http.ResponseWriter, r *http.Request) {
	h.startLogin(w, r, models.UserTypeCitizen)
}

func (h *Handlers) startLogin(w http.ResponseWriter, r *http.Request, userType models.UserType) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		util.WriteError(w, 400, "bad_request", "invalid json", middleware.RequestID(r.Context()))
		return
	}
	var prior string
	if c, err := r.Cookie(h.cfg.LoginCookieName); err == nil {
		prior = c.Value
	}
	res, err := h.svc.StartLogin(r.Context(), service.StartLoginInput{
		UserType:         userType,
		Email:            req.Email,
		Password:         req.Password,
		RememberDevice:   req.RememberDevice,
		IP:               middleware.ClientIP(r, h.cfg.TrustProxy),
		PriorLoginCookie: prior,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.setLoginCookie(w, r, res.LoginCookie, res.ExpiresAt)
	util.WriteJSON(w, 200, map[string]any{
		"status":     "verification_required",
		"expires_at": res.ExpiresAt.Format(time.RFC3339),
	})
}

func (h *Handlers) VerifyLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		util.WriteError(w, 400, "bad_request", "invalid json", middleware.RequestID(r.Context()))
		return
	}
	var loginCookie string
	if c, err := r.Cookie(h.cfg.LoginCookieName); err == nil {
		loginCookie = c.Value
	}
	res, err := h.svc.VerifyOTP(r.Context(), loginCookie, req.Code,
		middleware.ClientIP(r, h.cfg.TrustProxy), r.UserAgent())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.clearLoginCookie(w, r)
	h.setAuthCookies(w, r, res.SessionToken, res.Session.CSRFToken)
	if res.RememberCookie != "" {
		h.setRememberCookie(w, r, res.RememberCookie, res.RememberExpiry)
	}
	util.WriteJSON(w, 200, sessionBody(res.Session))
}

func (h *Handlers) ResendCode(w http.ResponseWriter, r *http.Request) {
	var loginCookie string
	if c, err := r.Cookie(h.cfg.LoginCookieName); err == nil {
		loginCookie = c.Value
	}
	expiresAt, err := h.svc.ResendOTP(r.Context(), loginCookie, middleware.ClientIP(r, h.cfg.TrustProxy))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{
		"status":     "sent",
		"expires_at": expiresAt.Format(time.RFC3339),
	})
}

func (h *Handlers) CancelLogin(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(h.cfg.LoginCookieName); err == nil && c.Value != "" {
		if err := h.svc.CancelLogin(r.Context(), c.Value); err != nil {
			h.writeServiceError(w, r, err)
			return
		}
	}
	h.clearLoginCookie(w, r)
	util.WriteJSON(w, 200, map[string]string{"status": "cancelled"})
}

func (h *Handlers) DeviceLogin(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(h.cfg.RememberCookieName)
	if err != nil || c.Value == "" {
		util.WriteError(w, 401, "invalid_credentials", "invalid credentials", middleware.RequestID(r.Context()))
		return
	}
	res, err := h.svc.LoginWithRememberedDevice(r.Context(), c.Value,
		middleware.ClientIP(r, h.cfg.TrustProxy), r.UserAgent())
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			h.clearRememberCookie(w, r)
		}
		h.writeServiceError(w, r, err)
		return
	}
	h.setAuthCookies(w, r, res.SessionToken, res.Session.CSRFToken)
	util.WriteJSON(w, 200, sessionBody(res.Session))
}

func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.Session(r.Context())
	var remember string
	if c, err := r.Cookie(h.cfg.RememberCookieName); err == nil {
		remember = c.Value
	}
	if err := h.svc.Logout(r.Context(), sess, remember, middleware.ClientIP(r, h.cfg.TrustProxy)); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.clearAuthCookies(w, r)
	h.clearRememberCookie(w, r)
	util.WriteJSON(w, 200, map[string]string{"status": "ok"})
}

func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.Session(r.Context())
	util.WriteJSON(w, 200, sessionBody(sess))
}

// CSRFToken returns the token already bound to the session. Calling it
// repeatedly never rotates anything.
func (h *Handlers) CSRFToken(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.Session(r.Context())
	util.WriteJSON(w, 200, map[string]string{"csrf_token": sess.CSRFToken})
}

func (h *Handlers) CSRFRotate(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.Session(r.Context())
	token, err := h.svc.RotateCSRF(r.Context(), sess.ID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"csrf_token": token})
}

func (h *Handlers) PasswordResetRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		UserType string `json:"user_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		util.WriteError(w, 400, "bad_request", "invalid json", middleware.RequestID(r.Context()))
		return
	}
	userType := models.UserTypeCitizen
	if req.UserType == string(models.UserTypeEmployee) {
		userType = models.UserTypeEmployee
	}
	if err := h.svc.RequestPasswordReset(r.Context(), userType, req.Email,
		middleware.ClientIP(r, h.cfg.TrustProxy)); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"status": "accepted"})
}

func (h *Handlers) PasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		util.WriteError(w, 400, "bad_request", "invalid json", middleware.RequestID(r.Context()))
		return
	}
	if err := h.svc.ConfirmPasswordReset(r.Context(), req.Token, req.NewPassword,
		middleware.ClientIP(r, h.cfg.TrustProxy)); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"status": "updated"})
}

func sessionBody(sess models.Session) map[string]any {
	return map[string]any{
		"principal_id": sess.PrincipalID,
		"name":         sess.PrincipalName,
		"user_type":    sess.UserType,
		"role":         sess.Role,
		"login_at":     sess.LoginAt.Format(time.RFC3339),
	}
}

func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	rid := middleware.RequestID(r.Context())
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		util.WriteError(w, 401, "invalid_credentials", "invalid credentials", rid)
	case errors.Is(err, service.ErrRateLimited):
		util.WriteError(w, 429, "rate_limited", "too many attempts, try again later", rid)
	case errors.Is(err, service.ErrNoChallenge):
		util.WriteError(w, 400, "no_pending_login", "no login awaiting verification", rid)
	case errors.Is(err, service.ErrOtpExpired):
		util.WriteError(w, 401, "otp_expired", "verification code expired, start over", rid)
	case errors.Is(err, service.ErrOtpInvalidFormat):
		util.WriteError(w, 400, "otp_invalid_format", "code must be exactly six digits", rid)
	case errors.Is(err, service.ErrOtpMismatch):
		util.WriteError(w, 401, "otp_mismatch", "incorrect verification code", rid)
	case errors.Is(err, service.ErrOtpExhausted):
		util.WriteError(w, 401, "otp_exhausted", "too many incorrect codes, start over", rid)
	case errors.Is(err, service.ErrResendThrottled):
		util.WriteError(w, 429, "resend_throttled", "wait before requesting another code", rid)
	case errors.Is(err, service.ErrSessionExpired):
		util.WriteError(w, 401, "session_expired", "session expired", rid)
	case errors.Is(err, service.ErrResetInvalid):
		util.WriteError(w, 400, "reset_invalid", "reset token invalid or expired", rid)
	case errors.Is(err, service.ErrPasswordPolicy):
		util.WriteError(w, 400, "password_policy", "password does not meet length or complexity requirements", rid)
	case errors.Is(err, service.ErrDependencyUnavailable):
		util.WriteError(w, 503, "unavailable", "temporarily unavailable, try again", rid)
	case errors.Is(err, service.ErrForbidden):
		util.WriteError(w, 403, "forbidden", "permission denied", rid)
	default:
		// Unmapped errors stay server-side; clients get a generic answer.
		log.Printf("event=unmapped_service_error request_id=%s err=%q", rid, err)
		util.WriteError(w, 400, "request_failed", "request could not be processed", rid)
	}
}
