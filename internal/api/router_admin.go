package api

import (
	"net/http"
	"strconv"
	"strings"

	"civicportal/internal/middleware"
	"civicportal/internal/models"
	"civicportal/internal/rbac"
	"civicportal/internal/util"
)

func (h *Handlers) AdminSecurityEvents(w http.ResponseWriter, r *http.Request) {
	q := models.SecurityEventQuery{
		EventType: strings.TrimSpace(r.URL.Query().Get("type")),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			q.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			q.Offset = n
		}
	}
	events, err := h.svc.SecurityEvents(r.Context(), q)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

// AuthzCheck evaluates one permission key against the caller's role.
// UIs use it to hide controls the backend would deny anyway.
func (h *Handlers) AuthzCheck(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.URL.Query().Get("permission"))
	if key == "" {
		util.WriteError(w, 400, "bad_request", "permission query parameter required", middleware.RequestID(r.Context()))
		return
	}
	sess, _ := middleware.Session(r.Context())
	allowed := sess.UserType == models.UserTypeEmployee && h.svc.Matrix().Allowed(sess.Role, key)
	util.WriteJSON(w, 200, map[string]any{"permission": key, "role": sess.Role, "allowed": allowed})
}

// StaffOverview reports the caller's role and which portal permissions
// it carries, so the staff UI can render only reachable sections.
func (h *Handlers) StaffOverview(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.Session(r.Context())
	keys := []string{
		rbac.PermContractorWorkspaceView,
		rbac.PermContractorWorkspaceManage,
		rbac.PermContractorBudgetRead,
		rbac.PermProjectManage,
		rbac.PermBudgetManage,
		rbac.PermFeedbackModerate,
		rbac.PermSecurityLogsView,
	}
	perms := make(map[string]bool, len(keys))
	for _, k := range keys {
		perms[k] = h.svc.Matrix().Allowed(sess.Role, k)
	}
	util.WriteJSON(w, 200, map[string]any{
		"principal_id": sess.PrincipalID,
		"name":         sess.PrincipalName,
		"role":         sess.Role,
		"permissions":  perms,
	})
}

func (h *Handlers) ContractorWorkspace(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.Session(r.Context())
	util.WriteJSON(w, 200, map[string]any{
		"principal_id": sess.PrincipalID,
		"role":         sess.Role,
		"budget_read":  h.svc.Matrix().Allowed(sess.Role, rbac.PermContractorBudgetRead),
		"manage":       h.svc.Matrix().Allowed(sess.Role, rbac.PermContractorWorkspaceManage),
	})
}
