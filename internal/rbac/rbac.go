// Package rbac holds the static permission matrix that maps permission
// keys to the staff roles allowed to exercise them. The matrix is built
// once at startup and never mutated afterwards, so lookups need no locking.
package rbac

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Permission keys known to the default matrix.
const (
	PermContractorWorkspaceView   = "contractor.workspace.view"
	PermContractorWorkspaceManage = "contractor.workspace.manage"
	PermContractorBudgetRead      = "contractor.budget.read"
	PermProjectManage             = "project.manage"
	PermBudgetManage              = "budget.manage"
	PermFeedbackModerate          = "feedback.moderate"
	PermSecurityLogsView          = "security.logs.view"
)

type Matrix struct {
	perms map[string][]string
}

// Default returns the built-in permission matrix.
func Default() *Matrix {
	return build(map[string][]string{
		PermContractorWorkspaceView:   {"contractor", "admin", "super_admin"},
		PermContractorWorkspaceManage: {"contractor", "admin", "super_admin"},
		PermContractorBudgetRead:      {"contractor", "admin", "super_admin"},
		PermProjectManage:             {"admin", "super_admin", "department_head"},
		PermBudgetManage:              {"admin", "super_admin"},
		PermFeedbackModerate:          {"admin", "super_admin", "employee", "department_head"},
		PermSecurityLogsView:          {"admin", "super_admin"},
	})
}

// LoadFile reads a permission matrix from a JSON object of
// {"permission.key": ["role", ...]}. Used to override the default
// matrix per deployment.
func LoadFile(path string) (*Matrix, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rbac matrix: %w", err)
	}
	var perms map[string][]string
	if err := json.Unmarshal(raw, &perms); err != nil {
		return nil, fmt.Errorf("parse rbac matrix: %w", err)
	}
	if len(perms) == 0 {
		return nil, fmt.Errorf("rbac matrix %s defines no permissions", path)
	}
	return build(perms), nil
}

func build(perms map[string][]string) *Matrix {
	m := &Matrix{perms: make(map[string][]string, len(perms))}
	for key, roles := range perms {
		key = strings.ToLower(strings.TrimSpace(key))
		norm := make([]string, 0, len(roles))
		for _, r := range roles {
			r = strings.ToLower(strings.TrimSpace(r))
			if r != "" {
				norm = append(norm, r)
			}
		}
		m.perms[key] = norm
	}
	return m
}

// Allowed reports whether role may exercise the permission key. Unknown
// keys and unknown roles both deny.
func (m *Matrix) Allowed(role, key string) bool {
	roles, ok := m.perms[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return false
	}
	role = strings.ToLower(strings.TrimSpace(role))
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// AllowedWithFallback behaves like Allowed, except that when the key is
// absent from the matrix the decision falls back to the supplied role
// list. Deployment matrices may omit newer keys; the fallback keeps the
// guarded surface reachable by its intended roles instead of bricking it.
func (m *Matrix) AllowedWithFallback(role, key string, fallback []string) bool {
	if _, ok := m.perms[strings.ToLower(strings.TrimSpace(key))]; ok {
		return m.Allowed(role, key)
	}
	role = strings.ToLower(strings.TrimSpace(role))
	for _, r := range fallback {
		if strings.ToLower(strings.TrimSpace(r)) == role {
			return true
		}
	}
	return false
}

// Roles returns a copy of the role list for a permission key, nil when
// the key is unknown.
func (m *Matrix) Roles(key string) []string {
	roles, ok := m.perms[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return nil
	}
	out := make([]string, len(roles))
	copy(out, roles)
	return out
}
