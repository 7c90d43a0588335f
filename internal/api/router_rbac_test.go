package api

import (
	"net/http"
	"testing"
)

func TestSecurityEventListingRequiresAdminPermission(t *testing.T) {
	sender := &captureSender{}
	router, _, cfg := newTestRouter(t, sender)

	adminSess, _, _ := loginAs(t, router, sender, cfg, "/api/v1/staff/login", testAdminEmail, false)
	rec := getPath(t, router, "/api/v1/admin/security-events", []*http.Cookie{adminSess}, testUserAgent)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin: expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	decodeBody(t, rec.Body.Bytes(), &body)
	if _, ok := body["events"]; !ok {
		t.Fatalf("expected events list, got %v", body)
	}

	clerkSess, _, _ := loginAs(t, router, sender, cfg, "/api/v1/staff/login", testStaffEmail, false)
	rec = getPath(t, router, "/api/v1/admin/security-events", []*http.Cookie{clerkSess}, testUserAgent)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("employee: expected 403, got %d", rec.Code)
	}

	citizenSess, _, _ := loginAs(t, router, sender, cfg, "/api/v1/citizen/login", testCitizenEmail, false)
	rec = getPath(t, router, "/api/v1/admin/security-events", []*http.Cookie{citizenSess}, testUserAgent)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("citizen: expected 403, got %d", rec.Code)
	}
}

func TestContractorWorkspaceAccess(t *testing.T) {
	sender := &captureSender{}
	router, _, cfg := newTestRouter(t, sender)

	contractorSess, _, _ := loginAs(t, router, sender, cfg, "/api/v1/staff/login", testContractorEM, false)
	rec := getPath(t, router, "/api/v1/contractor/workspace", []*http.Cookie{contractorSess}, testUserAgent)
	if rec.Code != http.StatusOK {
		t.Fatalf("contractor: expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	decodeBody(t, rec.Body.Bytes(), &body)
	if body["budget_read"] != true {
		t.Fatalf("contractor should hold budget read permission, got %v", body)
	}

	// Admins share the contractor surface; plain employees do not.
	adminSess, _, _ := loginAs(t, router, sender, cfg, "/api/v1/staff/login", testAdminEmail, false)
	rec = getPath(t, router, "/api/v1/contractor/workspace", []*http.Cookie{adminSess}, testUserAgent)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin: expected 200, got %d", rec.Code)
	}
	clerkSess, _, _ := loginAs(t, router, sender, cfg, "/api/v1/staff/login", testStaffEmail, false)
	rec = getPath(t, router, "/api/v1/contractor/workspace", []*http.Cookie{clerkSess}, testUserAgent)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("employee: expected 403, got %d", rec.Code)
	}
}

func TestStaffOverviewRequiresStaffRole(t *testing.T) {
	sender := &captureSender{}
	router, _, cfg := newTestRouter(t, sender)

	clerkSess, _, _ := loginAs(t, router, sender, cfg, "/api/v1/staff/login", testStaffEmail, false)
	rec := getPath(t, router, "/api/v1/staff/overview", []*http.Cookie{clerkSess}, testUserAgent)
	if rec.Code != http.StatusOK {
		t.Fatalf("employee: expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	var body struct {
		Role        string          `json:"role"`
		Permissions map[string]bool `json:"permissions"`
	}
	decodeBody(t, rec.Body.Bytes(), &body)
	if body.Role != "employee" {
		t.Fatalf("expected role employee, got %q", body.Role)
	}
	if !body.Permissions["feedback.moderate"] {
		t.Fatalf("employee should hold feedback.moderate, got %v", body.Permissions)
	}
	if body.Permissions["budget.manage"] {
		t.Fatalf("employee must not hold budget.manage, got %v", body.Permissions)
	}

	citizenSess, _, _ := loginAs(t, router, sender, cfg, "/api/v1/citizen/login", testCitizenEmail, false)
	rec = getPath(t, router, "/api/v1/staff/overview", []*http.Cookie{citizenSess}, testUserAgent)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("citizen: expected 403, got %d", rec.Code)
	}
}

func TestAuthzCheckEndpoint(t *testing.T) {
	sender := &captureSender{}
	router, _, cfg := newTestRouter(t, sender)

	clerkSess, _, _ := loginAs(t, router, sender, cfg, "/api/v1/staff/login", testStaffEmail, false)
	rec := getPath(t, router, "/api/v1/authz/check?permission=feedback.moderate", []*http.Cookie{clerkSess}, testUserAgent)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	decodeBody(t, rec.Body.Bytes(), &body)
	if body["allowed"] != true {
		t.Fatalf("employee should moderate feedback, got %v", body)
	}

	rec = getPath(t, router, "/api/v1/authz/check?permission=budget.manage", []*http.Cookie{clerkSess}, testUserAgent)
	decodeBody(t, rec.Body.Bytes(), &body)
	if body["allowed"] != false {
		t.Fatalf("employee must not manage budgets, got %v", body)
	}

	// Unknown keys deny.
	rec = getPath(t, router, "/api/v1/authz/check?permission=no.such.key", []*http.Cookie{clerkSess}, testUserAgent)
	decodeBody(t, rec.Body.Bytes(), &body)
	if body["allowed"] != false {
		t.Fatalf("unknown permission must deny, got %v", body)
	}

	// Citizens never pass the staff matrix.
	citizenSess, _, _ := loginAs(t, router, sender, cfg, "/api/v1/citizen/login", testCitizenEmail, false)
	rec = getPath(t, router, "/api/v1/authz/check?permission=feedback.moderate", []*http.Cookie{citizenSess}, testUserAgent)
	decodeBody(t, rec.Body.Bytes(), &body)
	if body["allowed"] != false {
		t.Fatalf("citizen must not hold staff permissions, got %v", body)
	}
}
