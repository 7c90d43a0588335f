package rbac

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultMatrixContractorSurface(t *testing.T) {
	m := Default()

	if !m.Allowed("contractor", PermContractorBudgetRead) {
		t.Fatalf("contractor must read contractor budgets")
	}
	if !m.Allowed("admin", PermContractorBudgetRead) || !m.Allowed("super_admin", PermContractorBudgetRead) {
		t.Fatalf("admin roles share the contractor read surface")
	}
	if m.Allowed("employee", PermContractorBudgetRead) {
		t.Fatalf("plain employees must not read contractor budgets")
	}
	if m.Allowed("contractor", PermBudgetManage) {
		t.Fatalf("contractor must not manage budgets")
	}
}

func TestMatrixDeniesUnknownKeysAndRoles(t *testing.T) {
	m := Default()
	if m.Allowed("admin", "no.such.permission") {
		t.Fatalf("unknown permission must deny")
	}
	if m.Allowed("intern", PermProjectManage) {
		t.Fatalf("unknown role must deny")
	}
	if m.Allowed("", PermProjectManage) {
		t.Fatalf("empty role must deny")
	}
	if m.Roles("no.such.permission") != nil {
		t.Fatalf("unknown permission has no role list")
	}
}

func TestMatrixNormalizesCase(t *testing.T) {
	m := Default()
	if !m.Allowed("Admin", PermSecurityLogsView) {
		t.Fatalf("role comparison should be case insensitive")
	}
	if !m.Allowed("SUPER_ADMIN", "Security.Logs.View") {
		t.Fatalf("key comparison should be case insensitive")
	}
}

func TestRolesReturnsCopy(t *testing.T) {
	m := Default()
	roles := m.Roles(PermBudgetManage)
	if len(roles) == 0 {
		t.Fatalf("expected roles for %s", PermBudgetManage)
	}
	roles[0] = "mutated"
	if m.Allowed("mutated", PermBudgetManage) {
		t.Fatalf("mutating the returned slice must not affect the matrix")
	}
}

func TestAllowedWithFallback(t *testing.T) {
	m := Default()

	// Known keys ignore the fallback entirely.
	if m.AllowedWithFallback("employee", PermBudgetManage, []string{"employee"}) {
		t.Fatalf("fallback must not widen a key the matrix defines")
	}
	if !m.AllowedWithFallback("admin", PermBudgetManage, nil) {
		t.Fatalf("matrix decision should stand for known keys")
	}

	// Unknown keys consult the fallback list.
	if !m.AllowedWithFallback("Department_Head", "permits.issue", []string{"department_head", "admin"}) {
		t.Fatalf("fallback should allow listed roles for unknown keys")
	}
	if m.AllowedWithFallback("employee", "permits.issue", []string{"department_head", "admin"}) {
		t.Fatalf("fallback must deny unlisted roles")
	}
	if m.AllowedWithFallback("admin", "permits.issue", nil) {
		t.Fatalf("unknown key with no fallback must deny")
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matrix.json")
	payload := `{"kiosk.operate": ["Employee", "department_head"]}`
	if err := os.WriteFile(path, []byte(payload), 0o600); err != nil {
		t.Fatalf("write matrix: %v", err)
	}
	m, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !m.Allowed("employee", "kiosk.operate") {
		t.Fatalf("expected loaded permission to allow employee")
	}
	if m.Allowed("admin", PermBudgetManage) {
		t.Fatalf("loaded matrix replaces the defaults entirely")
	}
}

func TestLoadFileRejectsEmptyAndMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	path := filepath.Join(t.TempDir(), "empty.json")
	if err := os.WriteFile(path, []byte(`{}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatalf("expected error for empty matrix")
	}
}
