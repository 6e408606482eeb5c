package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/vitalcare/clinic/internal/platform/auth"
)

const testPatientID = "0b5c7b1e-3f7a-4c1d-9a57-2f9b4c6a8e10"

func runAudit(t *testing.T, method, path string, handler echo.HandlerFunc) AuditEntry {
	t.Helper()
	var got AuditEntry
	recorder := AuditRecorderFunc(func(entry AuditEntry) error {
		got = entry
		return nil
	})

	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	ctx := context.WithValue(req.Context(), auth.UserIDKey, "clinician-1")
	ctx = context.WithValue(ctx, auth.UserRolesKey, []string{auth.RolePhysician})
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("request_id", "req-123")

	Audit(zerolog.Nop(), recorder)(handler)(c)
	return got
}

func TestAudit_PatientRead(t *testing.T) {
	entry := runAudit(t, http.MethodGet, "/api/v1/patients/"+testPatientID, func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	if entry.UserID != "clinician-1" {
		t.Errorf("expected user clinician-1, got %q", entry.UserID)
	}
	if entry.Resource != "patients" || entry.Action != "read" {
		t.Errorf("unexpected resource/action: %s/%s", entry.Resource, entry.Action)
	}
	if entry.PatientID != testPatientID {
		t.Errorf("expected patient id %s, got %q", testPatientID, entry.PatientID)
	}
	if entry.RequestID != "req-123" || entry.StatusCode != http.StatusOK {
		t.Errorf("unexpected request id/status: %s/%d", entry.RequestID, entry.StatusCode)
	}
}

func TestAudit_ErrorStatusBeforeRender(t *testing.T) {
	entry := runAudit(t, http.MethodDelete, "/api/v1/patients/"+testPatientID, func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusForbidden, "no permission")
	})

	if entry.Action != "delete" {
		t.Errorf("expected delete action, got %s", entry.Action)
	}
	if entry.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %d", entry.StatusCode)
	}
}

func TestAudit_SkipsNonAuditablePaths(t *testing.T) {
	called := false
	recorder := AuditRecorderFunc(func(entry AuditEntry) error {
		called = true
		return nil
	})

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	Audit(zerolog.Nop(), recorder)(func(c echo.Context) error { return nil })(c)

	if called {
		t.Error("login must not be audited as PHI access")
	}
}

func TestAudit_RecorderError_DoesNotBreakRequest(t *testing.T) {
	recorder := AuditRecorderFunc(func(entry AuditEntry) error {
		return errors.New("disk full")
	})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/vitals/me", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := Audit(zerolog.Nop(), recorder)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestExtractResource(t *testing.T) {
	tests := map[string]string{
		"/api/v1/patients":                 "patients",
		"/api/v1/vitals/patients/x":        "vitals",
		"/api/v1/llm/recomendacion":        "llm",
		"/api/v1/auth/login":               "unknown",
		"/health":                          "unknown",
		"/api/v1/admin/clinicians/x/state": "unknown",
	}
	for path, want := range tests {
		if got := extractResource(path); got != want {
			t.Errorf("extractResource(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestHttpMethodToAction(t *testing.T) {
	tests := map[string]string{
		http.MethodGet:    "read",
		http.MethodPost:   "create",
		http.MethodPut:    "update",
		http.MethodPatch:  "update",
		http.MethodDelete: "delete",
	}
	for method, want := range tests {
		if got := httpMethodToAction(method); got != want {
			t.Errorf("httpMethodToAction(%s) = %s, want %s", method, got, want)
		}
	}
}
