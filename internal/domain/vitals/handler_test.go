package vitals

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/vitalcare/clinic/internal/platform/auth"
)

func newRequest(e *echo.Echo, ctx context.Context, method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func expectHTTPStatus(t *testing.T, err error, code int) {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	if he.Code != code {
		t.Errorf("expected %d, got %d (%v)", code, he.Code, he.Message)
	}
}

func TestHandler_Record(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	ctx := asUser(doctorID, auth.RolePhysician)

	body := `{"patient_id":"` + f.patient.ID.String() + `","signs":{"glucosa":110,"presion_arterial":"120/80"},"notes":"ayunas"}`
	c, rec := newRequest(e, ctx, http.MethodPost, "/", body)
	if err := h.Record(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var signs []VitalSign
	if err := json.Unmarshal(rec.Body.Bytes(), &signs); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if len(signs) != 2 || signs[0].Kind != "presion_arterial" || signs[1].Value != "110" {
		t.Errorf("unexpected readings: %+v", signs)
	}

	c, _ = newRequest(e, ctx, http.MethodPost, "/", `{"patient_id":"`+f.patient.ID.String()+`","signs":{"glucosa":true}}`)
	expectHTTPStatus(t, h.Record(c), http.StatusBadRequest)

	c, _ = newRequest(e, ctx, http.MethodPost, "/", `{"patient_id":"`+uuid.New().String()+`","signs":{"glucosa":"90"}}`)
	expectHTTPStatus(t, h.Record(c), http.StatusNotFound)

	c, _ = newRequest(e, asUser(otherID, auth.RolePhysician), http.MethodPost, "/", body)
	expectHTTPStatus(t, h.Record(c), http.StatusForbidden)
}

func TestHandler_RecordOwn(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	ctx := asUser(f.patient.ID, auth.RolePatient)

	c, rec := newRequest(e, ctx, http.MethodPost, "/", `{"signs":{"glucosa":"98"}}`)
	if err := h.RecordOwn(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	c, _ = newRequest(e, ctx, http.MethodPost, "/", `{"signs":{"peso":"70"}}`)
	expectHTTPStatus(t, h.RecordOwn(c), http.StatusBadRequest)
}

func TestHandler_ListForPatient(t *testing.T) {
	f := newFixture()
	for i := 0; i < 3; i++ {
		f.seed("glucosa", "100", testNow.Add(-time.Duration(i)*time.Hour))
	}
	h, e := NewHandler(f.svc), echo.New()

	c, rec := newRequest(e, asUser(doctorID, auth.RolePhysician), http.MethodGet, "/?limit=2", "")
	c.SetParamNames("id")
	c.SetParamValues(f.patient.ID.String())
	if err := h.ListForPatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var page struct {
		Data    []VitalSign `json:"data"`
		Total   int         `json:"total"`
		HasMore bool        `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if page.Total != 3 || len(page.Data) != 2 || !page.HasMore {
		t.Errorf("unexpected page: total=%d len=%d has_more=%v", page.Total, len(page.Data), page.HasMore)
	}

	c, _ = newRequest(e, asUser(doctorID, auth.RolePhysician), http.MethodGet, "/", "")
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	expectHTTPStatus(t, h.ListForPatient(c), http.StatusBadRequest)
}

func TestHandler_Summary(t *testing.T) {
	f := newFixture()
	f.seed("temperatura", "38,4", testNow.Add(-time.Hour))
	h, e := NewHandler(f.svc), echo.New()
	ctx := asUser(doctorID, auth.RolePhysician)

	c, rec := newRequest(e, ctx, http.MethodGet, "/?days=2", "")
	c.SetParamNames("id")
	c.SetParamValues(f.patient.ID.String())
	if err := h.Summary(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var s Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &s); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if s.Days != 2 || s.Readings != 1 {
		t.Errorf("unexpected summary: %+v", s)
	}
	if !strings.Contains(s.Text, "- Temperatura: n=1, últ=38.4") {
		t.Errorf("unexpected summary text:\n%s", s.Text)
	}

	for _, q := range []string{"/?days=0", "/?days=abc", "/?days=120"} {
		c, _ = newRequest(e, ctx, http.MethodGet, q, "")
		c.SetParamNames("id")
		c.SetParamValues(f.patient.ID.String())
		expectHTTPStatus(t, h.Summary(c), http.StatusBadRequest)
	}
}

func TestHandler_OwnSummary(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()

	c, rec := newRequest(e, asUser(f.patient.ID, auth.RolePatient), http.MethodGet, "/", "")
	if err := h.OwnSummary(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), "Sin registros en el periodo.") {
		t.Errorf("expected empty window text, got %s", rec.Body.String())
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	h.RegisterRoutes(e.Group("/api/v1"))

	expected := map[string]bool{
		"POST:/api/v1/vitals":                     false,
		"GET:/api/v1/vitals/patients/:id":         false,
		"GET:/api/v1/vitals/patients/:id/summary": false,
		"POST:/api/v1/vitals/me":                  false,
		"GET:/api/v1/vitals/me":                   false,
		"GET:/api/v1/vitals/me/summary":           false,
	}
	for _, r := range e.Routes() {
		key := r.Method + ":" + r.Path
		if _, ok := expected[key]; ok {
			expected[key] = true
		}
	}
	for route, found := range expected {
		if !found {
			t.Errorf("missing route: %s", route)
		}
	}
}
