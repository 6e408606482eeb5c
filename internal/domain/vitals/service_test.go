package vitals

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vitalcare/clinic/internal/domain/identity"
	"github.com/vitalcare/clinic/internal/domain/recommendation"
	"github.com/vitalcare/clinic/internal/platform/auth"
)

// -- Mock Repository --

type mockRepo struct {
	signs   []*VitalSign
	failing bool
}

func (m *mockRepo) CreateBatch(_ context.Context, signs []*VitalSign) error {
	if m.failing {
		return errors.New("connection reset")
	}
	for _, v := range signs {
		v.ID = uuid.New()
		if v.RecordedAt.IsZero() {
			v.RecordedAt = time.Now()
		}
	}
	m.signs = append(m.signs, signs...)
	return nil
}

func (m *mockRepo) newestFirst(patientID uuid.UUID, keep func(*VitalSign) bool) []*VitalSign {
	var out []*VitalSign
	for _, v := range m.signs {
		if v.PatientID == patientID && keep(v) {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RecordedAt.After(out[j].RecordedAt) })
	return out
}

func (m *mockRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*VitalSign, int, error) {
	all := m.newestFirst(patientID, func(*VitalSign) bool { return true })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *mockRepo) ListSince(_ context.Context, patientID uuid.UUID, since time.Time) ([]*VitalSign, error) {
	return m.newestFirst(patientID, func(v *VitalSign) bool { return !v.RecordedAt.Before(since) }), nil
}

// -- Fake patient directory --

type fakeDirectory struct {
	patients map[uuid.UUID]*identity.Patient
}

func (d *fakeDirectory) AuthorizePatient(ctx context.Context, id uuid.UUID) (*identity.Patient, error) {
	p, ok := d.patients[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	caller, _ := uuid.Parse(auth.UserIDFromContext(ctx))
	switch {
	case auth.HasRole(ctx, auth.RoleAdmin):
	case auth.HasRole(ctx, auth.RolePatient) && caller == p.ID:
	case auth.HasRole(ctx, auth.RolePhysician) && p.AssignedTo(caller):
	default:
		return nil, identity.ErrForbidden
	}
	return p, nil
}

// -- Fixtures --

var (
	doctorID = uuid.New()
	otherID  = uuid.New()
	testNow  = time.Date(2026, time.October, 19, 15, 0, 0, 0, time.UTC)
)

type fixture struct {
	svc     *Service
	repo    *mockRepo
	patient *identity.Patient
}

func newFixture() fixture {
	assigned := doctorID
	p := &identity.Patient{
		ID:                  uuid.New(),
		FullName:            "Luis Andrade",
		AssignedClinicianID: &assigned,
		EnabledVitals:       []string{"presion_arterial", "glucosa"},
		Status:              identity.StatusActive,
	}
	repo := &mockRepo{}
	svc := NewService(repo, &fakeDirectory{patients: map[uuid.UUID]*identity.Patient{p.ID: p}})
	svc.now = func() time.Time { return testNow }
	svc.SetLocation(time.UTC)
	return fixture{svc: svc, repo: repo, patient: p}
}

func asUser(id uuid.UUID, role string) context.Context {
	return auth.WithClaims(context.Background(), &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: id.String()},
		Roles:            []string{role},
	})
}

func isValidation(err error) bool {
	var ve *identity.ValidationError
	return errors.As(err, &ve)
}

func (f fixture) seed(kind, value string, at time.Time) {
	clinician := doctorID
	f.repo.signs = append(f.repo.signs, &VitalSign{
		ID: uuid.New(), PatientID: f.patient.ID, ClinicianID: &clinician,
		Kind: kind, Value: value, RecordedAt: at,
	})
}

// -- Recording --

func TestRecord(t *testing.T) {
	f := newFixture()
	b := &Batch{
		PatientID: f.patient.ID,
		Signs:     map[string]SignValue{"temperatura": " 36,8 ", "presion_arterial": "120/80", "frecuencia_cardiaca": "72"},
		Notes:     "en reposo",
	}

	signs, err := f.svc.Record(asUser(doctorID, auth.RolePhysician), b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(signs) != 3 || len(f.repo.signs) != 3 {
		t.Fatalf("expected 3 stored readings, got %d", len(f.repo.signs))
	}
	wantOrder := []string{"presion_arterial", "frecuencia_cardiaca", "temperatura"}
	for i, k := range wantOrder {
		if signs[i].Kind != k {
			t.Errorf("position %d: expected %s, got %s", i, k, signs[i].Kind)
		}
		if signs[i].ClinicianID == nil || *signs[i].ClinicianID != doctorID {
			t.Errorf("expected readings attributed to the caller")
		}
		if signs[i].Notes == nil || *signs[i].Notes != "en reposo" {
			t.Errorf("expected notes on every reading")
		}
	}
	if signs[2].Value != "36,8" {
		t.Errorf("expected trimmed value, got %q", signs[2].Value)
	}
}

func TestRecord_Validation(t *testing.T) {
	f := newFixture()
	ctx := asUser(doctorID, auth.RolePhysician)
	tests := map[string]*Batch{
		"no patient":   {Signs: map[string]SignValue{"glucosa": "90"}},
		"no signs":     {PatientID: f.patient.ID},
		"unknown kind": {PatientID: f.patient.ID, Signs: map[string]SignValue{"colesterol": "200"}},
		"empty value":  {PatientID: f.patient.ID, Signs: map[string]SignValue{"glucosa": "  "}},
	}
	for name, b := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := f.svc.Record(ctx, b); !isValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
	if len(f.repo.signs) != 0 {
		t.Errorf("expected nothing stored, got %d readings", len(f.repo.signs))
	}
}

func TestRecord_NotAssigned(t *testing.T) {
	f := newFixture()
	b := &Batch{PatientID: f.patient.ID, Signs: map[string]SignValue{"glucosa": "90"}}
	if _, err := f.svc.Record(asUser(otherID, auth.RolePhysician), b); !errors.Is(err, identity.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestRecord_StoreFailure(t *testing.T) {
	f := newFixture()
	f.repo.failing = true
	b := &Batch{PatientID: f.patient.ID, Signs: map[string]SignValue{"glucosa": "90"}}
	if _, err := f.svc.Record(asUser(doctorID, auth.RolePhysician), b); err == nil || isValidation(err) {
		t.Errorf("expected storage error, got %v", err)
	}
}

func TestRecordOwn(t *testing.T) {
	f := newFixture()
	b := &Batch{PatientID: uuid.New(), Signs: map[string]SignValue{"glucosa": "105", "presion_arterial": "118/76"}}

	signs, err := f.svc.RecordOwn(asUser(f.patient.ID, auth.RolePatient), b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, v := range signs {
		if v.PatientID != f.patient.ID {
			t.Errorf("expected the caller's own record, got %s", v.PatientID)
		}
		if v.ClinicianID == nil || *v.ClinicianID != doctorID {
			t.Errorf("expected attribution to the assigned physician")
		}
	}
}

func TestRecordOwn_KindNotEnabled(t *testing.T) {
	f := newFixture()
	b := &Batch{Signs: map[string]SignValue{"glucosa": "105", "temperatura": "37"}}

	_, err := f.svc.RecordOwn(asUser(f.patient.ID, auth.RolePatient), b)
	if !isValidation(err) || !strings.Contains(err.Error(), "temperatura") {
		t.Errorf("expected a not-enabled error for temperatura, got %v", err)
	}
	if len(f.repo.signs) != 0 {
		t.Error("expected the whole batch to be rejected")
	}
}

// -- Listing --

func TestListForPatient_NewestFirst(t *testing.T) {
	f := newFixture()
	f.seed("glucosa", "90", testNow.Add(-48*time.Hour))
	f.seed("glucosa", "140", testNow.Add(-time.Hour))
	f.seed("glucosa", "110", testNow.Add(-24*time.Hour))

	signs, total, err := f.svc.ListForPatient(asUser(doctorID, auth.RolePhysician), f.patient.ID, 2, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 3 || len(signs) != 2 {
		t.Fatalf("expected page of 2 out of 3, got %d of %d", len(signs), total)
	}
	if signs[0].Value != "140" || signs[1].Value != "110" {
		t.Errorf("expected newest first, got %s, %s", signs[0].Value, signs[1].Value)
	}

	if _, _, err := f.svc.ListOwn(asUser(uuid.New(), auth.RolePatient), 20, 0); !errors.Is(err, pgx.ErrNoRows) {
		t.Errorf("expected unknown patient to be not found, got %v", err)
	}
}

// -- Summary --

func TestSummary(t *testing.T) {
	f := newFixture()
	f.seed("presion_arterial", "120/80", testNow.Add(-72*time.Hour))
	f.seed("presion_arterial", "150/95", testNow.Add(-2*time.Hour))
	f.seed("presion_arterial", "135/85", testNow.Add(-26*time.Hour))
	f.seed("temperatura", "36,8", testNow.Add(-3*time.Hour))
	f.seed("glucosa", "sin dato", testNow.Add(-5*time.Hour))
	f.seed("glucosa", "300", testNow.Add(-30*24*time.Hour))

	s, err := f.svc.Summary(asUser(doctorID, auth.RolePhysician), f.patient.ID, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Days != 7 || s.Readings != 5 {
		t.Errorf("expected default window with 5 readings, got %d days %d readings", s.Days, s.Readings)
	}

	want := strings.Join([]string{
		"Resumen de signos vitales",
		"Ventana analizada: últimos 7 días (12/10/2026 - 19/10/2026)",
		"- Presión arterial: n=3, últ=150/95 (19/10/2026), min=120/80, max=150/95",
		"- Temperatura: n=1, últ=36.8 (19/10/2026), min=36.8, max=36.8",
		"- Glucosa: n=1, últ=sin dato (19/10/2026)",
	}, "\n")
	if s.Text != want {
		t.Errorf("unexpected summary:\n%s\nwant:\n%s", s.Text, want)
	}
}

func TestSummary_ReadableByGateway(t *testing.T) {
	f := newFixture()
	f.seed("presion_arterial", "150/95", testNow.Add(-2*time.Hour))
	f.seed("presion_arterial", "120/80", testNow.Add(-50*time.Hour))
	f.seed("saturacion_oxigeno", "91%", testNow.Add(-time.Hour))
	f.seed("frecuencia_cardiaca", "72", testNow.Add(-time.Hour))

	s, err := f.svc.Summary(asUser(doctorID, auth.RolePhysician), f.patient.ID, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats := recommendation.ExtractStats(s.Text)
	want := []recommendation.Kind{recommendation.KindBloodPressure, recommendation.KindHeartRate, recommendation.KindOxygenSaturation}
	kinds := stats.Kinds()
	if len(kinds) != len(want) {
		t.Fatalf("expected kinds %v, got %v", want, kinds)
	}
	for i, k := range want {
		if kinds[i] != k {
			t.Errorf("position %d: expected %s, got %s", i, k, kinds[i])
		}
	}
	bp := stats.Series(recommendation.KindBloodPressure).Latest
	if bp.Systolic != 150 || bp.Diastolic == nil || *bp.Diastolic != 95 {
		t.Errorf("expected the latest pressure 150/95, got %+v", bp)
	}
	if spo2 := stats.Series(recommendation.KindOxygenSaturation).Latest; spo2.Value != 91 {
		t.Errorf("expected saturation 91, got %v", spo2.Value)
	}
	if got := recommendation.ExtractRangeLabel(s.Text); got != "últimos 3 días" {
		t.Errorf("unexpected range label %q", got)
	}

	abns := recommendation.Evaluate(stats)
	if len(abns) != 2 || abns[0].Param != recommendation.KindBloodPressure || abns[1].Param != recommendation.KindOxygenSaturation {
		t.Errorf("unexpected abnormalities: %+v", abns)
	}
}

func TestSummary_Empty(t *testing.T) {
	f := newFixture()
	s, err := f.svc.OwnSummary(asUser(f.patient.ID, auth.RolePatient), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "Resumen de signos vitales\nVentana analizada: último día (18/10/2026 - 19/10/2026)\nSin registros en el periodo."
	if s.Text != want {
		t.Errorf("unexpected summary:\n%q", s.Text)
	}
	if recommendation.ExtractStats(s.Text).Len() != 0 {
		t.Error("expected no readings to be parsed from an empty summary")
	}
}

func TestSummary_WindowLimit(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.Summary(asUser(doctorID, auth.RolePhysician), f.patient.ID, 91); !isValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
	if _, err := f.svc.Summary(asUser(otherID, auth.RolePhysician), f.patient.ID, 7); !errors.Is(err, identity.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}
