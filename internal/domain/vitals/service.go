package vitals

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vitalcare/clinic/internal/domain/identity"
	"github.com/vitalcare/clinic/internal/domain/recommendation"
	"github.com/vitalcare/clinic/internal/platform/auth"
)

const (
	defaultSummaryDays = 7
	maxSummaryDays     = 90
)

// PatientDirectory resolves a patient the caller is allowed to see.
type PatientDirectory interface {
	AuthorizePatient(ctx context.Context, id uuid.UUID) (*identity.Patient, error)
}

type Service struct {
	repo     Repository
	patients PatientDirectory
	now      func() time.Time
	loc      *time.Location
}

func NewService(repo Repository, patients PatientDirectory) *Service {
	return &Service{repo: repo, patients: patients, now: time.Now, loc: time.Local}
}

// SetLocation sets the zone used for dates in summaries.
func (s *Service) SetLocation(loc *time.Location) {
	if loc != nil {
		s.loc = loc
	}
}

func callerID(ctx context.Context) uuid.UUID {
	id, _ := uuid.Parse(auth.UserIDFromContext(ctx))
	return id
}

// Record stores a batch taken by the calling clinician.
func (s *Service) Record(ctx context.Context, b *Batch) ([]*VitalSign, error) {
	if b.PatientID == uuid.Nil {
		return nil, identity.Invalidf("patient_id is required")
	}
	if _, err := s.patients.AuthorizePatient(ctx, b.PatientID); err != nil {
		return nil, err
	}
	clinician := callerID(ctx)
	signs, err := build(b, &clinician, func(kind string) error { return nil })
	if err != nil {
		return nil, err
	}
	if err := s.repo.CreateBatch(ctx, signs); err != nil {
		return nil, err
	}
	return signs, nil
}

// RecordOwn stores a batch self-reported by the calling patient. Only kinds
// enabled by the physician are accepted and readings are attributed to them.
func (s *Service) RecordOwn(ctx context.Context, b *Batch) ([]*VitalSign, error) {
	p, err := s.patients.AuthorizePatient(ctx, callerID(ctx))
	if err != nil {
		return nil, err
	}
	b.PatientID = p.ID
	signs, err := build(b, p.AssignedClinicianID, func(kind string) error {
		if !p.VitalEnabled(kind) {
			return identity.Invalidf("vital sign %s is not enabled by your physician", kind)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.repo.CreateBatch(ctx, signs); err != nil {
		return nil, err
	}
	return signs, nil
}

// build validates b and returns its readings in display order.
func build(b *Batch, clinician *uuid.UUID, allowed func(kind string) error) ([]*VitalSign, error) {
	if len(b.Signs) == 0 {
		return nil, identity.Invalidf("signs must contain at least one reading")
	}
	for kind, value := range b.Signs {
		if !recommendation.Kind(kind).Valid() {
			return nil, identity.Invalidf("unknown vital sign %q", kind)
		}
		if err := allowed(kind); err != nil {
			return nil, err
		}
		if strings.TrimSpace(string(value)) == "" {
			return nil, identity.Invalidf("invalid value for %s", kind)
		}
	}

	var notes *string
	if n := strings.TrimSpace(b.Notes); n != "" {
		notes = &n
	}
	var signs []*VitalSign
	for _, k := range recommendation.AllKinds {
		value, ok := b.Signs[string(k)]
		if !ok {
			continue
		}
		signs = append(signs, &VitalSign{
			PatientID:   b.PatientID,
			ClinicianID: clinician,
			Kind:        string(k),
			Value:       strings.TrimSpace(string(value)),
			Notes:       notes,
		})
	}
	return signs, nil
}

func (s *Service) ListForPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*VitalSign, int, error) {
	if _, err := s.patients.AuthorizePatient(ctx, patientID); err != nil {
		return nil, 0, err
	}
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListOwn(ctx context.Context, limit, offset int) ([]*VitalSign, int, error) {
	return s.ListForPatient(ctx, callerID(ctx), limit, offset)
}

// Summary renders the readings of the last days days as compact text.
// days <= 0 selects the default window.
func (s *Service) Summary(ctx context.Context, patientID uuid.UUID, days int) (*Summary, error) {
	if days <= 0 {
		days = defaultSummaryDays
	}
	if days > maxSummaryDays {
		return nil, identity.Invalidf("days must be between 1 and %d", maxSummaryDays)
	}
	if _, err := s.patients.AuthorizePatient(ctx, patientID); err != nil {
		return nil, err
	}
	to := s.now()
	from := to.AddDate(0, 0, -days)
	signs, err := s.repo.ListSince(ctx, patientID, from)
	if err != nil {
		return nil, err
	}
	return &Summary{
		PatientID: patientID,
		Days:      days,
		From:      from,
		To:        to,
		Readings:  len(signs),
		Text:      s.render(signs, days, from, to),
	}, nil
}

func (s *Service) OwnSummary(ctx context.Context, days int) (*Summary, error) {
	return s.Summary(ctx, callerID(ctx), days)
}

var decimalCommaRe = regexp.MustCompile(`(\d),(\d)`)

// display keeps values parseable inside a comma-separated summary line.
func display(value string) string {
	return decimalCommaRe.ReplaceAllString(value, "$1.$2")
}

func windowLabel(days int) string {
	if days == 1 {
		return "último día"
	}
	return fmt.Sprintf("últimos %d días", days)
}

// render expects signs newest first.
func (s *Service) render(signs []*VitalSign, days int, from, to time.Time) string {
	day := func(t time.Time) string { return t.In(s.loc).Format("02/01/2006") }

	var b strings.Builder
	b.WriteString("Resumen de signos vitales\n")
	fmt.Fprintf(&b, "Ventana analizada: %s (%s - %s)\n", windowLabel(days), day(from), day(to))
	if len(signs) == 0 {
		b.WriteString("Sin registros en el periodo.")
		return b.String()
	}

	byKind := make(map[string][]*VitalSign)
	for _, v := range signs {
		byKind[v.Kind] = append(byKind[v.Kind], v)
	}
	var lines []string
	for _, k := range recommendation.AllKinds {
		series := byKind[string(k)]
		if len(series) == 0 {
			continue
		}
		latest := series[0]
		line := fmt.Sprintf("- %s: n=%d, últ=%s (%s)",
			recommendation.ParamLabel(k), len(series), display(latest.Value), day(latest.RecordedAt))
		if lo, hi, ok := valueRange(k, series); ok {
			line += fmt.Sprintf(", min=%s, max=%s", lo, hi)
		}
		lines = append(lines, line)
	}
	b.WriteString(strings.Join(lines, "\n"))
	return b.String()
}

// valueRange finds the lowest and highest readings of a series, comparing
// blood pressure by its systolic component.
func valueRange(k recommendation.Kind, series []*VitalSign) (string, string, bool) {
	var lo, hi string
	var loV, hiV float64
	found := false
	for _, v := range series {
		r, ok := recommendation.ParseLine(string(k) + ": " + v.Value)
		if !ok {
			continue
		}
		n := r.Value
		if k == recommendation.KindBloodPressure {
			n = r.Systolic
		}
		if !found || n < loV {
			lo, loV = display(v.Value), n
		}
		if !found || n > hiV {
			hi, hiV = display(v.Value), n
		}
		found = true
	}
	return lo, hi, found
}
