package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vitalcare/clinic/internal/domain/recommendation"
	"github.com/vitalcare/clinic/internal/platform/auth"
)

type Service struct {
	clinicians ClinicianRepository
	patients   PatientRepository
	tokens     *auth.TokenIssuer
}

func NewService(clinicians ClinicianRepository, patients PatientRepository, tokens *auth.TokenIssuer) *Service {
	return &Service{clinicians: clinicians, patients: patients, tokens: tokens}
}

type caller struct {
	id        uuid.UUID
	admin     bool
	physician bool
	patient   bool
}

func callerFrom(ctx context.Context) caller {
	id, _ := uuid.Parse(auth.UserIDFromContext(ctx))
	return caller{
		id:        id,
		admin:     auth.HasRole(ctx, auth.RoleAdmin),
		physician: auth.HasRole(ctx, auth.RolePhysician),
		patient:   auth.HasRole(ctx, auth.RolePatient),
	}
}

func setPassword(password string, hash *string) error {
	if password == "" {
		return nil
	}
	h, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	*hash = h
	return nil
}

func validStatus(status string) bool {
	return status == StatusActive || status == StatusInactive
}

// -- Sessions --

func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	c, err := s.clinicians.GetByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !auth.CheckPassword(c.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	if !c.Active() {
		return nil, ErrInactive
	}
	return s.session(c.ID, c.FullName, c.Role, c)
}

func (s *Service) LoginPatient(ctx context.Context, nationalID, password string) (*Session, error) {
	p, err := s.patients.GetByNationalID(ctx, strings.TrimSpace(nationalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !auth.CheckPassword(p.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	if !p.Active() {
		return nil, ErrInactive
	}
	return s.session(p.ID, p.FullName, auth.RolePatient, p)
}

func (s *Service) session(id uuid.UUID, name, role string, user any) (*Session, error) {
	token, expires, err := s.tokens.Issue(id.String(), name, role)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: expires, Role: role, User: user}, nil
}

// CurrentUser returns the clinician or patient the request is
// authenticated as.
func (s *Service) CurrentUser(ctx context.Context) (any, error) {
	c := callerFrom(ctx)
	if c.patient {
		return s.patients.GetByID(ctx, c.id)
	}
	return s.clinicians.GetByID(ctx, c.id)
}

// -- Clinicians --

// RegisterClinician is the public sign-up path; it always creates a physician.
func (s *Service) RegisterClinician(ctx context.Context, c *Clinician) error {
	c.Role = auth.RolePhysician
	return s.CreateClinician(ctx, c)
}

// CreateAdmin backs the command-line bootstrap of administrator accounts.
func (s *Service) CreateAdmin(ctx context.Context, c *Clinician) error {
	c.Role = auth.RoleAdmin
	return s.CreateClinician(ctx, c)
}

func (s *Service) CreateClinician(ctx context.Context, c *Clinician) error {
	if err := validateClinician(c, true); err != nil {
		return err
	}
	if c.Role == "" {
		c.Role = auth.RolePhysician
	}
	if c.Role != auth.RolePhysician && c.Role != auth.RoleAdmin {
		return Invalidf("role must be physician or admin")
	}
	exists, err := s.clinicians.Exists(ctx, c.Email, c.NationalID, uuid.Nil)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicate
	}
	if err := setPassword(c.Password, &c.PasswordHash); err != nil {
		return err
	}
	c.Password = ""
	c.Status = StatusActive
	c.Permissions = Permissions{CanEditPatients: true, CanDeletePatients: true}
	return s.clinicians.Create(ctx, c)
}

func (s *Service) GetClinician(ctx context.Context, id uuid.UUID) (*Clinician, error) {
	return s.clinicians.GetByID(ctx, id)
}

func (s *Service) ListClinicians(ctx context.Context, role string, limit, offset int) ([]*Clinician, int, error) {
	return s.clinicians.ListByRole(ctx, role, limit, offset)
}

// UpdateClinician changes profile fields and, when given, the password.
// Role, status and permissions have their own operations.
func (s *Service) UpdateClinician(ctx context.Context, c *Clinician) error {
	existing, err := s.clinicians.GetByID(ctx, c.ID)
	if err != nil {
		return err
	}
	if err := validateClinician(c, false); err != nil {
		return err
	}
	exists, err := s.clinicians.Exists(ctx, c.Email, c.NationalID, c.ID)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicate
	}
	c.PasswordHash = existing.PasswordHash
	if err := setPassword(c.Password, &c.PasswordHash); err != nil {
		return err
	}
	c.Password = ""
	c.Role, c.Status, c.Permissions = existing.Role, existing.Status, existing.Permissions
	c.CreatedAt = existing.CreatedAt
	return s.clinicians.Update(ctx, c)
}

func (s *Service) SetClinicianStatus(ctx context.Context, id uuid.UUID, status string) error {
	if !validStatus(status) {
		return Invalidf("status must be active or inactive")
	}
	return s.clinicians.SetStatus(ctx, id, status)
}

func (s *Service) SetPermissions(ctx context.Context, id uuid.UUID, p Permissions) error {
	return s.clinicians.SetPermissions(ctx, id, p)
}

func (s *Service) DeleteClinician(ctx context.Context, id uuid.UUID) error {
	if callerFrom(ctx).id == id {
		return Invalidf("cannot delete your own account while logged in")
	}
	return s.clinicians.Delete(ctx, id)
}

func (s *Service) DeleteAdmin(ctx context.Context, email string) error {
	return s.clinicians.DeleteByEmail(ctx, normalizeEmail(email), auth.RoleAdmin)
}

// -- Patients --

func validatePatient(p *Patient, requirePassword bool) error {
	p.NationalID = strings.TrimSpace(p.NationalID)
	p.FullName = strings.TrimSpace(p.FullName)
	p.Email = normalizeEmail(p.Email)
	p.Sex = strings.ToLower(strings.TrimSpace(p.Sex))

	if p.NationalID == "" || p.FullName == "" || p.Email == "" || (requirePassword && p.Password == "") {
		return Invalidf("national_id, full_name, email and password are required")
	}
	if !ValidNationalID(p.NationalID) {
		return Invalidf("national_id is not a valid cédula")
	}
	if hasDigit(p.FullName) {
		return Invalidf("full_name must not contain digits")
	}
	if !emailRe.MatchString(p.Email) {
		return Invalidf("email is not valid")
	}
	if p.BirthDate.IsZero() {
		return Invalidf("birth_date is required")
	}
	if p.BirthDate.After(time.Now()) {
		return Invalidf("birth_date cannot be in the future")
	}
	if p.Sex == "" {
		return Invalidf("sex is required")
	}
	for _, k := range p.EnabledVitals {
		if !recommendation.Kind(k).Valid() {
			return Invalidf("unknown vital sign %q", k)
		}
	}
	if p.EnabledVitals == nil {
		p.EnabledVitals = []string{}
	}
	return nil
}

// CreatePatient registers a patient under the calling physician. Admins may
// assign any clinician through AssignedClinicianID.
func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	if err := validatePatient(p, true); err != nil {
		return err
	}
	c := callerFrom(ctx)
	if !c.admin || p.AssignedClinicianID == nil {
		id := c.id
		p.AssignedClinicianID = &id
	}
	if _, err := s.clinicians.GetByID(ctx, *p.AssignedClinicianID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invalidf("assigned clinician does not exist")
		}
		return err
	}
	exists, err := s.patients.Exists(ctx, p.Email, p.NationalID, uuid.Nil)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicate
	}
	if err := setPassword(p.Password, &p.PasswordHash); err != nil {
		return err
	}
	p.Password = ""
	p.Status = StatusActive
	return s.patients.Create(ctx, p)
}

// AuthorizePatient loads a patient the caller may see: admins see everyone,
// physicians their assigned patients and patients themselves.
func (s *Service) AuthorizePatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c := callerFrom(ctx)
	switch {
	case c.admin:
	case c.patient && p.ID == c.id:
	case c.physician && p.AssignedTo(c.id):
	default:
		return nil, ErrForbidden
	}
	return p, nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.AuthorizePatient(ctx, id)
}

func (s *Service) GetPatientByNationalID(ctx context.Context, nationalID string) (*Patient, error) {
	p, err := s.patients.GetByNationalID(ctx, strings.TrimSpace(nationalID))
	if err != nil {
		return nil, err
	}
	return s.AuthorizePatient(ctx, p.ID)
}

// authorizeChange additionally requires the physician permission picked by need.
func (s *Service) authorizeChange(ctx context.Context, id uuid.UUID, need func(Permissions) bool) (*Patient, error) {
	c := callerFrom(ctx)
	if c.patient && !c.admin {
		return nil, ErrForbidden
	}
	p, err := s.AuthorizePatient(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.admin {
		return p, nil
	}
	doc, err := s.clinicians.GetByID(ctx, c.id)
	if err != nil {
		return nil, err
	}
	if !need(doc.Permissions) {
		return nil, ErrForbidden
	}
	return p, nil
}

func canEdit(p Permissions) bool   { return p.CanEditPatients }
func canDelete(p Permissions) bool { return p.CanDeletePatients }

func (s *Service) UpdatePatient(ctx context.Context, p *Patient) error {
	existing, err := s.authorizeChange(ctx, p.ID, canEdit)
	if err != nil {
		return err
	}
	if err := validatePatient(p, false); err != nil {
		return err
	}
	exists, err := s.patients.Exists(ctx, p.Email, p.NationalID, p.ID)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicate
	}
	p.PasswordHash = existing.PasswordHash
	if err := setPassword(p.Password, &p.PasswordHash); err != nil {
		return err
	}
	p.Password = ""
	if p.AssignedClinicianID == nil || !callerFrom(ctx).admin {
		p.AssignedClinicianID = existing.AssignedClinicianID
	}
	p.Status, p.CreatedAt = existing.Status, existing.CreatedAt
	return s.patients.Update(ctx, p)
}

func (s *Service) SetPatientStatus(ctx context.Context, id uuid.UUID, status string) error {
	if !validStatus(status) {
		return Invalidf("status must be active or inactive")
	}
	if _, err := s.authorizeChange(ctx, id, canEdit); err != nil {
		return err
	}
	return s.patients.SetStatus(ctx, id, status)
}

func (s *Service) DeletePatient(ctx context.Context, id uuid.UUID) error {
	if _, err := s.authorizeChange(ctx, id, canDelete); err != nil {
		return err
	}
	return s.patients.Delete(ctx, id)
}

// ListMyPatients lists the patients assigned to the calling physician.
func (s *Service) ListMyPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.patients.ListByClinician(ctx, callerFrom(ctx).id, limit, offset)
}

func (s *Service) ListPatientsOf(ctx context.Context, clinicianID uuid.UUID, limit, offset int) ([]*Patient, int, error) {
	return s.patients.ListByClinician(ctx, clinicianID, limit, offset)
}
