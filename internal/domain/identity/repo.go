package identity

import (
	"context"

	"github.com/google/uuid"
)

// Lookups return pgx.ErrNoRows when nothing matches. Mutations of a missing
// row report pgx.ErrNoRows as well; unique violations surface as ErrDuplicate.

type ClinicianRepository interface {
	Create(ctx context.Context, c *Clinician) error
	GetByID(ctx context.Context, id uuid.UUID) (*Clinician, error)
	GetByEmail(ctx context.Context, email string) (*Clinician, error)
	Exists(ctx context.Context, email, nationalID string, exclude uuid.UUID) (bool, error)
	Update(ctx context.Context, c *Clinician) error
	SetStatus(ctx context.Context, id uuid.UUID, status string) error
	SetPermissions(ctx context.Context, id uuid.UUID, p Permissions) error
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByEmail(ctx context.Context, email, role string) error
	ListByRole(ctx context.Context, role string, limit, offset int) ([]*Clinician, int, error)
}

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByNationalID(ctx context.Context, nationalID string) (*Patient, error)
	Exists(ctx context.Context, email, nationalID string, exclude uuid.UUID) (bool, error)
	Update(ctx context.Context, p *Patient) error
	SetStatus(ctx context.Context, id uuid.UUID, status string) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByClinician(ctx context.Context, clinicianID uuid.UUID, limit, offset int) ([]*Patient, int, error)
}
