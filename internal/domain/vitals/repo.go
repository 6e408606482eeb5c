package vitals

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// CreateBatch stores every sign or none of them.
	CreateBatch(ctx context.Context, signs []*VitalSign) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*VitalSign, int, error)
	// ListSince returns readings recorded at or after since, newest first.
	ListSince(ctx context.Context, patientID uuid.UUID, since time.Time) ([]*VitalSign, error)
}
