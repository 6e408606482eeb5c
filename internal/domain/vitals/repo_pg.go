package vitals

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitalcare/clinic/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const vitalCols = `id, patient_id, clinician_id, kind, value, notes, recorded_at`

func (r *repoPG) CreateBatch(ctx context.Context, signs []*VitalSign) error {
	return db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		now := time.Now().UTC()
		for _, v := range signs {
			v.ID = uuid.New()
			if v.RecordedAt.IsZero() {
				v.RecordedAt = now
			}
			_, err := r.conn(ctx).Exec(ctx, `
				INSERT INTO vital_sign (`+vitalCols+`) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
				v.ID, v.PatientID, v.ClinicianID, v.Kind, v.Value, v.Notes, v.RecordedAt,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*VitalSign, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM vital_sign WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+vitalCols+` FROM vital_sign WHERE patient_id = $1
		ORDER BY recorded_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	signs, err := collect(rows)
	return signs, total, err
}

func (r *repoPG) ListSince(ctx context.Context, patientID uuid.UUID, since time.Time) ([]*VitalSign, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+vitalCols+` FROM vital_sign WHERE patient_id = $1 AND recorded_at >= $2
		ORDER BY recorded_at DESC`, patientID, since)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]*VitalSign, error) {
	defer rows.Close()
	var signs []*VitalSign
	for rows.Next() {
		var v VitalSign
		if err := rows.Scan(&v.ID, &v.PatientID, &v.ClinicianID, &v.Kind, &v.Value, &v.Notes, &v.RecordedAt); err != nil {
			return nil, err
		}
		signs = append(signs, &v)
	}
	return signs, rows.Err()
}
