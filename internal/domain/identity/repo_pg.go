package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitalcare/clinic/internal/platform/db"
)

const uniqueViolation = "23505"

// translate maps driver errors onto the package's sentinel errors.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}

func affected(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// -- Clinician Repository --

type clinicianRepoPG struct {
	pool *pgxpool.Pool
}

func NewClinicianRepo(pool *pgxpool.Pool) ClinicianRepository {
	return &clinicianRepoPG{pool: pool}
}

func (r *clinicianRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const clinicianCols = `id, national_id, full_name, email, password_hash, role, status,
	can_edit_patients, can_delete_patients, created_at, updated_at`

func (r *clinicianRepoPG) Create(ctx context.Context, c *Clinician) error {
	c.ID = uuid.New()
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO clinician (`+clinicianCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		c.ID, c.NationalID, c.FullName, c.Email, c.PasswordHash, c.Role, c.Status,
		c.Permissions.CanEditPatients, c.Permissions.CanDeletePatients, c.CreatedAt, c.UpdatedAt,
	)
	return translate(err)
}

func (r *clinicianRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Clinician, error) {
	return scanClinician(r.conn(ctx).QueryRow(ctx, `SELECT `+clinicianCols+` FROM clinician WHERE id = $1`, id))
}

func (r *clinicianRepoPG) GetByEmail(ctx context.Context, email string) (*Clinician, error) {
	return scanClinician(r.conn(ctx).QueryRow(ctx, `SELECT `+clinicianCols+` FROM clinician WHERE email = $1`, email))
}

func (r *clinicianRepoPG) Exists(ctx context.Context, email, nationalID string, exclude uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM clinician WHERE (email = $1 OR national_id = $2) AND id <> $3)`,
		email, nationalID, exclude,
	).Scan(&exists)
	return exists, err
}

func (r *clinicianRepoPG) Update(ctx context.Context, c *Clinician) error {
	c.UpdatedAt = time.Now().UTC()
	return affected(r.conn(ctx).Exec(ctx, `
		UPDATE clinician SET national_id=$2, full_name=$3, email=$4, password_hash=$5, updated_at=$6
		WHERE id = $1`,
		c.ID, c.NationalID, c.FullName, c.Email, c.PasswordHash, c.UpdatedAt,
	))
}

func (r *clinicianRepoPG) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	return affected(r.conn(ctx).Exec(ctx,
		`UPDATE clinician SET status=$2, updated_at=NOW() WHERE id = $1`, id, status))
}

func (r *clinicianRepoPG) SetPermissions(ctx context.Context, id uuid.UUID, p Permissions) error {
	return affected(r.conn(ctx).Exec(ctx, `
		UPDATE clinician SET can_edit_patients=$2, can_delete_patients=$3, updated_at=NOW()
		WHERE id = $1`, id, p.CanEditPatients, p.CanDeletePatients))
}

func (r *clinicianRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	return affected(r.conn(ctx).Exec(ctx, `DELETE FROM clinician WHERE id = $1`, id))
}

func (r *clinicianRepoPG) DeleteByEmail(ctx context.Context, email, role string) error {
	return affected(r.conn(ctx).Exec(ctx, `DELETE FROM clinician WHERE email = $1 AND role = $2`, email, role))
}

func (r *clinicianRepoPG) ListByRole(ctx context.Context, role string, limit, offset int) ([]*Clinician, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM clinician WHERE role = $1`, role).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+clinicianCols+` FROM clinician WHERE role = $1
		ORDER BY full_name LIMIT $2 OFFSET $3`, role, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var clinicians []*Clinician
	for rows.Next() {
		c, err := scanClinician(rows)
		if err != nil {
			return nil, 0, err
		}
		clinicians = append(clinicians, c)
	}
	return clinicians, total, rows.Err()
}

func scanClinician(row pgx.Row) (*Clinician, error) {
	var c Clinician
	err := row.Scan(
		&c.ID, &c.NationalID, &c.FullName, &c.Email, &c.PasswordHash, &c.Role, &c.Status,
		&c.Permissions.CanEditPatients, &c.Permissions.CanDeletePatients, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// -- Patient Repository --

type patientRepoPG struct {
	pool *pgxpool.Pool
}

func NewPatientRepo(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const patientCols = `id, national_id, full_name, email, password_hash, assigned_clinician_id,
	enabled_vitals, birth_date, sex, status, created_at, updated_at`

func enabledVitals(p *Patient) []string {
	if p.EnabledVitals == nil {
		return []string{}
	}
	return p.EnabledVitals
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient (`+patientCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		p.ID, p.NationalID, p.FullName, p.Email, p.PasswordHash, p.AssignedClinicianID,
		enabledVitals(p), p.BirthDate.Time, p.Sex, p.Status, p.CreatedAt, p.UpdatedAt,
	)
	return translate(err)
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
}

func (r *patientRepoPG) GetByNationalID(ctx context.Context, nationalID string) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE national_id = $1`, nationalID))
}

func (r *patientRepoPG) Exists(ctx context.Context, email, nationalID string, exclude uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM patient WHERE (email = $1 OR national_id = $2) AND id <> $3)`,
		email, nationalID, exclude,
	).Scan(&exists)
	return exists, err
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	p.UpdatedAt = time.Now().UTC()
	return affected(r.conn(ctx).Exec(ctx, `
		UPDATE patient SET national_id=$2, full_name=$3, email=$4, password_hash=$5,
			assigned_clinician_id=$6, enabled_vitals=$7, birth_date=$8, sex=$9, updated_at=$10
		WHERE id = $1`,
		p.ID, p.NationalID, p.FullName, p.Email, p.PasswordHash,
		p.AssignedClinicianID, enabledVitals(p), p.BirthDate.Time, p.Sex, p.UpdatedAt,
	))
}

func (r *patientRepoPG) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	return affected(r.conn(ctx).Exec(ctx,
		`UPDATE patient SET status=$2, updated_at=NOW() WHERE id = $1`, id, status))
}

func (r *patientRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	return affected(r.conn(ctx).Exec(ctx, `DELETE FROM patient WHERE id = $1`, id))
}

func (r *patientRepoPG) ListByClinician(ctx context.Context, clinicianID uuid.UUID, limit, offset int) ([]*Patient, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM patient WHERE assigned_clinician_id = $1`, clinicianID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+patientCols+` FROM patient WHERE assigned_clinician_id = $1
		ORDER BY full_name LIMIT $2 OFFSET $3`, clinicianID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var patients []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		patients = append(patients, p)
	}
	return patients, total, rows.Err()
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var birth time.Time
	err := row.Scan(
		&p.ID, &p.NationalID, &p.FullName, &p.Email, &p.PasswordHash, &p.AssignedClinicianID,
		&p.EnabledVitals, &birth, &p.Sex, &p.Status, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.BirthDate = Date{birth}
	return &p, nil
}
