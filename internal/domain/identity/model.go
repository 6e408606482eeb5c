package identity

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Permissions restrict what a physician may do with their patients.
type Permissions struct {
	CanEditPatients   bool `db:"can_edit_patients" json:"can_edit_patients"`
	CanDeletePatients bool `db:"can_delete_patients" json:"can_delete_patients"`
}

// Clinician maps to the clinician table. Role is "physician" or "admin".
type Clinician struct {
	ID           uuid.UUID   `db:"id" json:"id"`
	NationalID   string      `db:"national_id" json:"national_id"`
	FullName     string      `db:"full_name" json:"full_name"`
	Email        string      `db:"email" json:"email"`
	Password     string      `db:"-" json:"password,omitempty"`
	PasswordHash string      `db:"password_hash" json:"-"`
	Role         string      `db:"role" json:"role"`
	Status       string      `db:"status" json:"status"`
	Permissions  Permissions `json:"permissions"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at" json:"updated_at"`
}

func (c *Clinician) Active() bool { return c.Status == StatusActive }

// Patient maps to the patient table.
type Patient struct {
	ID                  uuid.UUID  `db:"id" json:"id"`
	NationalID          string     `db:"national_id" json:"national_id"`
	FullName            string     `db:"full_name" json:"full_name"`
	Email               string     `db:"email" json:"email"`
	Password            string     `db:"-" json:"password,omitempty"`
	PasswordHash        string     `db:"password_hash" json:"-"`
	AssignedClinicianID *uuid.UUID `db:"assigned_clinician_id" json:"assigned_clinician_id,omitempty"`
	EnabledVitals       []string   `db:"enabled_vitals" json:"enabled_vitals"`
	BirthDate           Date       `db:"birth_date" json:"birth_date"`
	Sex                 string     `db:"sex" json:"sex"`
	Status              string     `db:"status" json:"status"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

func (p *Patient) Active() bool { return p.Status == StatusActive }

// VitalEnabled reports whether the patient may self-record kind.
func (p *Patient) VitalEnabled(kind string) bool {
	for _, k := range p.EnabledVitals {
		if k == kind {
			return true
		}
	}
	return false
}

// AssignedTo reports whether clinicianID is the patient's physician.
func (p *Patient) AssignedTo(clinicianID uuid.UUID) bool {
	return p.AssignedClinicianID != nil && *p.AssignedClinicianID == clinicianID
}

const dateLayout = "2006-01-02"

// Date is a calendar day serialized as YYYY-MM-DD.
type Date struct {
	time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format(dateLayout))
}

// UnmarshalJSON accepts a bare date or a full RFC 3339 timestamp.
func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("birth_date: %w", err)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*d = Date{}
		return nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		*d = Date{t.UTC().Truncate(24 * time.Hour)}
		return nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return fmt.Errorf("birth_date must be YYYY-MM-DD")
	}
	*d = Date{t}
	return nil
}

// Session is returned by a successful login.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Role      string    `json:"role"`
	User      any       `json:"user"`
}
