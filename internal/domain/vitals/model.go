package vitals

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// VitalSign maps to the vital_sign table. Value is free text as typed by the
// clinician or patient ("120/80", "36,8", "95%").
type VitalSign struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	PatientID   uuid.UUID  `db:"patient_id" json:"patient_id"`
	ClinicianID *uuid.UUID `db:"clinician_id" json:"clinician_id,omitempty"`
	Kind        string     `db:"kind" json:"kind"`
	Value       string     `db:"value" json:"value"`
	Notes       *string    `db:"notes" json:"notes,omitempty"`
	RecordedAt  time.Time  `db:"recorded_at" json:"recorded_at"`
}

// SignValue accepts a JSON string or number; mobile clients send both.
type SignValue string

func (v *SignValue) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*v = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = SignValue(s)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("sign value must be a string or a number")
		}
		*v = SignValue(n.String())
	}
	return nil
}

// Batch is a set of readings taken together, keyed by kind.
type Batch struct {
	PatientID uuid.UUID            `json:"patient_id"`
	Signs     map[string]SignValue `json:"signs"`
	Notes     string               `json:"notes,omitempty"`
}

// Summary is the compact text the recommendation gateway reads.
type Summary struct {
	PatientID uuid.UUID `json:"patient_id"`
	Days      int       `json:"days"`
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
	Readings  int       `json:"readings"`
	Text      string    `json:"summary"`
}
