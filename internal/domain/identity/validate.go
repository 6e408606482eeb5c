package identity

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// ValidationError is returned for input the caller must correct.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

// Invalidf builds a ValidationError.
func Invalidf(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

var (
	ErrDuplicate          = errors.New("a user with that email or national id already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactive           = errors.New("account is inactive")
	ErrForbidden          = errors.New("not allowed to access this record")
)

var (
	tenDigitsRe = regexp.MustCompile(`^\d{10}$`)
	emailRe     = regexp.MustCompile(`^\S+@\S+\.\S+$`)
)

// ValidNationalID checks an Ecuadorian cédula: ten digits, a province code
// between 01 and 24, a third digit below 6 and the modulo-10 verifier.
func ValidNationalID(id string) bool {
	if !tenDigitsRe.MatchString(id) {
		return false
	}
	province := int(id[0]-'0')*10 + int(id[1]-'0')
	if province < 1 || province > 24 || id[2]-'0' >= 6 {
		return false
	}
	total := 0
	for i := 0; i < 9; i++ {
		d := int(id[i] - '0')
		if i%2 == 0 {
			d *= 2
			if d >= 10 {
				d -= 9
			}
		}
		total += d
	}
	return (10-total%10)%10 == int(id[9]-'0')
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func validateClinician(c *Clinician, requirePassword bool) error {
	c.NationalID = strings.TrimSpace(c.NationalID)
	c.FullName = strings.TrimSpace(c.FullName)
	c.Email = normalizeEmail(c.Email)

	if c.NationalID == "" || c.FullName == "" || c.Email == "" || (requirePassword && c.Password == "") {
		return Invalidf("national_id, full_name, email and password are required")
	}
	if !tenDigitsRe.MatchString(c.NationalID) {
		return Invalidf("national_id must have 10 digits")
	}
	if hasDigit(c.FullName) {
		return Invalidf("full_name must not contain digits")
	}
	if !emailRe.MatchString(c.Email) {
		return Invalidf("email is not valid")
	}
	return nil
}
