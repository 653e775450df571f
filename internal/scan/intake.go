package scan

import (
	"strings"
	"unicode"

	"github.com/hashicorp/go-multierror"

	kerrors "scan-kiosk/internal/errors"
)

// PhoneDigits is the required length of a local mobile number.
const PhoneDigits = 10

// IntakeForm is the raw operator input.
type IntakeForm struct {
	FullName    string `json:"fullName"`
	PhoneNumber string `json:"phoneNumber"`
	ServiceType string `json:"serviceType"`
}

type fieldError struct {
	field string
	msg   string
}

func (e *fieldError) Error() string { return e.field + ": " + e.msg }

// DigitsOnly strips every non-digit character.
func DigitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsDigit(r) && r < unicode.MaxASCII {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Validate normalises the form and returns the frozen intake, or a
// VALIDATION error naming every failing field.
func (f IntakeForm) Validate() (Intake, error) {
	var result *multierror.Error

	name := strings.TrimSpace(f.FullName)
	if name == "" {
		result = multierror.Append(result, &fieldError{"fullName", "full name is required"})
	}

	phone := DigitsOnly(f.PhoneNumber)
	if len(phone) != PhoneDigits {
		result = multierror.Append(result, &fieldError{"phoneNumber", "mobile number must be exactly 10 digits"})
	}

	st, err := ParseServiceType(f.ServiceType)
	if err != nil {
		result = multierror.Append(result, &fieldError{"serviceType", "please select a service"})
	}

	if err := result.ErrorOrNil(); err != nil {
		fields := make(map[string]string, len(result.Errors))
		for _, e := range result.Errors {
			if fe, ok := e.(*fieldError); ok {
				fields[fe.field] = fe.msg
			}
		}
		return Intake{}, kerrors.NewValidation("please complete the intake form", fields)
	}

	return Intake{FullName: name, PhoneNumber: phone, ServiceType: st}, nil
}
