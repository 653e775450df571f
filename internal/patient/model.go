package patient

import (
	"context"
	"time"

	"scan-kiosk/internal/scan"
)

// serviceName is how record store failures are reported to the operator.
const serviceName = "patient record store"

// Record is a stored intake.
type Record struct {
	ID          string           `json:"id"`
	FullName    string           `json:"fullName"`
	PhoneNumber string           `json:"phoneNumber"`
	ServiceType scan.ServiceType `json:"serviceType"`
	CreatedAt   time.Time        `json:"timestamp"`
}

// Report is the persisted outcome of one analysis.
type Report struct {
	PatientID   string           `json:"patientId"`
	ServiceType scan.ServiceType `json:"serviceType"`
	Assessment  scan.Assessment  `json:"assessment"`
	ImageURLs   []string         `json:"imageUrls"`
	CreatedAt   time.Time        `json:"timestamp"`
}

// Store persists intakes and analysis reports keyed by patient id.
type Store interface {
	Create(ctx context.Context, in scan.Intake, at time.Time) (string, error)
	WriteReport(ctx context.Context, patientID string, r Report) error
	// ReadReport returns nil, nil when no report exists.
	ReadReport(ctx context.Context, patientID string) (*Report, error)
}
