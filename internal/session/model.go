// Package session drives one kiosk interaction through intake, capture,
// analysis and reporting.
package session

import (
	"time"

	kerrors "scan-kiosk/internal/errors"
	"scan-kiosk/internal/scan"
)

type State string

const (
	StateIntake    State = "intake"
	StateCapturing State = "capturing"
	StateAnalyzing State = "analyzing"
	StateReporting State = "reporting"
	StateError     State = "error"
)

// FramesRequired is the number of stills taken per session.
const FramesRequired = 3

// ErrorView is the operator-facing part of a failure.
type ErrorView struct {
	Code      kerrors.ErrorCode `json:"code"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable"`
	Stage     State             `json:"stage,omitempty"`
}

// View is a read-only snapshot of a session for the kiosk UI.
type View struct {
	ID         string         `json:"id"`
	State      State          `json:"state"`
	PatientID  string         `json:"patientId,omitempty"`
	Intake     *scan.Intake   `json:"intake,omitempty"`
	FrameCount int            `json:"frameCount"`
	CanSubmit  bool           `json:"canSubmit"`
	Score      string         `json:"score,omitempty"`
	Assessment string         `json:"overallAssessment,omitempty"`
	Findings   []string       `json:"findings,omitempty"`
	Treatments []scan.Problem `json:"treatments,omitempty"`
	ImageURLs  []string       `json:"imageUrls,omitempty"`
	Error      *ErrorView     `json:"error,omitempty"`
	Delivered  string         `json:"deliveredTo,omitempty"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}
