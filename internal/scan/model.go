package scan

import (
	"fmt"
	"strings"
	"time"
)

// ServiceType selects the assessment domain, its prompt profile and report template.
type ServiceType string

const (
	Facial ServiceType = "facial"
	Dental ServiceType = "dental"
)

// Brand identifiers used by the kiosk front-end.
const (
	brandFacial = "medzeal"
	brandDental = "medora"
)

// ParseServiceType accepts the canonical names and the brand aliases.
func ParseServiceType(s string) (ServiceType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(Facial), brandFacial:
		return Facial, nil
	case string(Dental), brandDental:
		return Dental, nil
	case "":
		return "", fmt.Errorf("service type is required")
	default:
		return "", fmt.Errorf("unknown service type %q", s)
	}
}

func (s ServiceType) Valid() bool {
	return s == Facial || s == Dental
}

// Label is the human name of the analysis.
func (s ServiceType) Label() string {
	switch s {
	case Facial:
		return "Facial Analysis"
	case Dental:
		return "Dental Analysis"
	default:
		return string(s)
	}
}

// Short is the one-word type shown in the patient block.
func (s ServiceType) Short() string {
	switch s {
	case Facial:
		return "Facial"
	case Dental:
		return "Dental"
	default:
		return string(s)
	}
}

// ScoreField is the wire name the vision model uses for this domain's score.
func (s ServiceType) ScoreField() string {
	if s == Dental {
		return "oralHygieneScore"
	}
	return "skinClarityScore"
}

// ScoreName describes what the score measures.
func (s ServiceType) ScoreName() string {
	if s == Dental {
		return "Oral hygiene"
	}
	return "Skin clarity"
}

// Intake is a validated, frozen patient intake.
type Intake struct {
	FullName    string      `json:"fullName"`
	PhoneNumber string      `json:"phoneNumber"`
	ServiceType ServiceType `json:"serviceType"`
}

// Frame is one captured still image.
type Frame struct {
	Data       []byte    `json:"-"`
	MIMEType   string    `json:"mimeType"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	CapturedAt time.Time `json:"capturedAt"`
}

// Ready reports whether the frame carries a real image. A zero native
// resolution means the camera has not produced anything yet.
func (f Frame) Ready() bool {
	return f.Width > 0 && f.Height > 0 && len(f.Data) > 0
}

// Problem is one row of the treatment plan.
type Problem struct {
	Problem            string `json:"problem"`
	Description        string `json:"description"`
	SuggestedTreatment string `json:"suggestedTreatment"`
}
