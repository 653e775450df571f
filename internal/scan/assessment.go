package scan

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Score is the single 0-100 score of an assessment, tagged with the domain
// it measures (skin clarity for facial, oral hygiene for dental).
type Score struct {
	Kind  ServiceType
	Value int
}

func (s Score) String() string {
	return fmt.Sprintf("%d/100", s.Value)
}

// Assessment is the structured output of one vision analysis.
type Assessment struct {
	Score             Score
	OverallAssessment string
	KeyProblemPoints  []string
	DetectedProblems  []Problem
}

// ScoreValue is the normalised score accessor.
func (a Assessment) ScoreValue() int { return a.Score.Value }

// Kind is the service type the assessment was produced for.
func (a Assessment) Kind() ServiceType { return a.Score.Kind }

// TopFindings returns at most n key findings in their original order.
func (a Assessment) TopFindings(n int) []string {
	if len(a.KeyProblemPoints) <= n {
		return a.KeyProblemPoints
	}
	return a.KeyProblemPoints[:n]
}

// wireAssessment is the JSON shape the vision model returns and the record
// stores persist. Only one of the per-domain score fields is expected.
type wireAssessment struct {
	ServiceType       ServiceType `json:"serviceType,omitempty"`
	SkinClarityScore  *float64    `json:"skinClarityScore,omitempty"`
	OralHygieneScore  *float64    `json:"oralHygieneScore,omitempty"`
	Score             *float64    `json:"score,omitempty"`
	OverallAssessment string      `json:"overallAssessment"`
	KeyProblemPoints  []string    `json:"keyProblemPoints"`
	DetectedProblems  []Problem   `json:"detectedProblems"`
}

// MarshalJSON writes the domain-specific score field alongside the generic one.
func (a Assessment) MarshalJSON() ([]byte, error) {
	v := float64(a.Score.Value)
	w := wireAssessment{
		ServiceType:       a.Score.Kind,
		Score:             &v,
		OverallAssessment: a.OverallAssessment,
		KeyProblemPoints:  nonNil(a.KeyProblemPoints),
		DetectedProblems:  a.DetectedProblems,
	}
	if w.DetectedProblems == nil {
		w.DetectedProblems = []Problem{}
	}
	switch a.Score.Kind {
	case Facial:
		w.SkinClarityScore = &v
	case Dental:
		w.OralHygieneScore = &v
	}
	return json.Marshal(w)
}

// UnmarshalJSON reads a persisted assessment; serviceType must be present.
func (a *Assessment) UnmarshalJSON(data []byte) error {
	var probe struct {
		ServiceType ServiceType `json:"serviceType"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	out, err := DecodeAssessment(probe.ServiceType, data)
	if err != nil {
		return err
	}
	*a = out
	return nil
}

// DecodeAssessment parses a model or stored payload for the given service
// type, normalising the per-domain score into Score. It fails rather than
// returning a partially populated assessment.
func DecodeAssessment(kind ServiceType, data []byte) (Assessment, error) {
	if !kind.Valid() {
		return Assessment{}, fmt.Errorf("decode assessment: invalid service type %q", kind)
	}
	var w wireAssessment
	if err := json.Unmarshal(data, &w); err != nil {
		return Assessment{}, fmt.Errorf("decode assessment: %w", err)
	}

	raw := w.SkinClarityScore
	if kind == Dental {
		raw = w.OralHygieneScore
	}
	if raw == nil {
		raw = w.Score
	}
	if raw == nil {
		return Assessment{}, fmt.Errorf("decode assessment: missing %s", kind.ScoreField())
	}
	if math.IsNaN(*raw) || *raw < 0 || *raw > 100 {
		return Assessment{}, fmt.Errorf("decode assessment: score %v out of range", *raw)
	}
	if strings.TrimSpace(w.OverallAssessment) == "" {
		return Assessment{}, fmt.Errorf("decode assessment: missing overallAssessment")
	}

	return Assessment{
		Score:             Score{Kind: kind, Value: int(math.Round(*raw))},
		OverallAssessment: strings.TrimSpace(w.OverallAssessment),
		KeyProblemPoints:  nonNil(w.KeyProblemPoints),
		DetectedProblems:  w.DetectedProblems,
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
