package agent

import (
	"fmt"
	"strings"

	"scan-kiosk/internal/scan"
)

type profile struct {
	system string
	task   string
}

var profiles = map[scan.ServiceType]profile{
	scan.Facial: {
		system: "You are an expert facial and skin analysis assistant for an aesthetics clinic. " +
			"You look at patient photographs, identify visible skincare and aesthetic concerns and suggest clinic treatments. " +
			"Respond with a single JSON object only, without markdown fences.",
		task: assessmentTask("face and skin", "skinClarityScore", "skincare and aesthetic"),
	},
	scan.Dental: {
		system: "You are an expert dental analysis assistant for a dental clinic. " +
			"You look at patient photographs of teeth and gums, identify visible oral health concerns and suggest clinic treatments. " +
			"Respond with a single JSON object only, without markdown fences.",
		task: assessmentTask("teeth and gums", "oralHygieneScore", "dental and oral health"),
	},
}

func assessmentTask(subject, scoreField, domain string) string {
	return fmt.Sprintf(`Analyze these 3 images of a patient's %s and identify every visible %s issue.

Return exactly this JSON shape:
{
  "%s": <integer 0-100>,
  "overallAssessment": "<two sentence summary>",
  "keyProblemPoints": ["<finding>", "<finding>", "<finding>"],
  "detectedProblems": [
    {"problem": "<issue>", "description": "<one sentence>", "suggestedTreatment": "<treatment>"}
  ]
}`, subject, domain, scoreField)
}

// LiveContext steers the advisory per-frame comment.
type LiveContext struct {
	Name           string
	ServiceType    scan.ServiceType
	PreviouslyUsed []string
}

func livePrompt(lc LiveContext) string {
	var b strings.Builder
	b.WriteString("You are a friendly, encouraging kiosk assistant. Look at this single camera frame and give one very short, ")
	b.WriteString("positive comment about the person's expression in Hindi written in Latin script, at most 5 words.\n")
	b.WriteString("- Smiling: praise the smile.\n")
	b.WriteString("- Neutral or serious: gently ask them to smile or look at the camera.\n")
	if lc.ServiceType == scan.Dental {
		b.WriteString("- This is a dental scan: when the teeth are hidden, ask them to show their teeth.\n")
	}
	if lc.Name != "" {
		fmt.Fprintf(&b, "- You may address the person as %s.\n", firstName(lc.Name))
	}
	if len(lc.PreviouslyUsed) > 0 {
		fmt.Fprintf(&b, "- Do not repeat any of these phrases: %s.\n", strings.Join(quoteAll(lc.PreviouslyUsed), ", "))
	}
	b.WriteString(`- If no face is clearly visible return {"expressionText": ""}.` + "\n")
	b.WriteString(`Respond with JSON only: {"expressionText": "<phrase>"}`)
	return b.String()
}

func firstName(full string) string {
	if f := strings.Fields(full); len(f) > 0 {
		return f[0]
	}
	return full
}

func quoteAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = fmt.Sprintf("%q", s)
	}
	return out
}
