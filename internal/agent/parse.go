package agent

import (
	"encoding/json"
	"strings"
)

// Fallback confidence constants for the plain-text wrapping path.
// A JSON-looking fragment that fails strict parsing is weak evidence the
// model tried to follow the format (0.7); no fragment at all means the model
// answered free-form (0.5).
const (
	confidenceInvalidJSON = 0.7
	confidenceNoJSON      = 0.5
)

// extractJSONFragment returns the widest {...} span in the text, matching
// from the first opening brace to the last closing brace.
func extractJSONFragment(text string) (string, bool) {
	start := strings.Index(text, "{")
	if start < 0 {
		return "", false
	}
	end := strings.LastIndex(text, "}")
	if end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// ParseDecision converts raw model output into a Decision.
//
// Stage 1: structural extraction — find an embedded JSON object and validate
// it against the decision shape. Stage 2: fallback — wrap the raw text as the
// reply with neutral sentiment and a reduced confidence; shouldHandoff is
// false on both fallback branches.
func ParseDecision(text string) *Decision {
	fragment, found := extractJSONFragment(text)
	if !found {
		return fallbackDecision(text, confidenceNoJSON)
	}

	var d Decision
	if err := json.Unmarshal([]byte(fragment), &d); err != nil {
		return fallbackDecision(text, confidenceInvalidJSON)
	}
	if err := d.validate(); err != nil {
		return fallbackDecision(text, confidenceInvalidJSON)
	}
	return &d
}

func fallbackDecision(text string, confidence float64) *Decision {
	return &Decision{
		Message:       text,
		Sentiment:     SentimentNeutral,
		Confidence:    confidence,
		ShouldHandoff: false,
	}
}
