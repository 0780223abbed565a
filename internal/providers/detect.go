package providers

import "strings"

// FromModelID derives the provider family from a model id prefix.
// Total: unrecognized prefixes fall back to google.
func FromModelID(modelID string) Family {
	switch {
	case strings.HasPrefix(modelID, "gemini"):
		return FamilyGoogle
	case strings.HasPrefix(modelID, "gpt"):
		return FamilyOpenAI
	case strings.HasPrefix(modelID, "claude"):
		return FamilyAnthropic
	default:
		return FamilyGoogle
	}
}

// IsSupportedModel reports whether the model id matches a known prefix.
func IsSupportedModel(modelID string) bool {
	return strings.HasPrefix(modelID, "gemini") ||
		strings.HasPrefix(modelID, "gpt") ||
		strings.HasPrefix(modelID, "claude")
}
