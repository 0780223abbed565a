package providers

import (
	"context"
	"fmt"
	"os"

	"github.com/zapdeskhq/zapdesk/internal/store"
)

// keyLookup maps a provider family to its settings key and env fallback.
var keyLookup = map[Family]struct {
	settingKey string
	envVar     string
}{
	FamilyGoogle:    {settingKey: "gemini_api_key", envVar: "GEMINI_API_KEY"},
	FamilyOpenAI:    {settingKey: "openai_api_key", envVar: "OPENAI_API_KEY"},
	FamilyAnthropic: {settingKey: "anthropic_api_key", envVar: "ANTHROPIC_API_KEY"},
}

// ResolveAPIKey looks up the provider API key: settings table first, env
// fallback. A missing key is a configuration error and propagates.
func ResolveAPIKey(ctx context.Context, settings store.SettingStore, family Family) (string, error) {
	lookup, ok := keyLookup[family]
	if !ok {
		return "", fmt.Errorf("unknown provider family %q", family)
	}

	if settings != nil {
		value, err := settings.Get(ctx, lookup.settingKey)
		if err != nil {
			return "", fmt.Errorf("read %s setting: %w", lookup.settingKey, err)
		}
		if value != "" {
			return value, nil
		}
	}

	if value := os.Getenv(lookup.envVar); value != "" {
		return value, nil
	}

	return "", fmt.Errorf("no API key configured for provider %s (set %s in settings or %s in the environment)",
		family, lookup.settingKey, lookup.envVar)
}
