package providers

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// memSettings is an in-memory SettingStore for tests.
type memSettings struct {
	values map[string]string
	err    error
}

func (m *memSettings) Get(ctx context.Context, key string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.values[key], nil
}

func (m *memSettings) Set(ctx context.Context, key, value string) error {
	if m.values == nil {
		m.values = make(map[string]string)
	}
	m.values[key] = value
	return nil
}

func TestResolveAPIKey_SettingsFirst(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "from-env")
	settings := &memSettings{values: map[string]string{"gemini_api_key": "from-settings"}}

	key, err := ResolveAPIKey(context.Background(), settings, FamilyGoogle)
	if err != nil {
		t.Fatal(err)
	}
	if key != "from-settings" {
		t.Errorf("key = %q, want settings value to win over env", key)
	}
}

func TestResolveAPIKey_EnvFallback(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	settings := &memSettings{values: map[string]string{}}

	key, err := ResolveAPIKey(context.Background(), settings, FamilyOpenAI)
	if err != nil {
		t.Fatal(err)
	}
	if key != "sk-env" {
		t.Errorf("key = %q, want the env fallback", key)
	}
}

func TestResolveAPIKey_Missing(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	settings := &memSettings{values: map[string]string{}}

	_, err := ResolveAPIKey(context.Background(), settings, FamilyAnthropic)
	if err == nil {
		t.Fatal("expected error for missing key")
	}
	if !strings.Contains(err.Error(), "anthropic_api_key") || !strings.Contains(err.Error(), "ANTHROPIC_API_KEY") {
		t.Errorf("error %q should name both configuration paths", err)
	}
}

func TestResolveAPIKey_SettingsError(t *testing.T) {
	settings := &memSettings{err: errors.New("db closed")}

	_, err := ResolveAPIKey(context.Background(), settings, FamilyGoogle)
	if err == nil || !strings.Contains(err.Error(), "db closed") {
		t.Errorf("err = %v, want the settings error wrapped", err)
	}
}

func TestResolveAPIKey_NilSettings(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "env-only")

	key, err := ResolveAPIKey(context.Background(), nil, FamilyGoogle)
	if err != nil {
		t.Fatal(err)
	}
	if key != "env-only" {
		t.Errorf("key = %q", key)
	}
}
