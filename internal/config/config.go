package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Config is the root configuration for the zapdesk server.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	WhatsApp  WhatsAppConfig  `json:"whatsapp"`
	AI        AIConfig        `json:"ai"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// ServerConfig configures the HTTP API listener.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	AuthToken    string `json:"-"` // from env ZAPDESK_API_TOKEN only
	RateLimitRPM int    `json:"rate_limit_rpm"`
}

// DatabaseConfig selects the storage backend.
// PostgresDSN is NEVER read from config.json (secret) — only from env ZAPDESK_POSTGRES_DSN.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
	SQLitePath  string `json:"sqlite_path,omitempty"` // standalone mode (default: zapdesk.db)
	Mode        string `json:"mode,omitempty"`        // "standalone" (default) or "managed"
}

// IsManagedMode returns true when the server runs against Postgres.
func (c *Config) IsManagedMode() bool {
	return c.Database.Mode == "managed" && c.Database.PostgresDSN != ""
}

// WhatsAppConfig configures the Meta Graph API send path.
// AccessToken comes from env ZAPDESK_WA_ACCESS_TOKEN only.
type WhatsAppConfig struct {
	AccessToken   string `json:"-"`
	PhoneNumberID string `json:"phone_number_id"`
	APIBase       string `json:"api_base,omitempty"` // override for tests/proxies
	VerifyToken   string `json:"-"`                  // webhook verification, env ZAPDESK_WA_VERIFY_TOKEN
}

// AIConfig configures model routing and agent defaults.
type AIConfig struct {
	Gateway         AIGatewayConfig `json:"gateway,omitempty"`
	GatewayToken    string          `json:"-"` // short-lived bearer, env ZAPDESK_AI_GATEWAY_TOKEN only
	DefaultModel    string          `json:"default_model"`
	DebounceSeconds int             `json:"debounce_seconds"`
}

// AIGatewayConfig configures the centrally routed AI gateway mode.
type AIGatewayConfig struct {
	Enabled bool   `json:"enabled"`
	BaseURL string `json:"base_url,omitempty"`
	BYOK    bool   `json:"byok,omitempty"` // forward provider keys through the gateway
}

// TelemetryConfig configures the OTLP trace exporter.
type TelemetryConfig struct {
	OTLPEndpoint string `json:"otlp_endpoint,omitempty"` // host:port, empty = tracing off
	Insecure     bool   `json:"insecure,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8490,
			RateLimitRPM: 30,
		},
		Database: DatabaseConfig{
			Mode:       "standalone",
			SQLitePath: "zapdesk.db",
		},
		AI: AIConfig{
			Gateway: AIGatewayConfig{
				BaseURL: "https://ai-gateway.vercel.sh/v1",
			},
			DefaultModel:    "gemini-2.0-flash",
			DebounceSeconds: 5,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error; defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values. Secrets are env-only.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	envStr("ZAPDESK_HOST", &c.Server.Host)
	envInt("ZAPDESK_PORT", &c.Server.Port)
	envStr("ZAPDESK_API_TOKEN", &c.Server.AuthToken)

	envStr("ZAPDESK_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("ZAPDESK_SQLITE_PATH", &c.Database.SQLitePath)
	envStr("ZAPDESK_DB_MODE", &c.Database.Mode)

	envStr("ZAPDESK_WA_ACCESS_TOKEN", &c.WhatsApp.AccessToken)
	envStr("ZAPDESK_WA_PHONE_NUMBER_ID", &c.WhatsApp.PhoneNumberID)
	envStr("ZAPDESK_WA_VERIFY_TOKEN", &c.WhatsApp.VerifyToken)

	envStr("ZAPDESK_AI_GATEWAY_TOKEN", &c.AI.GatewayToken)
	envStr("ZAPDESK_DEFAULT_MODEL", &c.AI.DefaultModel)
	envInt("ZAPDESK_DEBOUNCE_SECONDS", &c.AI.DebounceSeconds)

	envStr("ZAPDESK_OTLP_ENDPOINT", &c.Telemetry.OTLPEndpoint)
}
