package providers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/zapdeskhq/zapdesk/internal/config"
	"github.com/zapdeskhq/zapdesk/internal/store"
)

// RoutingMode is the active connection strategy for a resolved model.
type RoutingMode string

const (
	RoutingGateway RoutingMode = "gateway" // centrally routed AI gateway
	RoutingProxy   RoutingMode = "proxy"   // observability proxy
	RoutingDirect  RoutingMode = "direct"  // direct provider connection
)

// ResolvedModel is a callable model handle plus resolution metadata.
type ResolvedModel struct {
	Client  Client
	Family  Family
	APIKey  string
	Routing RoutingMode
}

// proxyBases maps each family to its observability-proxy endpoints.
// Google routes through the generic gateway with a target header; OpenAI and
// Anthropic have dedicated proxy hosts.
var proxyBases = map[Family]struct {
	baseURL   string
	targetURL string
}{
	FamilyGoogle: {
		baseURL:   "https://gateway.helicone.ai/v1beta",
		targetURL: "https://generativelanguage.googleapis.com/v1beta",
	},
	FamilyOpenAI:    {baseURL: "https://oai.helicone.ai/v1"},
	FamilyAnthropic: {baseURL: "https://anthropic.helicone.ai/v1"},
}

// byokHeaders maps each family to the gateway's bring-your-own-key header.
var byokHeaders = map[Family]string{
	FamilyGoogle:    "x-google-api-key",
	FamilyOpenAI:    "x-openai-api-key",
	FamilyAnthropic: "x-anthropic-api-key",
}

// Factory resolves model ids to callable clients. Resolution is idempotent
// and safe for concurrent use; nothing is cached.
type Factory struct {
	settings     store.SettingStore
	gateway      config.AIGatewayConfig
	gatewayToken string
	httpClient   *http.Client
}

// NewFactory creates a model factory.
// gatewayToken is the short-lived bearer credential for gateway mode; an
// empty token with gateway mode enabled falls back to proxy/direct routing.
func NewFactory(settings store.SettingStore, gateway config.AIGatewayConfig, gatewayToken string) *Factory {
	return &Factory{
		settings:     settings,
		gateway:      gateway,
		gatewayToken: gatewayToken,
		httpClient:   &http.Client{Timeout: 120 * time.Second},
	}
}

// Resolve returns a callable model handle for the given model id.
//
// Routing priority, first match wins:
//  1. AI gateway mode — requires the bearer token; enabled without a token
//     logs a warning and falls through.
//  2. Observability proxy — when proxy settings are present.
//  3. Direct provider connection.
func (f *Factory) Resolve(ctx context.Context, modelID, apiKeyOverride string) (*ResolvedModel, error) {
	family := FromModelID(modelID)

	apiKey := apiKeyOverride
	if apiKey == "" {
		var err error
		apiKey, err = ResolveAPIKey(ctx, f.settings, family)
		if err != nil {
			return nil, err
		}
	}

	if f.gateway.Enabled {
		if f.gatewayToken != "" {
			return f.resolveGateway(family, modelID, apiKey)
		}
		slog.Warn("AI gateway enabled but no bearer token available, using fallback routing",
			"model", modelID)
	}

	proxy, err := f.proxyConfig(ctx)
	if err != nil {
		return nil, err
	}
	if proxy != "" {
		return f.resolveProxy(family, apiKey, proxy)
	}

	return f.resolveDirect(family, apiKey)
}

// proxyConfig returns the proxy API key when the observability proxy is
// enabled in settings, "" otherwise.
func (f *Factory) proxyConfig(ctx context.Context) (string, error) {
	if f.settings == nil {
		return "", nil
	}
	enabled, err := f.settings.Get(ctx, "helicone_enabled")
	if err != nil {
		return "", fmt.Errorf("read proxy settings: %w", err)
	}
	if enabled != "true" {
		return "", nil
	}
	apiKey, err := f.settings.Get(ctx, "helicone_api_key")
	if err != nil {
		return "", fmt.Errorf("read proxy settings: %w", err)
	}
	return apiKey, nil
}

// resolveGateway builds an OpenAI-compatible client against the gateway.
// The gateway expects "family/model" ids and authenticates with the bearer
// token; provider keys ride along via per-family BYOK headers.
func (f *Factory) resolveGateway(family Family, modelID, apiKey string) (*ResolvedModel, error) {
	headers := map[string]string{
		"Authorization": "Bearer " + f.gatewayToken,
	}
	if f.gateway.BYOK && apiKey != "" {
		headers[byokHeaders[family]] = apiKey
	}

	client := NewOpenAIClient("",
		WithOpenAIBaseURL(f.gateway.BaseURL),
		WithOpenAIHeaders(headers),
		WithOpenAIHTTPClient(f.httpClient),
		WithOpenAIModelPrefix(string(family)+"/"),
	)
	slog.Debug("model resolved via AI gateway", "model", modelID, "family", family)

	return &ResolvedModel{Client: client, Family: family, APIKey: apiKey, Routing: RoutingGateway}, nil
}

// resolveProxy routes requests through the observability proxy with the
// original provider credential attached.
func (f *Factory) resolveProxy(family Family, apiKey, proxyKey string) (*ResolvedModel, error) {
	base := proxyBases[family]
	headers := map[string]string{
		"Helicone-Auth": "Bearer " + proxyKey,
	}
	if base.targetURL != "" {
		headers["Helicone-Target-URL"] = base.targetURL
	}

	client, err := f.newClient(family, apiKey, base.baseURL, headers)
	if err != nil {
		return nil, err
	}
	slog.Debug("model resolved via observability proxy", "family", family)

	return &ResolvedModel{Client: client, Family: family, APIKey: apiKey, Routing: RoutingProxy}, nil
}

func (f *Factory) resolveDirect(family Family, apiKey string) (*ResolvedModel, error) {
	client, err := f.newClient(family, apiKey, "", nil)
	if err != nil {
		return nil, err
	}
	return &ResolvedModel{Client: client, Family: family, APIKey: apiKey, Routing: RoutingDirect}, nil
}

func (f *Factory) newClient(family Family, apiKey, baseURL string, headers map[string]string) (Client, error) {
	switch family {
	case FamilyGoogle:
		return NewGeminiClient(apiKey,
			WithGeminiBaseURL(baseURL),
			WithGeminiHeaders(headers),
			WithGeminiHTTPClient(f.httpClient),
		), nil
	case FamilyOpenAI:
		return NewOpenAIClient(apiKey,
			WithOpenAIBaseURL(baseURL),
			WithOpenAIHeaders(headers),
			WithOpenAIHTTPClient(f.httpClient),
		), nil
	case FamilyAnthropic:
		return NewAnthropicClient(apiKey,
			WithAnthropicBaseURL(baseURL),
			WithAnthropicHeaders(headers),
			WithAnthropicHTTPClient(f.httpClient),
		), nil
	default:
		return nil, fmt.Errorf("unsupported provider family: %s", family)
	}
}
