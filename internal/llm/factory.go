package llm

import (
	"context"
	"fmt"
	"strings"

	"onyx-chat/internal/config"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderYandex = "yandex"
)

// Factory creates LLM clients from injected credentials.
type Factory struct {
	GeminiAPIKey       string
	OpenaiAPIKey       string
	OpenaiBaseURL      string
	OpenRouterReferrer string
	OpenRouterTitle    string
	YandexOAuthToken   string
	YandexFolderID     string
	Temperature        float32
}

func NewFactory(cfg *config.Config) *Factory {
	return &Factory{
		GeminiAPIKey:       cfg.GeminiAPIKey,
		OpenaiAPIKey:       cfg.OpenAIAPIKey,
		OpenaiBaseURL:      cfg.OpenAIBaseURL,
		OpenRouterReferrer: cfg.OpenRouterReferrer,
		OpenRouterTitle:    cfg.OpenRouterTitle,
		YandexOAuthToken:   cfg.YandexOAuthToken,
		YandexFolderID:     cfg.YandexFolderID,
		Temperature:        cfg.Temperature,
	}
}

func (f *Factory) CreateClient(ctx context.Context, provider, model string) (StreamClient, error) {
	switch strings.ToLower(provider) {
	case ProviderGemini:
		return NewGemini(ctx, f.GeminiAPIKey, model, f.Temperature)
	case ProviderOpenAI:
		return NewOpenAI(f.OpenaiAPIKey, f.OpenaiBaseURL, model, f.OpenRouterReferrer, f.OpenRouterTitle, f.Temperature), nil
	case ProviderYandex:
		return NewYandex(f.YandexOAuthToken, f.YandexFolderID)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", provider)
	}
}

// ModelFor picks the configured chat model of a provider.
func ModelFor(cfg *config.Config, provider string) string {
	switch strings.ToLower(provider) {
	case ProviderGemini:
		return cfg.GeminiModel
	case ProviderOpenAI:
		return cfg.OpenAIModel
	default:
		return ""
	}
}
