package llm

import (
	"fmt"
	"strings"

	"webhook-chatter/internal/config"
)

const (
	ProviderOpenAI = "openai"
	ProviderYandex = "yandex"
)

// Factory creates LLM clients with consistent logic
type Factory struct {
	OpenaiAPIKey       string
	OpenaiBaseURL      string
	OpenRouterReferrer string
	OpenRouterTitle    string
	YandexOAuthToken   string
	YandexFolderID     string
}

func NewFactory(cfg *config.Config) *Factory {
	return &Factory{
		OpenaiAPIKey:       cfg.OpenAIAPIKey,
		OpenaiBaseURL:      cfg.OpenAIBaseURL,
		OpenRouterReferrer: cfg.OpenRouterReferrer,
		OpenRouterTitle:    cfg.OpenRouterTitle,
		YandexOAuthToken:   cfg.YandexOAuthToken,
		YandexFolderID:     cfg.YandexFolderID,
	}
}

func (f *Factory) CreateClient(provider, model string) (Client, error) {
	switch strings.ToLower(provider) {
	case ProviderOpenAI:
		return NewOpenAI(f.OpenaiAPIKey, f.OpenaiBaseURL, model, f.OpenRouterReferrer, f.OpenRouterTitle), nil
	case ProviderYandex:
		return NewYandex(f.YandexOAuthToken, f.YandexFolderID)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", provider)
	}
}

// Clients are the completion clients used by the dispatcher strategies.
type Clients struct {
	Text   Client
	Vision Client
}

// CreateClients builds the text and vision clients for the configured provider.
// Yandex has no vision model, so the same text-only client serves both and image
// requests fail with ErrImagesUnsupported.
func (f *Factory) CreateClients(provider, textModel, visionModel string) (Clients, error) {
	text, err := f.CreateClient(provider, textModel)
	if err != nil {
		return Clients{}, err
	}
	if strings.ToLower(provider) != ProviderOpenAI {
		return Clients{Text: text, Vision: text}, nil
	}
	vision, err := f.CreateClient(provider, visionModel)
	if err != nil {
		return Clients{}, err
	}
	return Clients{Text: text, Vision: vision}, nil
}
