package bootstrap

import (
	"context"
	"fmt"
	"net/http"

	"storybook/internal/domain"
	"storybook/internal/infra"
	"storybook/internal/infra/credentials"
	"storybook/internal/providers/genai"
	"storybook/internal/providers/image"
	"storybook/internal/providers/narrative"
)

const (
	ProviderStatic    = "static"
	ProviderSynthetic = "synthetic"
)

// resolveKey prefers the configured key and falls back to the credentials
// store. A store error is logged and treated as "no key".
func resolveKey(ctx context.Context, creds *credentials.Store, provider, explicit string, logger *infra.Logger) string {
	key, err := creds.Resolve(ctx, provider, explicit)
	if err != nil {
		logger.Warn().Err(err).Str("provider", provider).Msg("bootstrap: failed to load api key from store")
		return explicit
	}
	return key
}

func geminiClient(ctx context.Context, cfg *infra.Config, creds *credentials.Store, httpClient *http.Client, logger *infra.Logger) (*genai.Client, error) {
	return genai.NewClient(genai.Options{
		APIKey:     resolveKey(ctx, creds, credentials.ProviderGemini, cfg.GeminiAPIKey, logger),
		BaseURL:    cfg.GeminiBaseURL,
		Model:      cfg.GeminiModel,
		ImageModel: cfg.GeminiImageModel,
		HTTPClient: httpClient,
		Logger:     logger,
	})
}

// NewNarrator returns the configured text provider. Without an API key it
// degrades to the static narrator so local runs still complete.
func NewNarrator(ctx context.Context, cfg *infra.Config, creds *credentials.Store, httpClient *http.Client, logger *infra.Logger) (narrative.Narrator, error) {
	switch cfg.TextProvider {
	case credentials.ProviderOpenAI:
		key := resolveKey(ctx, creds, credentials.ProviderOpenAI, cfg.OpenAIAPIKey, logger)
		if key == "" {
			break
		}
		return narrative.NewOpenAINarrator(narrative.OpenAIOptions{
			APIKey:       key,
			Model:        cfg.OpenAIModel,
			BaseURL:      cfg.OpenAIBaseURL,
			Organization: cfg.OpenAIOrg,
			HTTPClient:   httpClient,
			Pages:        domain.PageCount,
			Logger:       logger,
			OnWarning: func(reason, detail string) {
				logger.Warn().Str("reason", reason).Str("detail", detail).Msg("narrative: openai model adjusted")
			},
		})
	case credentials.ProviderGemini:
		client, err := geminiClient(ctx, cfg, creds, httpClient, logger)
		if err != nil {
			return nil, err
		}
		if !client.HasKey() {
			break
		}
		return narrative.NewGeminiNarrator(narrative.GeminiOptions{Client: client, Pages: domain.PageCount, Logger: logger})
	case ProviderStatic:
		return narrative.NewStaticNarrator(domain.PageCount), nil
	default:
		return nil, fmt.Errorf("unsupported TEXT_PROVIDER %q", cfg.TextProvider)
	}
	logger.Warn().Str("provider", cfg.TextProvider).Msg("bootstrap: text provider key missing, using static narrator")
	return narrative.NewStaticNarrator(domain.PageCount), nil
}

// NewIllustrator returns the configured image provider behind the house style
// qualifier. Without an API key it degrades to synthetic artwork.
func NewIllustrator(ctx context.Context, cfg *infra.Config, creds *credentials.Store, httpClient *http.Client, logger *infra.Logger) (*image.Illustrator, error) {
	var gen image.Generator
	switch cfg.ImageProvider {
	case credentials.ProviderGemini:
		client, err := geminiClient(ctx, cfg, creds, httpClient, logger)
		if err != nil {
			return nil, err
		}
		if client.HasKey() {
			gen = image.NewGeminiGenerator(client, "4:3")
		}
	case credentials.ProviderOpenAI:
		key := resolveKey(ctx, creds, credentials.ProviderOpenAI, cfg.OpenAIAPIKey, logger)
		if key != "" {
			openai, err := image.NewOpenAIGenerator(image.OpenAIOptions{
				APIKey:       key,
				Model:        cfg.OpenAIImageModel,
				BaseURL:      cfg.OpenAIBaseURL,
				Organization: cfg.OpenAIOrg,
				HTTPClient:   httpClient,
			})
			if err != nil {
				return nil, err
			}
			gen = openai
		}
	case ProviderSynthetic:
		gen = image.NewSyntheticGenerator()
	default:
		return nil, fmt.Errorf("unsupported IMAGE_PROVIDER %q", cfg.ImageProvider)
	}
	if gen == nil {
		logger.Warn().Str("provider", cfg.ImageProvider).Msg("bootstrap: image provider key missing, using synthetic artwork")
		gen = image.NewSyntheticGenerator()
	}
	return image.NewIllustrator(gen), nil
}
