package narrative

import (
	"context"
	"errors"

	"storybook/internal/domain"
	"storybook/internal/infra"
	"storybook/internal/providers/genai"
)

type GeminiOptions struct {
	Client *genai.Client
	Pages  int
	Logger *infra.Logger
}

// GeminiNarrator generates the story through genai.Client in JSON mode.
type GeminiNarrator struct {
	client *genai.Client
	pages  int
	logger *infra.Logger
}

func NewGeminiNarrator(opts GeminiOptions) (*GeminiNarrator, error) {
	if opts.Client == nil || !opts.Client.HasKey() {
		return nil, errors.New("gemini client with api key is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	return &GeminiNarrator{client: opts.Client, pages: pageCount(opts.Pages), logger: logger}, nil
}

func (g *GeminiNarrator) Narrate(ctx context.Context, in domain.StoryInputs) ([]Beat, error) {
	text, err := g.client.GenerateText(ctx, genai.TextRequest{
		System:      systemPrompt,
		Prompt:      buildStoryPrompt(in, g.pages),
		JSON:        true,
		Temperature: 0.8,
	})
	if err != nil {
		return nil, providerError(geminiProviderName, err)
	}
	beats, err := ParsePages(text, g.pages)
	if err != nil {
		return nil, err
	}
	g.logger.Debug().
		Str("provider", geminiProviderName).
		Str("model", g.client.Model()).
		Int("pages", len(beats)).
		Msg("narrative: story generated")
	return beats, nil
}

var _ Narrator = (*GeminiNarrator)(nil)
