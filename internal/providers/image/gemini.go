package image

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"storybook/internal/domain"
	"storybook/internal/providers/genai"
)

// GeminiGenerator renders pages with a Gemini image model.
type GeminiGenerator struct {
	client      *genai.Client
	aspectRatio string
}

func NewGeminiGenerator(client *genai.Client, aspectRatio string) *GeminiGenerator {
	if aspectRatio == "" {
		aspectRatio = "4:3"
	}
	return &GeminiGenerator{client: client, aspectRatio: aspectRatio}
}

func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (*Asset, error) {
	imgReq := genai.ImageRequest{
		Prompt:      req.Prompt,
		AspectRatio: g.aspectRatio,
		RequestID:   fmt.Sprintf("%s/%d", req.JobID, req.Page),
	}
	if req.Reference != nil {
		imgReq.Reference = &genai.InlineImage{MimeType: req.Reference.MIME, Data: req.Reference.Data}
	}
	asset, err := g.client.GenerateImage(ctx, imgReq)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, fmt.Errorf("gemini: %w: %v", domain.ErrProviderFailure, err)
	}
	return &Asset{
		Format: asset.Format,
		Width:  asset.Width,
		Height: asset.Height,
		Data:   asset.Data,
	}, nil
}

var _ Generator = (*GeminiGenerator)(nil)
