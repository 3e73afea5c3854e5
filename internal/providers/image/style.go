package image

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"storybook/internal/domain"
)

// StyleQualifier is prepended to every illustration prompt so that all pages
// of all books share one look.
const StyleQualifier = "Children's picture book illustration, soft watercolor and gouache textures, " +
	"warm pastel palette, gentle diffused lighting, rounded friendly shapes, " +
	"consistent character design across pages, no text, letters or watermarks."

// StylePrompt returns the provider prompt for one page.
func StylePrompt(scene string) string {
	scene = strings.TrimSpace(scene)
	if scene == "" {
		return StyleQualifier
	}
	return StyleQualifier + "\n\nScene: " + scene
}

// Illustrator applies the house style to a Generator and checks that what
// comes back is a real image.
type Illustrator struct {
	gen Generator
}

func NewIllustrator(gen Generator) *Illustrator {
	return &Illustrator{gen: gen}
}

func (i *Illustrator) Illustrate(ctx context.Context, req Request) (*Asset, error) {
	if i == nil || i.gen == nil {
		return nil, errors.New("image: no generator configured")
	}
	req.Prompt = StylePrompt(req.Prompt)
	asset, err := i.gen.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if asset == nil || len(asset.Data) == 0 {
		return nil, fmt.Errorf("%w: empty image", domain.ErrProviderFailure)
	}
	format, w, h, ok := inspect(asset.Data)
	if !ok {
		return nil, fmt.Errorf("%w: undecodable image", domain.ErrProviderFailure)
	}
	asset.Format, asset.Width, asset.Height = format, w, h
	return asset, nil
}
