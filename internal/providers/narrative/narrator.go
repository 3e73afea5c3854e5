package narrative

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"storybook/internal/domain"
)

const (
	staticProviderName = "static"
	geminiProviderName = "gemini"
	openAIProviderName = "openai"
)

// Beat is one page of a story before illustration.
type Beat struct {
	Narration          string `json:"narration"`
	IllustrationPrompt string `json:"illustration_prompt"`
}

// Narrator turns story inputs into exactly the configured number of beats.
type Narrator interface {
	Narrate(ctx context.Context, in domain.StoryInputs) ([]Beat, error)
}

// NarratorFunc adapts a function into a Narrator.
type NarratorFunc func(ctx context.Context, in domain.StoryInputs) ([]Beat, error)

func (f NarratorFunc) Narrate(ctx context.Context, in domain.StoryInputs) ([]Beat, error) {
	return f(ctx, in)
}

const systemPrompt = "You write short, gentle picture books for young children. " +
	"You only ever answer with valid JSON and never add commentary."

func buildStoryPrompt(in domain.StoryInputs, pages int) string {
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "Write a %d-page %s story in %s for a %d-year-old %s named %q.", pages, strings.TrimSpace(in.Genre), languageName(in.Language), in.Age, genderNoun(in.Gender), strings.TrimSpace(in.ChildName))
	if desc := strings.TrimSpace(in.Description); desc != "" {
		fmt.Fprintf(sb, " The story is about: %q.", desc)
	}
	fmt.Fprintf(sb, " Each page has at most %d characters of narration, simple words and a warm tone.", domain.MaxNarrationRunes)
	sb.WriteString(" For every page also write an illustration_prompt in English describing one scene with the child as the main character, without any text in the image.")
	fmt.Fprintf(sb, ` Respond strictly as JSON: {"pages":[{"narration":string,"illustration_prompt":string}]} with exactly %d entries in reading order.`, pages)
	return sb.String()
}

func genderNoun(g string) string {
	switch strings.ToLower(strings.TrimSpace(g)) {
	case "girl":
		return "girl"
	case "boy":
		return "boy"
	default:
		return "child"
	}
}

// languageName renders a BCP-47 tag as its English display name, e.g.
// "id" -> "Indonesian".
func languageName(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return "English"
	}
	parsed, err := language.Parse(tag)
	if err != nil {
		return "English"
	}
	base, _ := parsed.Base()
	if name := display.English.Languages().Name(language.Make(base.String())); name != "" {
		return name
	}
	return "English"
}

func pageCount(n int) int {
	if n <= 0 {
		return domain.PageCount
	}
	return n
}

// providerError marks a failed upstream call and strips request URLs from
// transport errors.
func providerError(provider string, err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	return fmt.Errorf("%s: %w: %v", provider, domain.ErrProviderFailure, err)
}
