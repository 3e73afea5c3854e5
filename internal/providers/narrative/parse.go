package narrative

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"storybook/internal/domain"
)

type modelPage struct {
	Narration          *string `json:"narration"`
	IllustrationPrompt *string `json:"illustration_prompt"`
}

type modelEnvelope struct {
	Pages *[]json.RawMessage `json:"pages"`
}

// ParsePages decodes provider output into exactly n beats. It accepts a bare
// JSON array or a {"pages": [...]} object, optionally wrapped in a markdown
// code fence. Anything else, a wrong count, a missing or empty field, or an
// over-long narration is ErrMalformedNarrative; nothing is repaired.
func ParsePages(raw string, n int) ([]Beat, error) {
	text := trimCodeFence(raw)
	if text == "" {
		return nil, malformed("empty payload")
	}

	var items []json.RawMessage
	switch text[0] {
	case '[':
		if err := json.Unmarshal([]byte(text), &items); err != nil {
			return nil, malformed("invalid json array: %v", err)
		}
	case '{':
		var env modelEnvelope
		if err := json.Unmarshal([]byte(text), &env); err != nil {
			return nil, malformed("invalid json object: %v", err)
		}
		if env.Pages == nil {
			return nil, malformed(`object has no "pages" array`)
		}
		items = *env.Pages
	default:
		return nil, malformed("payload is not json")
	}

	if len(items) != n {
		return nil, malformed("got %d pages, want %d", len(items), n)
	}

	beats := make([]Beat, n)
	for i, item := range items {
		if !bytes.HasPrefix(bytes.TrimSpace(item), []byte("{")) {
			return nil, malformed("page %d is not an object", i+1)
		}
		var page modelPage
		if err := json.Unmarshal(item, &page); err != nil {
			return nil, malformed("page %d: %v", i+1, err)
		}
		if page.Narration == nil {
			return nil, malformed("page %d: missing narration", i+1)
		}
		if page.IllustrationPrompt == nil {
			return nil, malformed("page %d: missing illustration_prompt", i+1)
		}
		narration := strings.TrimSpace(*page.Narration)
		prompt := strings.TrimSpace(*page.IllustrationPrompt)
		if narration == "" {
			return nil, malformed("page %d: empty narration", i+1)
		}
		if prompt == "" {
			return nil, malformed("page %d: empty illustration_prompt", i+1)
		}
		if utf8.RuneCountInString(narration) > domain.MaxNarrationRunes {
			return nil, malformed("page %d: narration exceeds %d characters", i+1, domain.MaxNarrationRunes)
		}
		beats[i] = Beat{Narration: narration, IllustrationPrompt: prompt}
	}
	return beats, nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrMalformedNarrative, fmt.Sprintf(format, args...))
}

func trimCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```JSON")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}
