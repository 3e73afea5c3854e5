package jsoncfg

import (
	"encoding/json"
	"fmt"
	"strings"

	"storybook/internal/domain"
)

const (
	// DefaultInputsVersion is the schema version persisted with story inputs.
	DefaultInputsVersion = "2025-01"
	// DefaultLanguage is applied when no language preference is provided.
	DefaultLanguage = "en"
)

// InputsDocument is the persisted JSON shape of domain.StoryInputs.
type InputsDocument struct {
	Version string `json:"version"`
	domain.StoryInputs
}

// Normalize trims free text and fills server defaults.
func (d *InputsDocument) Normalize() {
	if d == nil {
		return
	}
	if d.Version == "" {
		d.Version = DefaultInputsVersion
	}
	d.ChildName = strings.TrimSpace(d.ChildName)
	d.Gender = strings.ToLower(strings.TrimSpace(d.Gender))
	d.Genre = strings.TrimSpace(d.Genre)
	d.Description = strings.TrimSpace(d.Description)
	d.Language = strings.ToLower(strings.TrimSpace(d.Language))
	if d.Language == "" {
		d.Language = DefaultLanguage
	}
}

// EncodeInputs serializes inputs for storage.
func EncodeInputs(in domain.StoryInputs) ([]byte, error) {
	doc := InputsDocument{StoryInputs: in}
	doc.Normalize()
	return json.Marshal(doc)
}

// DecodeInputs parses stored inputs. Documents written before versioning are
// accepted as-is.
func DecodeInputs(raw []byte) (domain.StoryInputs, error) {
	if len(raw) == 0 {
		return domain.StoryInputs{}, nil
	}
	var doc InputsDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.StoryInputs{}, fmt.Errorf("decode inputs: %w", err)
	}
	doc.Normalize()
	return doc.StoryInputs, nil
}

// EncodePages serializes pages; an empty story encodes as an empty array.
func EncodePages(pages []domain.Page) ([]byte, error) {
	if pages == nil {
		pages = []domain.Page{}
	}
	return json.Marshal(pages)
}

// DecodePages parses stored pages; null and empty payloads yield nil.
func DecodePages(raw []byte) ([]domain.Page, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" || trimmed == "[]" {
		return nil, nil
	}
	var pages []domain.Page
	if err := json.Unmarshal(raw, &pages); err != nil {
		return nil, fmt.Errorf("decode pages: %w", err)
	}
	return pages, nil
}

func MustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("json marshal: %w", err))
	}
	return b
}
