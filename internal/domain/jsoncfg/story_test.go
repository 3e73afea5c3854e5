package jsoncfg

import (
	"testing"

	"storybook/internal/domain"
)

func TestInputsDocumentNormalizeDefaults(t *testing.T) {
	d := &InputsDocument{StoryInputs: domain.StoryInputs{
		ChildName: "  Lily ",
		Gender:    " Girl",
		Genre:     "Bedtime ",
	}}
	d.Normalize()

	if d.Version != DefaultInputsVersion {
		t.Fatalf("Version = %q, want %q", d.Version, DefaultInputsVersion)
	}
	if d.Language != DefaultLanguage {
		t.Fatalf("Language = %q, want %q", d.Language, DefaultLanguage)
	}
	if d.ChildName != "Lily" || d.Gender != "girl" || d.Genre != "Bedtime" {
		t.Fatalf("unexpected normalized fields: %+v", d.StoryInputs)
	}
}

func TestEncodeDecodeInputsKeepsLanguage(t *testing.T) {
	raw, err := EncodeInputs(domain.StoryInputs{ChildName: "Ana", Age: 6, Language: "ES"})
	if err != nil {
		t.Fatalf("EncodeInputs returned error: %v", err)
	}
	in, err := DecodeInputs(raw)
	if err != nil {
		t.Fatalf("DecodeInputs returned error: %v", err)
	}
	if in.Language != "es" || in.Age != 6 || in.ChildName != "Ana" {
		t.Fatalf("unexpected inputs: %+v", in)
	}
}

func TestDecodePagesEmptyForms(t *testing.T) {
	for _, raw := range []string{"", "null", "[]", "  [] "} {
		pages, err := DecodePages([]byte(raw))
		if err != nil {
			t.Fatalf("DecodePages(%q) returned error: %v", raw, err)
		}
		if pages != nil {
			t.Fatalf("DecodePages(%q) = %#v, want nil", raw, pages)
		}
	}
}

func TestEncodePagesNilIsArray(t *testing.T) {
	raw, err := EncodePages(nil)
	if err != nil {
		t.Fatalf("EncodePages returned error: %v", err)
	}
	if string(raw) != "[]" {
		t.Fatalf("EncodePages(nil) = %s, want []", raw)
	}
}

func TestDecodePagesRejectsGarbage(t *testing.T) {
	if _, err := DecodePages([]byte(`{"narration":1}`)); err == nil {
		t.Fatal("expected error for non-array payload")
	}
}
