package narrative

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"storybook/internal/domain"
	"storybook/internal/providers/genai"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func lily() domain.StoryInputs {
	return domain.StoryInputs{
		ChildName:   "Lily",
		Age:         5,
		Gender:      "girl",
		Genre:       "Bedtime",
		Description: "a shy firefly learns to shine",
		Language:    "en",
	}
}

func pagesJSON(n int) string {
	pages := make([]map[string]string, n)
	for i := range pages {
		pages[i] = map[string]string{
			"narration":           fmt.Sprintf("Page %d text", i+1),
			"illustration_prompt": fmt.Sprintf("scene %d", i+1),
		}
	}
	raw, _ := json.Marshal(map[string]any{"pages": pages})
	return string(raw)
}

func TestParsePagesAcceptsEnvelopeArrayAndFence(t *testing.T) {
	envelope := pagesJSON(5)
	var env struct {
		Pages json.RawMessage `json:"pages"`
	}
	_ = json.Unmarshal([]byte(envelope), &env)

	inputs := map[string]string{
		"envelope": envelope,
		"array":    string(env.Pages),
		"fenced":   "```json\n" + envelope + "\n```",
	}
	for name, raw := range inputs {
		beats, err := ParsePages(raw, 5)
		if err != nil {
			t.Fatalf("%s: ParsePages returned error: %v", name, err)
		}
		if len(beats) != 5 || beats[0].Narration != "Page 1 text" || beats[4].IllustrationPrompt != "scene 5" {
			t.Fatalf("%s: unexpected beats %+v", name, beats)
		}
	}
}

func TestParsePagesRejectsMalformed(t *testing.T) {
	long := strings.Repeat("a", domain.MaxNarrationRunes+1)
	cases := []struct {
		name string
		raw  string
		n    int
	}{
		{name: "empty", raw: "", n: 5},
		{name: "prose", raw: "Once upon a time...", n: 5},
		{name: "three pages", raw: pagesJSON(3), n: 5},
		{name: "six pages", raw: pagesJSON(6), n: 5},
		{name: "no pages key", raw: `{"story":[]}`, n: 5},
		{name: "missing narration", raw: `[{"illustration_prompt":"a"},{"narration":"b","illustration_prompt":"c"}]`, n: 2},
		{name: "blank narration", raw: `[{"narration":"  ","illustration_prompt":"a"}]`, n: 1},
		{name: "missing prompt", raw: `[{"narration":"a"}]`, n: 1},
		{name: "non-object page", raw: `["just text"]`, n: 1},
		{name: "trailing garbage", raw: pagesJSON(1) + " thanks!", n: 1},
		{name: "too long", raw: `[{"narration":"` + long + `","illustration_prompt":"a"}]`, n: 1},
		{name: "number narration", raw: `[{"narration":5,"illustration_prompt":"a"}]`, n: 1},
	}
	for _, tc := range cases {
		if _, err := ParsePages(tc.raw, tc.n); !errors.Is(err, domain.ErrMalformedNarrative) {
			t.Fatalf("%s: error = %v, want ErrMalformedNarrative", tc.name, err)
		}
	}
}

func TestOpenAINarratorRequestsJSONMode(t *testing.T) {
	var captured openAIChatRequest
	narrator, err := NewOpenAINarrator(OpenAIOptions{
		APIKey:       "sk-test",
		Organization: "org-1",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			if r.URL.Path != "/v1/chat/completions" {
				t.Fatalf("unexpected path %q", r.URL.Path)
			}
			if r.Header.Get("Authorization") != "Bearer sk-test" || r.Header.Get("OpenAI-Organization") != "org-1" {
				t.Fatalf("unexpected headers %v", r.Header)
			}
			if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
				t.Fatalf("decode request: %v", err)
			}
			content, _ := json.Marshal(pagesJSON(5))
			return jsonResponse(200, `{"choices":[{"message":{"content":`+string(content)+`},"finish_reason":"stop"}]}`), nil
		})},
	})
	if err != nil {
		t.Fatalf("NewOpenAINarrator returned error: %v", err)
	}
	beats, err := narrator.Narrate(context.Background(), lily())
	if err != nil {
		t.Fatalf("Narrate returned error: %v", err)
	}
	if len(beats) != domain.PageCount {
		t.Fatalf("len(beats) = %d", len(beats))
	}
	if captured.ResponseFormat == nil || captured.ResponseFormat.Type != "json_object" {
		t.Fatalf("json mode not requested: %+v", captured.ResponseFormat)
	}
	user := captured.Messages[1].Content
	for _, want := range []string{`"Lily"`, "5-year-old girl", "Bedtime", "firefly", "English"} {
		if !strings.Contains(user, want) {
			t.Fatalf("prompt missing %q: %s", want, user)
		}
	}
}

func TestOpenAINarratorDoesNotSalvageShortStory(t *testing.T) {
	narrator, _ := NewOpenAINarrator(OpenAIOptions{
		APIKey: "sk-test",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			content, _ := json.Marshal(pagesJSON(3))
			return jsonResponse(200, `{"choices":[{"message":{"content":`+string(content)+`}}]}`), nil
		})},
	})
	_, err := narrator.Narrate(context.Background(), lily())
	if !errors.Is(err, domain.ErrMalformedNarrative) {
		t.Fatalf("error = %v, want ErrMalformedNarrative", err)
	}
}

func TestOpenAINarratorProviderErrors(t *testing.T) {
	cases := map[string]roundTripFunc{
		"transport": func(r *http.Request) (*http.Response, error) {
			return nil, errors.New("boom")
		},
		"status": func(r *http.Request) (*http.Response, error) {
			return jsonResponse(500, `{"error":{"message":"overloaded"}}`), nil
		},
		"no choices": func(r *http.Request) (*http.Response, error) {
			return jsonResponse(200, `{"choices":[]}`), nil
		},
	}
	for name, rt := range cases {
		narrator, _ := NewOpenAINarrator(OpenAIOptions{APIKey: "sk-test", HTTPClient: &http.Client{Transport: rt}})
		_, err := narrator.Narrate(context.Background(), lily())
		if !errors.Is(err, domain.ErrProviderFailure) {
			t.Fatalf("%s: error = %v, want ErrProviderFailure", name, err)
		}
		if strings.Contains(err.Error(), "api.openai.com") {
			t.Fatalf("%s: error leaks endpoint: %v", name, err)
		}
	}
}

func TestNormalizeOpenAIModel(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		input  string
		model  string
		reason string
	}{
		{name: "exact_default", input: "gpt-4o-mini", model: "gpt-4o-mini", reason: ""},
		{name: "exact_other", input: "gpt-4.1", model: "gpt-4.1", reason: ""},
		{name: "alias_short", input: "gpt-3.5", model: "gpt-3.5-turbo", reason: "alias"},
		{name: "alias_spaces", input: "GPT4o Mini", model: "gpt-4o-mini", reason: "alias"},
		{name: "unsupported", input: "o1-preview", model: "gpt-4o-mini", reason: "defaulted"},
		{name: "empty", input: "", model: "gpt-4o-mini", reason: ""},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			gotModel, gotReason := normalizeOpenAIModel(tc.input)
			if gotModel != tc.model {
				t.Fatalf("model = %q, want %q", gotModel, tc.model)
			}
			if gotReason != tc.reason {
				t.Fatalf("reason = %q, want %q", gotReason, tc.reason)
			}
		})
	}
}

func TestNewOpenAINarratorWarnsOnUnsupportedModel(t *testing.T) {
	var capturedReason, capturedDetail string
	narrator, err := NewOpenAINarrator(OpenAIOptions{
		APIKey: "dummy",
		Model:  "o1-preview",
		OnWarning: func(reason, detail string) {
			capturedReason = reason
			capturedDetail = detail
		},
	})
	if err != nil || narrator == nil {
		t.Fatalf("unexpected result: %v", err)
	}
	if capturedReason != "model_defaulted" {
		t.Fatalf("warning reason = %q, want %q", capturedReason, "model_defaulted")
	}
	if !strings.Contains(capturedDetail, "o1-preview") {
		t.Fatalf("detail = %q", capturedDetail)
	}
}

func TestGeminiNarratorParsesJSONText(t *testing.T) {
	client, err := genai.NewClient(genai.Options{
		APIKey: "g-key",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			text, _ := json.Marshal(pagesJSON(5))
			return jsonResponse(200, `{"candidates":[{"content":{"parts":[{"text":`+string(text)+`}]}}]}`), nil
		})},
	})
	if err != nil {
		t.Fatalf("genai.NewClient returned error: %v", err)
	}
	narrator, err := NewGeminiNarrator(GeminiOptions{Client: client})
	if err != nil {
		t.Fatalf("NewGeminiNarrator returned error: %v", err)
	}
	beats, err := narrator.Narrate(context.Background(), lily())
	if err != nil {
		t.Fatalf("Narrate returned error: %v", err)
	}
	if beats[2].Narration != "Page 3 text" {
		t.Fatalf("unexpected beats %+v", beats)
	}
}

func TestGeminiNarratorWrapsInvalidJSON(t *testing.T) {
	client, _ := genai.NewClient(genai.Options{
		APIKey: "g-key",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return jsonResponse(200, `{"candidates":[{"content":{"parts":[{"text":"not json at all"}]}}]}`), nil
		})},
	})
	narrator, _ := NewGeminiNarrator(GeminiOptions{Client: client})
	_, err := narrator.Narrate(context.Background(), lily())
	if !errors.Is(err, domain.ErrMalformedNarrative) {
		t.Fatalf("error = %v, want ErrMalformedNarrative", err)
	}
}

func TestNewGeminiNarratorRequiresKey(t *testing.T) {
	client, _ := genai.NewClient(genai.Options{})
	if _, err := NewGeminiNarrator(GeminiOptions{Client: client}); err == nil {
		t.Fatal("expected error without api key")
	}
}

func TestStaticNarratorIsDeterministicAndValid(t *testing.T) {
	narrator := NewStaticNarrator(0)
	in := lily()
	in.ChildName = "lily"
	first, err := narrator.Narrate(context.Background(), in)
	if err != nil {
		t.Fatalf("Narrate returned error: %v", err)
	}
	second, _ := narrator.Narrate(context.Background(), in)
	if len(first) != domain.PageCount {
		t.Fatalf("len = %d, want %d", len(first), domain.PageCount)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("page %d differs between runs", i)
		}
		if first[i].Narration == "" || first[i].IllustrationPrompt == "" {
			t.Fatalf("page %d has empty fields", i)
		}
	}
	if !strings.HasPrefix(first[0].Narration, "Lily was 5") {
		t.Fatalf("unexpected opening: %q", first[0].Narration)
	}
}

func TestLanguageName(t *testing.T) {
	cases := map[string]string{"": "English", "en": "English", "id": "Indonesian", "fr-CA": "French", "zz-invalid!": "English"}
	for tag, want := range cases {
		if got := languageName(tag); got != want {
			t.Fatalf("languageName(%q) = %q, want %q", tag, got, want)
		}
	}
}
