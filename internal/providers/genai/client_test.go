package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"strings"
	"testing"
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

func tinyPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	img.Set(1, 1, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newTestClient(t *testing.T, key string, rt roundTripFunc) *Client {
	t.Helper()
	c, err := NewClient(Options{
		APIKey:     key,
		BaseURL:    "https://gemini.test/v1beta",
		HTTPClient: &http.Client{Transport: rt},
	})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	return c
}

func TestGenerateTextSendsJSONModeAndKeyHeader(t *testing.T) {
	var captured geminiGenerateContentRequest
	c := newTestClient(t, "secret", func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/v1beta/models/gemini-2.5-flash:generateContent" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "" {
			t.Fatal("api key must not travel in the query string")
		}
		if r.Header.Get("x-goog-api-key") != "secret" {
			t.Fatalf("missing api key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		return jsonResponse(200, `{"candidates":[{"content":{"parts":[{"text":"{\"pages\":"},{"text":"[]}"}]}}]}`), nil
	})

	text, err := c.GenerateText(context.Background(), TextRequest{System: "be kind", Prompt: "write", JSON: true})
	if err != nil {
		t.Fatalf("GenerateText returned error: %v", err)
	}
	if text != `{"pages":[]}` {
		t.Fatalf("text = %q", text)
	}
	if captured.GenerationConfig == nil || captured.GenerationConfig.ResponseMimeType != "application/json" {
		t.Fatalf("json mode not requested: %+v", captured.GenerationConfig)
	}
	if captured.SystemInstruction == nil || captured.SystemInstruction.Parts[0].Text != "be kind" {
		t.Fatalf("system instruction missing: %+v", captured.SystemInstruction)
	}
}

func TestGenerateTextSurfacesErrorEnvelope(t *testing.T) {
	c := newTestClient(t, "secret", func(r *http.Request) (*http.Response, error) {
		return jsonResponse(429, `{"error":{"code":429,"message":"quota exhausted","status":"RESOURCE_EXHAUSTED"}}`), nil
	})
	_, err := c.GenerateText(context.Background(), TextRequest{Prompt: "x"})
	if err == nil || !strings.Contains(err.Error(), "quota exhausted") {
		t.Fatalf("error = %v, want quota message", err)
	}
}

func TestGenerateTextRequiresKey(t *testing.T) {
	c := newTestClient(t, "", func(r *http.Request) (*http.Response, error) {
		t.Fatal("no request expected without a key")
		return nil, nil
	})
	if c.HasKey() {
		t.Fatal("HasKey should be false")
	}
	if _, err := c.GenerateText(context.Background(), TextRequest{Prompt: "x"}); err == nil {
		t.Fatal("expected error without api key")
	}
}

func TestGenerateTextBlockedPrompt(t *testing.T) {
	c := newTestClient(t, "secret", func(r *http.Request) (*http.Response, error) {
		return jsonResponse(200, `{"candidates":[],"promptFeedback":{"blockReason":"SAFETY"}}`), nil
	})
	_, err := c.GenerateText(context.Background(), TextRequest{Prompt: "x"})
	if err == nil || !strings.Contains(err.Error(), "blocked") {
		t.Fatalf("error = %v, want blocked", err)
	}
}

func TestGenerateImageDecodesInlineData(t *testing.T) {
	pngBytes := tinyPNG(t)
	var captured geminiGenerateContentRequest
	c := newTestClient(t, "secret", func(r *http.Request) (*http.Response, error) {
		if !strings.Contains(r.URL.Path, "gemini-2.5-flash-image") {
			t.Fatalf("image model not used: %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		body := `{"candidates":[{"content":{"parts":[{"text":"here you go"},{"inlineData":{"mimeType":"image/png","data":"` +
			base64.StdEncoding.EncodeToString(pngBytes) + `"}}]}}]}`
		return jsonResponse(200, body), nil
	})

	asset, err := c.GenerateImage(context.Background(), ImageRequest{
		Prompt:      "a fox",
		AspectRatio: "4:3",
		Reference:   &InlineImage{MimeType: "image/jpeg", Data: []byte{0xff, 0xd8}},
	})
	if err != nil {
		t.Fatalf("GenerateImage returned error: %v", err)
	}
	if asset.Width != 4 || asset.Height != 3 || asset.Format != "image/png" {
		t.Fatalf("unexpected asset: %+v", asset)
	}
	if !bytes.Equal(asset.Data, pngBytes) {
		t.Fatal("asset bytes mismatch")
	}
	parts := captured.Contents[0].Parts
	if len(parts) != 2 || parts[0].InlineData == nil || parts[1].Text == "" {
		t.Fatalf("expected reference photo then prompt, got %+v", parts)
	}
	cfg := captured.GenerationConfig
	if cfg == nil || len(cfg.ResponseModalities) != 1 || cfg.ResponseModalities[0] != "IMAGE" {
		t.Fatalf("image modality not requested: %+v", cfg)
	}
	if cfg.ImageConfig == nil || cfg.ImageConfig.AspectRatio != "4:3" {
		t.Fatalf("aspect ratio not forwarded: %+v", cfg.ImageConfig)
	}
}

func TestGenerateImageWithoutImagePart(t *testing.T) {
	c := newTestClient(t, "secret", func(r *http.Request) (*http.Response, error) {
		return jsonResponse(200, `{"candidates":[{"content":{"parts":[{"text":"I cannot draw that"}]}}]}`), nil
	})
	_, err := c.GenerateImage(context.Background(), ImageRequest{Prompt: "x"})
	if !errors.Is(err, ErrNoContent) {
		t.Fatalf("error = %v, want ErrNoContent", err)
	}
}

func TestTransportErrorsDoNotLeakURL(t *testing.T) {
	c := newTestClient(t, "secret", func(r *http.Request) (*http.Response, error) {
		return nil, errors.New("connection reset")
	})
	_, err := c.GenerateText(context.Background(), TextRequest{Prompt: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), "gemini.test") {
		t.Fatalf("error leaks endpoint: %v", err)
	}
}
