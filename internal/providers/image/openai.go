package image

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"storybook/internal/domain"
)

type OpenAIOptions struct {
	APIKey       string
	Model        string
	BaseURL      string
	Organization string
	Size         string
	HTTPClient   *http.Client
}

// OpenAIGenerator calls the images/generations endpoint and reads the image
// back as base64 so nothing depends on short-lived provider URLs.
type OpenAIGenerator struct {
	apiKey       string
	model        string
	baseURL      string
	organization string
	size         string
	client       *http.Client
}

type openAIImageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
}

type openAIImageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func NewOpenAIGenerator(opts OpenAIOptions) (*OpenAIGenerator, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("openai api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gpt-image-1"
	}
	size := strings.TrimSpace(opts.Size)
	if size == "" {
		size = defaultOpenAISize(model)
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 3 * time.Minute}
	}
	return &OpenAIGenerator{
		apiKey:       strings.TrimSpace(opts.APIKey),
		model:        model,
		baseURL:      baseURL,
		organization: strings.TrimSpace(opts.Organization),
		size:         size,
		client:       client,
	}, nil
}

func defaultOpenAISize(model string) string {
	if strings.HasPrefix(model, "dall-e-3") {
		return "1792x1024"
	}
	if strings.HasPrefix(model, "dall-e") {
		return "1024x1024"
	}
	return "1536x1024"
}

func (o *OpenAIGenerator) Generate(ctx context.Context, req Request) (*Asset, error) {
	payload := openAIImageRequest{
		Model:  o.model,
		Prompt: req.Prompt,
		N:      1,
		Size:   o.size,
	}
	// gpt-image models always answer with b64_json and reject the field.
	if strings.HasPrefix(o.model, "dall-e") {
		payload.ResponseFormat = "b64_json"
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return nil, fmt.Errorf("encode openai image request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/images/generations", &buf)
	if err != nil {
		return nil, fmt.Errorf("build openai image request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	if o.organization != "" {
		httpReq.Header.Set("OpenAI-Organization", o.organization)
	}

	resp, err := o.client.Do(httpReq)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, openAIFailure(err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 16<<10))
		var apiErr openAIErrorResponse
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, openAIFailure(fmt.Errorf("status %d: %s", resp.StatusCode, apiErr.Error.Message))
		}
		return nil, openAIFailure(fmt.Errorf("status %d", resp.StatusCode))
	}

	var out openAIImageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, openAIFailure(fmt.Errorf("decode response: %w", err))
	}
	if len(out.Data) == 0 || out.Data[0].B64JSON == "" {
		return nil, openAIFailure(errors.New("no image data"))
	}
	data, err := base64.StdEncoding.DecodeString(out.Data[0].B64JSON)
	if err != nil {
		return nil, openAIFailure(fmt.Errorf("decode image: %w", err))
	}
	return &Asset{Format: http.DetectContentType(data), Data: data}, nil
}

func openAIFailure(err error) error {
	return fmt.Errorf("openai: %w: %v", domain.ErrProviderFailure, err)
}

var _ Generator = (*OpenAIGenerator)(nil)
