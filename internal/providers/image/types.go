package image

import (
	"bytes"
	"context"
	stdimage "image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"strings"

	_ "golang.org/x/image/webp"
)

// Reference is a conditioning photo passed alongside the prompt.
type Reference struct {
	MIME string
	Data []byte
}

// Request describes a single illustration.
type Request struct {
	Prompt    string
	JobID     string
	Page      int
	Reference *Reference
}

// Asset represents a generated image.
type Asset struct {
	Format string
	Width  int
	Height int
	Data   []byte
}

// Extension maps the asset MIME type to a file extension.
func (a *Asset) Extension() string {
	switch strings.ToLower(a.Format) {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	default:
		return "png"
	}
}

// Generator is the contract implemented by all image providers. One call
// produces exactly one image.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Asset, error)
}

// GeneratorFunc adapts a function into a Generator.
type GeneratorFunc func(ctx context.Context, req Request) (*Asset, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (*Asset, error) {
	return f(ctx, req)
}

// inspect fills format and dimensions from the encoded bytes. ok is false when
// the bytes are not a decodable raster image.
func inspect(data []byte) (format string, width, height int, ok bool) {
	cfg, kind, err := stdimage.DecodeConfig(bytes.NewReader(data))
	if err != nil || cfg.Width == 0 || cfg.Height == 0 {
		return "", 0, 0, false
	}
	switch kind {
	case "jpeg":
		format = "image/jpeg"
	case "webp":
		format = "image/webp"
	case "png":
		format = "image/png"
	default:
		format = http.DetectContentType(data)
	}
	return format, cfg.Width, cfg.Height, true
}
