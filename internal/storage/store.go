package storage

import (
	"context"
	"errors"
	"path"
	"strconv"
	"strings"
)

// Object describes a stored asset.
type Object struct {
	Key string
	URL string
}

// ObjectStore persists generated assets and resolves their public URLs.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (Object, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// ErrEmptyObject is returned when Put is called without any bytes.
var ErrEmptyObject = errors.New("storage: empty object")

// ErrObjectNotFound is returned by Get for a key that was never written.
var ErrObjectNotFound = errors.New("storage: object not found")

// Keys for a single story job. Everything produced for one job lives under
// stories/{jobID}/.
func PageImageKey(jobID string, page int, ext string) string {
	return path.Join("stories", jobID, "page-"+strconv.Itoa(page)+"."+strings.TrimPrefix(ext, "."))
}

func DocumentKey(jobID string) string {
	return path.Join("stories", jobID, "storybook.pdf")
}

func PhotoKey(ownerSegment, name string) string {
	return path.Join("uploads", ownerSegment, name)
}

func contentTypeForKey(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

func joinURL(base, key string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return "/" + key
	}
	return base + "/" + key
}
