package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSOptions configures a Google Cloud Storage backed ObjectStore.
type GCSOptions struct {
	Bucket string
	// PublicBaseURL replaces https://storage.googleapis.com/{bucket} in
	// returned URLs, e.g. a CDN domain in front of the bucket.
	PublicBaseURL   string
	CredentialsFile string
	CacheControl    string
}

// GCSStore writes objects into a single bucket.
type GCSStore struct {
	client       *storage.Client
	bucket       string
	publicBase   string
	cacheControl string
}

// NewGCSStore dials the storage API with application default credentials or
// the configured credentials file.
func NewGCSStore(ctx context.Context, opts GCSOptions) (*GCSStore, error) {
	bucket := strings.TrimSpace(opts.Bucket)
	if bucket == "" {
		return nil, errors.New("storage: bucket is required")
	}
	clientOpts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	if path := strings.TrimSpace(opts.CredentialsFile); path != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(path))
	}
	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("storage: create gcs client: %w", err)
	}
	return newGCSStore(client, opts), nil
}

func newGCSStore(client *storage.Client, opts GCSOptions) *GCSStore {
	base := strings.TrimRight(strings.TrimSpace(opts.PublicBaseURL), "/")
	if base == "" {
		base = "https://storage.googleapis.com/" + strings.TrimSpace(opts.Bucket)
	}
	cacheControl := opts.CacheControl
	if cacheControl == "" {
		cacheControl = "public, max-age=31536000, immutable"
	}
	return &GCSStore{
		client:       client,
		bucket:       strings.TrimSpace(opts.Bucket),
		publicBase:   base,
		cacheControl: cacheControl,
	}
}

// PublicURL returns the URL a stored key is reachable at.
func (s *GCSStore) PublicURL(key string) string {
	return joinURL(s.publicBase, key)
}

// Put uploads data. The object only becomes visible once the writer closes
// successfully, so a failed upload never leaves a partial asset behind.
func (s *GCSStore) Put(ctx context.Context, key string, data []byte, contentType string) (Object, error) {
	if len(data) == 0 {
		return Object{}, ErrEmptyObject
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return Object{}, err
	}
	if contentType == "" {
		contentType = contentTypeForKey(cleanKey)
	}

	w := s.client.Bucket(s.bucket).Object(cleanKey).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = s.cacheControl
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return Object{}, fmt.Errorf("storage: write gcs object: %w", err)
	}
	if err := w.Close(); err != nil {
		return Object{}, fmt.Errorf("storage: close gcs writer: %w", err)
	}
	return Object{Key: cleanKey, URL: s.PublicURL(cleanKey)}, nil
}

// Get downloads the object stored at key.
func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return nil, err
	}
	r, err := s.client.Bucket(s.bucket).Object(cleanKey).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: open gcs reader: %w", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("storage: read gcs object: %w", err)
	}
	return data, nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

var _ ObjectStore = (*GCSStore)(nil)
