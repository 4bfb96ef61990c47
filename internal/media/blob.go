package media

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// BlobStore is the object-store surface the deduplicator needs: existence
// check by key, put by key, and a resolvable URI for a stored key.
type BlobStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Upload(ctx context.Context, key string, r io.Reader, contentType string) error
	URI(key string) string
}

// GCSStore is the production BlobStore backed by a Google Cloud Storage
// bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
}

func NewGCSStore(ctx context.Context, bucket string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

func (g *GCSStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := g.client.Bucket(g.bucket).Object(key).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("object attrs %s: %w", key, err)
}

func (g *GCSStore) Upload(ctx context.Context, key string, r io.Reader, contentType string) error {
	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("write object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize object %s: %w", key, err)
	}
	return nil
}

func (g *GCSStore) URI(key string) string {
	return fmt.Sprintf("gs://%s/%s", g.bucket, key)
}

func (g *GCSStore) Close() error {
	return g.client.Close()
}
