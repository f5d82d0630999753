// Package gcs implements offsite.Backend over a Google Cloud Storage
// bucket.
package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"tapevault/internal/offsite"
)

// Backend stores catalog objects as objects in a single GCS bucket.
type Backend struct {
	client *storage.Client
	bucket string
}

var _ offsite.Backend = (*Backend)(nil)

// New opens bucket using application-default credentials.
func New(ctx context.Context, bucket string) (*Backend, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("offsite/gcs: new client: %w", err)
	}
	return &Backend{client: client, bucket: bucket}, nil
}

func (b *Backend) Put(ctx context.Context, key string, body []byte) error {
	w := b.client.Bucket(b.bucket).Object(key).NewWriter(ctx)
	if _, err := w.Write(body); err != nil {
		w.Close()
		return fmt.Errorf("offsite/gcs: write %s/%s: %w", b.bucket, key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("offsite/gcs: close %s/%s: %w", b.bucket, key, err)
	}
	return nil
}

func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := b.client.Bucket(b.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("offsite/gcs: open %s/%s: %w", b.bucket, key, err)
	}
	defer r.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, fmt.Errorf("offsite/gcs: read %s/%s: %w", b.bucket, key, err)
	}
	return buf.Bytes(), nil
}
