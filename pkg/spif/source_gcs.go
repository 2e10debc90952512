//go:build gcp

package spif

import (
	"context"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
)

// GCSSource fetches the policy document from a Google Cloud Storage object.
type GCSSource struct {
	client *storage.Client
	bucket string
	object string
}

// GCSSourceConfig holds configuration for GCSSource.
type GCSSourceConfig struct {
	Bucket string
	Object string
}

// NewGCSSource creates a GCS-backed policy source.
func NewGCSSource(ctx context.Context, cfg GCSSourceConfig) (*GCSSource, error) {
	// Uses ADC by default.
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSSource{
		client: client,
		bucket: cfg.Bucket,
		object: cfg.Object,
	}, nil
}

func (s *GCSSource) Fetch(ctx context.Context) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(s.object).NewReader(ctx)
	if err != nil {
		return nil, &PolicyLoadError{
			Source: s.Describe(),
			Reason: fmt.Sprintf("gcs read failed: %v", err),
			Err:    err,
		}
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &PolicyLoadError{
			Source: s.Describe(),
			Reason: fmt.Sprintf("gcs read failed: %v", err),
			Err:    err,
		}
	}
	return data, nil
}

func (s *GCSSource) Describe() string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, s.object)
}

func newGCSSourceFromEnv(ctx context.Context) (Source, error) {
	bucket := os.Getenv("SPIF_GCS_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("SPIF_GCS_BUCKET is required for the gcs policy source")
	}
	object := os.Getenv("SPIF_GCS_OBJECT")
	if object == "" {
		return nil, fmt.Errorf("SPIF_GCS_OBJECT is required for the gcs policy source")
	}

	return NewGCSSource(ctx, GCSSourceConfig{
		Bucket: bucket,
		Object: object,
	})
}
