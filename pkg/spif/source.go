package spif

import (
	"context"
	"fmt"
	"os"
)

// Source fetches raw policy document bytes from wherever the deployment
// keeps them. Implementations must be safe for concurrent use; the Loader
// may call Fetch from any goroutine.
type Source interface {
	// Fetch returns the current policy document bytes.
	Fetch(ctx context.Context) ([]byte, error)
	// Describe names the location for error messages and logs.
	Describe() string
}

// SourceType represents the type of policy source backend.
type SourceType string

const (
	SourceTypeFile SourceType = "file"
	SourceTypeS3   SourceType = "s3"
	SourceTypeGCS  SourceType = "gcs"
)

// FileSource reads the policy document from the local filesystem.
type FileSource struct {
	path string
}

// NewFileSource creates a filesystem-backed policy source.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Fetch(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, &PolicyLoadError{
			Source: s.Describe(),
			Reason: fmt.Sprintf("read failed: %v", err),
			Err:    err,
		}
	}
	return data, nil
}

func (s *FileSource) Describe() string { return "file:" + s.path }

// Path returns the local path the source reads from. Watchers use it to
// register filesystem notifications.
func (s *FileSource) Path() string { return s.path }

// NewSourceFromEnv creates a policy source based on environment variables.
//
// Environment variables:
//   - SPIF_SOURCE: "file" (default), "s3", or "gcs"
//   - SPIF_PATH: Policy document path for the file source (default: "spif.xml")
//
// For S3:
//   - SPIF_S3_BUCKET (required)
//   - SPIF_S3_KEY (required)
//   - AWS_REGION or SPIF_S3_REGION
//   - SPIF_S3_ENDPOINT (optional, for MinIO/LocalStack)
//
// For GCS:
//   - SPIF_GCS_BUCKET (required)
//   - SPIF_GCS_OBJECT (required)
func NewSourceFromEnv(ctx context.Context) (Source, error) {
	sourceType := SourceType(os.Getenv("SPIF_SOURCE"))
	if sourceType == "" {
		sourceType = SourceTypeFile
	}

	switch sourceType {
	case SourceTypeFile:
		path := os.Getenv("SPIF_PATH")
		if path == "" {
			path = "spif.xml"
		}
		return NewFileSource(path), nil
	case SourceTypeS3:
		return newS3SourceFromEnv(ctx)
	case SourceTypeGCS:
		return newGCSSourceFromEnv(ctx)
	default:
		return nil, fmt.Errorf("unsupported policy source type: %s", sourceType)
	}
}
