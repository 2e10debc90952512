package spif

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Source fetches the policy document from an S3 object. Coalition
// deployments typically publish the signed policy to a shared bucket and
// point every node at the same key.
type S3Source struct {
	client *s3.Client
	bucket string
	key    string
}

// S3SourceConfig holds configuration for S3Source.
type S3SourceConfig struct {
	Bucket   string
	Key      string
	Region   string
	Endpoint string // Optional custom endpoint (for MinIO, LocalStack, etc.)
}

// NewS3Source creates an S3-backed policy source.
func NewS3Source(ctx context.Context, cfg S3SourceConfig) (*S3Source, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOpts := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for MinIO/LocalStack
		}
	}

	return &S3Source{
		client: s3.NewFromConfig(awsCfg, clientOpts),
		bucket: cfg.Bucket,
		key:    cfg.Key,
	}, nil
}

func (s *S3Source) Fetch(ctx context.Context) ([]byte, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return nil, &PolicyLoadError{
			Source: s.Describe(),
			Reason: fmt.Sprintf("s3 get failed: %v", err),
			Err:    err,
		}
	}
	defer func() { _ = result.Body.Close() }()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, &PolicyLoadError{
			Source: s.Describe(),
			Reason: fmt.Sprintf("s3 read failed: %v", err),
			Err:    err,
		}
	}
	return data, nil
}

func (s *S3Source) Describe() string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.key)
}

func newS3SourceFromEnv(ctx context.Context) (Source, error) {
	bucket := os.Getenv("SPIF_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("SPIF_S3_BUCKET is required for the s3 policy source")
	}
	key := os.Getenv("SPIF_S3_KEY")
	if key == "" {
		return nil, fmt.Errorf("SPIF_S3_KEY is required for the s3 policy source")
	}

	region := os.Getenv("SPIF_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	return NewS3Source(ctx, S3SourceConfig{
		Bucket:   bucket,
		Key:      key,
		Region:   region,
		Endpoint: os.Getenv("SPIF_S3_ENDPOINT"),
	})
}
