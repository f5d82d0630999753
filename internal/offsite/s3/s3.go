// Package s3 implements offsite.Backend over Amazon S3 (or an
// S3-compatible endpoint).
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"tapevault/internal/offsite"
)

// Backend stores catalog objects in a single S3 bucket.
type Backend struct {
	client *s3.Client
	bucket string
}

var _ offsite.Backend = (*Backend)(nil)

// New loads the default AWS credential chain (env vars, shared config,
// instance role) and returns a Backend bound to bucket.
func New(ctx context.Context, bucket string, optFns ...func(*awsconfig.LoadOptions) error) (*Backend, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("offsite/s3: load aws config: %w", err)
	}
	return &Backend{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

// NewWithStaticCredentials bypasses the default credential chain for
// S3-compatible endpoints (e.g. MinIO) that authenticate with a fixed
// access/secret key pair rather than an AWS credential provider.
func NewWithStaticCredentials(ctx context.Context, bucket, accessKeyID, secretAccessKey string, optFns ...func(*awsconfig.LoadOptions) error) (*Backend, error) {
	optFns = append(optFns, awsconfig.WithCredentialsProvider(
		credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
	))
	return New(ctx, bucket, optFns...)
}

func (b *Backend) Put(ctx context.Context, key string, body []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("offsite/s3: put %s/%s: %w", b.bucket, key, err)
	}
	return nil
}

func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("offsite/s3: get %s/%s: %w", b.bucket, key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("offsite/s3: read %s/%s: %w", b.bucket, key, err)
	}
	return data, nil
}
