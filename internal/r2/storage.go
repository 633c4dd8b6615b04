package r2

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	conf "github.com/trunov/heroproxy/internal/config"
)

var ErrNoBucket = errors.New("r2 bucket name is not configured")

// Storage reads source images from a Cloudflare R2 (S3 compatible) bucket.
type Storage struct {
	Bucket   string
	S3Client *s3.Client
}

func NewStorage(ctx context.Context, cfg *conf.R2Config) (*Storage, error) {
	if cfg.BucketName == "" {
		return nil, ErrNoBucket
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretKey, "",
		)),
		config.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Storage{
		Bucket:   cfg.BucketName,
		S3Client: s3.NewFromConfig(awsCfg, withEndpoint(cfg)),
	}, nil
}

func withEndpoint(cfg *conf.R2Config) func(*s3.Options) {
	endpoint := Endpoint(cfg)
	return func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	}
}

// Endpoint is the configured endpoint, or the account's R2 endpoint.
func Endpoint(cfg *conf.R2Config) string {
	if cfg.Endpoint != "" {
		return cfg.Endpoint
	}
	return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
}

func (s *Storage) Download(ctx context.Context, key string) ([]byte, string, error) {
	out, err := s.S3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to download %q: %w", key, err)
	}
	defer out.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(out.Body); err != nil {
		return nil, "", fmt.Errorf("failed to read body for %q: %w", key, err)
	}

	return buf.Bytes(), aws.ToString(out.ContentType), nil
}
