package service

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	cfg "github.com/maheshrc27/postflow/configs"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// ObjectStorage is owned storage for media that must outlive provider URLs.
type ObjectStorage interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	// PutObjectFromURL downloads src and stores it under prefix, returning
	// the object key.
	PutObjectFromURL(ctx context.Context, prefix, src string) (string, error)
}

type R2Service struct {
	client *s3.Client
	bucket string
	media  *MediaFetcher
	logger *slog.Logger
}

func NewR2Service(ctx context.Context, r2 cfg.R2, media *MediaFetcher, logger *slog.Logger) (*R2Service, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(r2.AccessKey, r2.SecretKey, "")),
		config.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("load r2 config: %w", err)
	}

	endpoint := r2.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", r2.AccountID)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = r2.Endpoint != ""
	})

	return &R2Service{client: client, bucket: r2.BucketName, media: media, logger: logger}, nil
}

func (r *R2Service) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	}

	if _, err := r.client.PutObject(ctx, input); err != nil {
		r.logger.Error("put object", slog.String("key", key), slog.Any("error", err))
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

func (r *R2Service) PutObjectFromURL(ctx context.Context, prefix, src string) (string, error) {
	blob, err := r.media.Fetch(ctx, src)
	if err != nil {
		return "", err
	}

	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("generate object key: %w", err)
	}
	key := path.Join(prefix, id)
	if blob.Extension != "" {
		key += "." + blob.Extension
	}

	if err := r.PutObject(ctx, key, blob.Data, blob.MimeType); err != nil {
		return "", err
	}
	return key, nil
}
