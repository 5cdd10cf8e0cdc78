package objectstore

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Store writes to an S3-compatible bucket. endpoint may point at MinIO or
// R2; publicBaseURL overrides the default virtual-hosted URL.
type S3Store struct {
	uploader      *manager.Uploader
	bucket        string
	region        string
	publicBaseURL string
}

func NewS3Store(ctx context.Context, region, bucket, endpoint, publicBaseURL string) (*S3Store, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Store{
		uploader:      manager.NewUploader(client),
		bucket:        bucket,
		region:        region,
		publicBaseURL: publicBaseURL,
	}, nil
}

func (store *S3Store) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	_, err := store.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(store.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}

	if store.publicBaseURL != "" {
		return joinURL(store.publicBaseURL, key), nil
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", store.bucket, store.region, key), nil
}
