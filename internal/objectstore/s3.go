// Package objectstore provides the optional, fire-and-forget object-storage
// upload hook for file transfers (spec.md §4.7, §9). The original deployment
// targets MinIO; no minio-go client exists anywhere in the example pack this
// module was grounded on (rjsadow-sortie carries aws-sdk-go-v2 instead), and
// MinIO itself speaks the S3 API, so this repo uploads through
// aws-sdk-go-v2/service/s3 pointed at the MinIO endpoint via a custom base
// endpoint (see DESIGN.md).
package objectstore

import (
	"context"
	"fmt"
	"io"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// Config describes how to reach the object store (spec.md §6 env vars:
// MINIO_HOST, MINIO_PORT, MINIO_ROOT_USER, MINIO_ROOT_PASSWORD).
type Config struct {
	Host      string
	Port      string
	AccessKey string
	SecretKey string
	Region    string
}

// Buckets mirrors original_source/nexus/src/storage.rs's three buckets.
const (
	BucketImages = "images"
	BucketVideos = "videos"
	BucketFiles  = "files"
)

// Store uploads blobs to an S3-compatible endpoint (MinIO in production).
type Store struct {
	client *s3.Client
	log    *zap.Logger
}

// New constructs a Store from cfg. A zero Host disables the store — callers
// treat a nil *Store as "no object-store hook configured".
func New(ctx context.Context, cfg Config, log *zap.Logger) (*Store, error) {
	if cfg.Host == "" {
		return nil, nil
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("objectstore: load aws config: %w", err)
	}

	endpoint := fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = &endpoint
		o.UsePathStyle = true // required for MinIO.
	})

	return &Store{client: client, log: log}, nil
}

// Upload is fire-and-forget: the caller (C7) runs it in its own goroutine
// and never blocks local persistence on its outcome (spec.md §4.7).
func (s *Store) Upload(ctx context.Context, bucket, key string, r io.Reader, size int64) {
	if s == nil {
		return
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &bucket,
		Key:           &key,
		Body:          r,
		ContentLength: &size,
	})
	if err != nil {
		s.log.Warn("object store upload failed", zap.String("bucket", bucket), zap.String("key", key), zap.Error(err))
		return
	}
	s.log.Debug("object store upload complete", zap.String("bucket", bucket), zap.String("key", key))
}

// BucketFor returns the bucket name for a media kind, or "" if the kind has
// no object-store mirror (spec.md §9 limits the hook to Image/Video).
func BucketFor(kind string) string {
	switch kind {
	case "Image":
		return BucketImages
	case "Video":
		return BucketVideos
	default:
		return ""
	}
}
