package submission

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/nadzzz/face2voice/internal/config"
	"github.com/nadzzz/face2voice/internal/message"
)

// S3Store writes submissions to an S3-compatible bucket.
type S3Store struct {
	client *minio.Client
	bucket string
}

// NewS3Store connects to the object store and checks that the bucket exists.
func NewS3Store(ctx context.Context, cfg config.S3Config) (*S3Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init S3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %q does not exist", cfg.Bucket)
	}

	return &S3Store{client: client, bucket: cfg.Bucket}, nil
}

// Name returns the backend identifier.
func (s *S3Store) Name() string { return "s3" }

// Save uploads the image, then the text. If the text upload fails the image
// object is removed again.
func (s *S3Store) Save(ctx context.Context, sub *message.Submission, ext string) error {
	imageKey, textKey := objectKeys(sub.ID, ext)
	meta := map[string]string{
		"submission-id": sub.ID,
		"uploaded-at":   time.Now().Format(time.RFC3339),
	}

	_, err := s.client.PutObject(ctx, s.bucket, imageKey, bytes.NewReader(sub.Image), int64(len(sub.Image)), minio.PutObjectOptions{
		ContentType:  sub.ContentType,
		UserMetadata: meta,
	})
	if err != nil {
		return fmt.Errorf("upload image: %w", err)
	}

	_, err = s.client.PutObject(ctx, s.bucket, textKey, bytes.NewReader([]byte(sub.Text)), int64(len(sub.Text)), minio.PutObjectOptions{
		ContentType:  "text/plain; charset=utf-8",
		UserMetadata: meta,
	})
	if err != nil {
		_ = s.client.RemoveObject(context.Background(), s.bucket, imageKey, minio.RemoveObjectOptions{})
		return fmt.Errorf("upload text: %w", err)
	}
	return nil
}
