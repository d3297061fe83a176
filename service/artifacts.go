package service

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/kelezhuo/ocrservice/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ArtifactStore archives extraction artifacts (markdown, images) to object
// storage so results outlive the local output directory.
type ArtifactStore struct {
	client *minio.Client
	bucket string
	config *config.MinioConfig
}

func NewArtifactStore(cfg *config.MinioConfig) (*ArtifactStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &ArtifactStore{
		client: client,
		bucket: cfg.Bucket,
		config: cfg,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (s *ArtifactStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

// StoreResults uploads the given local files under a per-job prefix and
// returns presigned read URLs for each of them.
func (s *ArtifactStore) StoreResults(ctx context.Context, jobID string, files []string) ([]string, error) {
	expiry := time.Duration(s.config.ExpireDays) * 24 * time.Hour

	urls := make([]string, 0, len(files))
	for _, path := range files {
		objectName := fmt.Sprintf("%s/%s", jobID, filepath.Base(path))

		contentType := "application/octet-stream"
		if filepath.Ext(path) == ".md" {
			contentType = "text/markdown"
		}

		_, err := s.client.FPutObject(ctx, s.bucket, objectName, path, minio.PutObjectOptions{
			ContentType: contentType,
		})
		if err != nil {
			return urls, fmt.Errorf("failed to upload %s: %w", objectName, err)
		}

		url, err := s.client.PresignedGetObject(ctx, s.bucket, objectName, expiry, nil)
		if err != nil {
			return urls, fmt.Errorf("failed to generate presigned URL for %s: %w", objectName, err)
		}
		urls = append(urls, url.String())
	}

	return urls, nil
}

// DeleteResults removes all archived objects for a job.
func (s *ArtifactStore) DeleteResults(ctx context.Context, jobID string, files []string) error {
	for _, path := range files {
		objectName := fmt.Sprintf("%s/%s", jobID, filepath.Base(path))
		if err := s.client.RemoveObject(ctx, s.bucket, objectName, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("failed to delete %s: %w", objectName, err)
		}
	}
	return nil
}
