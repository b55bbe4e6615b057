/**
 * Artifact store
 *
 * Keeps the original document bytes in S3-compatible object storage so the
 * serving layer can fetch them back after processing (e.g. for page-level
 * viewing). Artifact writes are best-effort from the pipeline's point of
 * view: a failed upload never fails the extraction.
 */

package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ArtifactStore handles S3-compatible storage of original documents.
type ArtifactStore struct {
	client *minio.Client
	bucket string
	region string
}

// NewArtifactStore creates an artifact store against an S3-compatible
// endpoint.
func NewArtifactStore(endpoint, accessKey, secretKey, bucket, region string, useSSL bool) (*ArtifactStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	return &ArtifactStore{
		client: client,
		bucket: bucket,
		region: region,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (s *ArtifactStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

// StoreDocument uploads the original document bytes under a stable key and
// returns that key.
func (s *ArtifactStore) StoreDocument(ctx context.Context, documentID string, data []byte) (string, error) {
	key := fmt.Sprintf("documents/%s.pdf", documentID)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/pdf",
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload document: %w", err)
	}
	return key, nil
}

// PresignedURL generates a time-limited download URL for a stored artifact.
func (s *ArtifactStore) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	url, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return url.String(), nil
}

// Delete removes a stored artifact.
func (s *ArtifactStore) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	return nil
}
