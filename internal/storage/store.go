/**
 * Store
 *
 * Coordinates result persistence across PostgreSQL (job rows, assembled
 * results) and the S3-compatible artifact store (original document bytes).
 */

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pipeerrors "github.com/nordstack/docextract-worker/internal/errors"
	"github.com/nordstack/docextract-worker/internal/logging"
	"github.com/nordstack/docextract-worker/internal/pipeline"
)

// Store coordinates PostgreSQL and artifact storage.
type Store struct {
	postgres  *PostgresClient
	artifacts *ArtifactStore
	logger    *logging.Logger
}

// NewStore wires the Postgres client and the (optional) artifact store.
func NewStore(databaseURL string, artifacts *ArtifactStore) (*Store, error) {
	postgres, err := NewPostgresClient(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL client: %w", err)
	}

	return &Store{
		postgres:  postgres,
		artifacts: artifacts,
		logger:    logging.NewLogger("Storage"),
	}, nil
}

// MarkProcessing records that a document entered the pipeline.
func (s *Store) MarkProcessing(ctx context.Context, documentID, filename string) error {
	err := s.postgres.UpsertJob(ctx, &JobRecord{
		DocumentID: documentID,
		Filename:   filename,
		Status:     string(pipeline.StatusProcessing),
	})
	if err != nil {
		return pipeerrors.NewStorageFailed(documentID, err)
	}
	return nil
}

// SaveResult persists the assembled document result and uploads the original
// bytes as an artifact. Artifact failures are logged, not returned.
func (s *Store) SaveResult(ctx context.Context, result *pipeline.DocumentResult, filename string, original []byte, duration time.Duration) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return pipeerrors.NewStorageFailed(result.DocumentID, fmt.Errorf("marshal result: %w", err))
	}

	err = s.postgres.UpsertJob(ctx, &JobRecord{
		DocumentID:       result.DocumentID,
		Filename:         filename,
		Status:           string(result.Status),
		PageCount:        len(result.Pages),
		FailedPages:      result.FailedPages,
		Confidence:       result.MeanConfidence,
		ProcessingTimeMs: duration.Milliseconds(),
		Result:           payload,
	})
	if err != nil {
		return pipeerrors.NewStorageFailed(result.DocumentID, err)
	}

	if s.artifacts != nil && len(original) > 0 {
		logger := s.logger.Scoped(result.DocumentID)
		key, err := s.artifacts.StoreDocument(ctx, result.DocumentID, original)
		if err != nil {
			logger.Warn("failed to store artifact, original will not be retrievable", "error", err)
		} else {
			logger.Debug("artifact stored", "key", key)
		}
	}

	return nil
}

// SaveFailure records a document-fatal outcome.
func (s *Store) SaveFailure(ctx context.Context, documentID, filename string, cause error, duration time.Duration) error {
	rec := &JobRecord{
		DocumentID:       documentID,
		Filename:         filename,
		Status:           string(pipeline.StatusFailed),
		ProcessingTimeMs: duration.Milliseconds(),
		ErrorCode:        string(pipeerrors.KindOf(cause)),
	}
	if cause != nil {
		rec.ErrorMessage = cause.Error()
	}

	if err := s.postgres.UpsertJob(ctx, rec); err != nil {
		return pipeerrors.NewStorageFailed(documentID, err)
	}
	return nil
}

// GetJob loads one job row.
func (s *Store) GetJob(ctx context.Context, documentID string) (*JobRecord, error) {
	return s.postgres.GetJob(ctx, documentID)
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.postgres.Ping(ctx)
}

// Close releases database resources.
func (s *Store) Close() error {
	return s.postgres.Close()
}
