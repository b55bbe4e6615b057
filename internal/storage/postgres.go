/**
 * PostgreSQL client
 *
 * Persists extraction jobs and their assembled results. A job row is
 * upserted on every status transition so the worker can create the record
 * even when the serving layer has not done so yet.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// JobRecord is one extraction job row.
type JobRecord struct {
	DocumentID       string
	Filename         string
	Status           string
	PageCount        int
	FailedPages      int
	Confidence       float64
	ProcessingTimeMs int64
	ErrorCode        string
	ErrorMessage     string
	Result           json.RawMessage
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// sanitizeConfidence rounds confidence to 4 decimal places and clamps it to
// [0.0, 1.0]. Float64 representations like 0.9632000000000001 otherwise trip
// NUMERIC(5,4) casting in Postgres.
func sanitizeConfidence(confidence float64) float64 {
	if confidence < 0.0 {
		return 0.0
	}
	if confidence > 1.0 {
		return 1.0
	}
	return float64(int(confidence*10000+0.5)) / 10000
}

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// UpsertJob creates or updates an extraction job row.
func (p *PostgresClient) UpsertJob(ctx context.Context, rec *JobRecord) error {
	if rec.DocumentID == "" {
		return fmt.Errorf("document ID is required")
	}
	if rec.Status == "" {
		return fmt.Errorf("status is required")
	}

	query := `
		INSERT INTO extraction_jobs (
			document_id, filename, status, page_count, failed_pages,
			confidence, processing_time_ms, error_code, error_message,
			result, created_at, updated_at
		) VALUES (
			$1::uuid, COALESCE(NULLIF($2, ''), 'unknown.pdf'), $3,
			$4, $5, NULLIF($6::NUMERIC(5,4), 0), NULLIF($7, 0),
			NULLIF($8, ''), NULLIF($9, ''),
			COALESCE($10::jsonb, '{}'::jsonb),
			NOW(), NOW()
		)
		ON CONFLICT (document_id) DO UPDATE SET
			status = EXCLUDED.status,
			page_count = COALESCE(NULLIF(EXCLUDED.page_count, 0), extraction_jobs.page_count),
			failed_pages = EXCLUDED.failed_pages,
			confidence = COALESCE(NULLIF(EXCLUDED.confidence::NUMERIC(5,4), 0), extraction_jobs.confidence),
			processing_time_ms = COALESCE(NULLIF(EXCLUDED.processing_time_ms, 0), extraction_jobs.processing_time_ms),
			error_code = NULLIF(EXCLUDED.error_code, ''),
			error_message = NULLIF(EXCLUDED.error_message, ''),
			result = COALESCE(EXCLUDED.result, extraction_jobs.result),
			filename = COALESCE(EXCLUDED.filename, extraction_jobs.filename),
			updated_at = NOW()
	`

	result := rec.Result
	if result == nil {
		result = json.RawMessage("{}")
	}

	_, err := p.db.ExecContext(ctx, query,
		rec.DocumentID,
		rec.Filename,
		rec.Status,
		rec.PageCount,
		rec.FailedPages,
		sanitizeConfidence(rec.Confidence),
		rec.ProcessingTimeMs,
		rec.ErrorCode,
		rec.ErrorMessage,
		string(result),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert job %s: %w", rec.DocumentID, err)
	}

	return nil
}

// GetJob loads one extraction job row.
func (p *PostgresClient) GetJob(ctx context.Context, documentID string) (*JobRecord, error) {
	query := `
		SELECT document_id, filename, status, page_count, failed_pages,
		       COALESCE(confidence, 0), COALESCE(processing_time_ms, 0),
		       COALESCE(error_code, ''), COALESCE(error_message, ''),
		       result, created_at, updated_at
		FROM extraction_jobs
		WHERE document_id = $1::uuid
	`

	rec := &JobRecord{}
	var result []byte
	err := p.db.QueryRowContext(ctx, query, documentID).Scan(
		&rec.DocumentID,
		&rec.Filename,
		&rec.Status,
		&rec.PageCount,
		&rec.FailedPages,
		&rec.Confidence,
		&rec.ProcessingTimeMs,
		&rec.ErrorCode,
		&rec.ErrorMessage,
		&result,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job %s not found", documentID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", documentID, err)
	}
	rec.Result = result

	return rec, nil
}

// Ping verifies database connectivity.
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection pool.
func (p *PostgresClient) Close() error {
	return p.db.Close()
}
