/**
 * Redis status reporter
 *
 * Publishes job status transitions to Redis hashes so API-side consumers
 * can poll or stream progress without touching PostgreSQL.
 */

package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// statusTTL bounds how long status hashes linger after the last transition.
const statusTTL = 24 * time.Hour

// StatusReporter writes job status transitions to Redis.
type StatusReporter struct {
	client *redis.Client
}

// NewStatusReporter connects to Redis and verifies the connection.
func NewStatusReporter(redisURL string) (*StatusReporter, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &StatusReporter{client: client}, nil
}

// StatusKey returns the Redis key holding a document's status hash.
func StatusKey(documentID string) string {
	return fmt.Sprintf("docextract:status:%s", documentID)
}

// Report records a status transition for a document.
func (r *StatusReporter) Report(ctx context.Context, documentID, status string, fields map[string]interface{}) error {
	key := StatusKey(documentID)

	values := []interface{}{
		"status", status,
		"updatedAt", time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range fields {
		values = append(values, k, fmt.Sprintf("%v", v))
	}

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key, values...)
	pipe.Expire(ctx, key, statusTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write status for %s: %w", documentID, err)
	}

	return nil
}

// Get loads the current status hash for a document.
func (r *StatusReporter) Get(ctx context.Context, documentID string) (map[string]string, error) {
	values, err := r.client.HGetAll(ctx, StatusKey(documentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read status for %s: %w", documentID, err)
	}
	return values, nil
}

// Close releases the Redis connection.
func (r *StatusReporter) Close() error {
	return r.client.Close()
}
