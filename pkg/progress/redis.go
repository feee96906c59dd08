package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/healthtrack/platform/pkg/health"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "import:progress:"

var ErrNotFound = errors.New("progress not found")

// RedisTracker mirrors the live counter of running imports so status
// polls do not hit the database.
type RedisTracker struct {
	client redis.Cmdable
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisTracker(client redis.Cmdable, ttl time.Duration) *RedisTracker {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisTracker{client: client, ttl: ttl, now: time.Now}
}

func Key(jobID string) string {
	return keyPrefix + jobID
}

func (t *RedisTracker) Update(ctx context.Context, jobID string, status health.ImportStatus, recordsProcessed int64) error {
	payload, err := json.Marshal(health.Progress{
		JobID:            jobID,
		Status:           status,
		RecordsProcessed: recordsProcessed,
		UpdatedAt:        t.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encoding progress: %w", err)
	}
	if err := t.client.Set(ctx, Key(jobID), payload, t.ttl).Err(); err != nil {
		return fmt.Errorf("storing progress: %w", err)
	}
	return nil
}

func (t *RedisTracker) Get(ctx context.Context, jobID string) (*health.Progress, error) {
	raw, err := t.client.Get(ctx, Key(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading progress: %w", err)
	}
	var p health.Progress
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decoding progress: %w", err)
	}
	return &p, nil
}

func (t *RedisTracker) Delete(ctx context.Context, jobID string) error {
	return t.client.Del(ctx, Key(jobID)).Err()
}
