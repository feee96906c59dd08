package progress

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/healthtrack/platform/pkg/health"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTracker(t *testing.T) (*RedisTracker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisTracker(client, time.Minute), mr
}

func TestUpdateAndGet(t *testing.T) {
	ctx := context.Background()
	tracker, mr := newTracker(t)

	require.NoError(t, tracker.Update(ctx, "job-1", health.StatusProcessing, 20000))
	require.NoError(t, tracker.Update(ctx, "job-1", health.StatusProcessing, 40000))

	p, err := tracker.Get(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, "job-1", p.JobID)
	require.Equal(t, health.StatusProcessing, p.Status)
	require.EqualValues(t, 40000, p.RecordsProcessed)
	require.Equal(t, time.Minute, mr.TTL(Key("job-1")))
}

func TestGetMissingAndExpired(t *testing.T) {
	ctx := context.Background()
	tracker, mr := newTracker(t)

	_, err := tracker.Get(ctx, "nope")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, tracker.Update(ctx, "job-2", health.StatusSuccess, 3))
	mr.FastForward(2 * time.Minute)
	_, err = tracker.Get(ctx, "job-2")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	tracker, _ := newTracker(t)
	require.NoError(t, tracker.Update(ctx, "job-3", health.StatusFailed, 0))
	require.NoError(t, tracker.Delete(ctx, "job-3"))
	_, err := tracker.Get(ctx, "job-3")
	require.ErrorIs(t, err, ErrNotFound)
}
