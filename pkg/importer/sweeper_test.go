package importer

import (
	"context"
	"testing"
	"time"

	"github.com/healthtrack/platform/pkg/common/models"
	"github.com/healthtrack/platform/pkg/health"
	"github.com/healthtrack/platform/pkg/storage"
	"github.com/stretchr/testify/require"
)

func TestSweeperClosesOnlyStaleJobs(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	clock := newManualClock()
	store.SetClock(clock.Now)

	stale, err := store.CreateImportJob(ctx, 1, health.SourceAppleHealth, "export.zip")
	require.NoError(t, err)
	require.NoError(t, store.IncrementRecordsProcessed(ctx, stale.ID, 20000))

	clock.Advance(2 * time.Hour)
	fresh, err := store.CreateImportJob(ctx, 1, health.SourceAppleHealth, "export.zip")
	require.NoError(t, err)

	progress := &fakeProgress{}
	events := &fakeEvents{}
	sw := NewSweeper(store, time.Hour, progress, events)
	sw.now = clock.Now

	closed, err := sw.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, closed)

	got, err := store.GetImportJob(ctx, stale.ID)
	require.NoError(t, err)
	require.Equal(t, health.StatusFailed, got.Status)
	require.Contains(t, got.ErrorMessage, "abandoned")
	require.NotNil(t, got.CompletedAt)
	require.EqualValues(t, 20000, got.RecordsProcessed)

	got, err = store.GetImportJob(ctx, fresh.ID)
	require.NoError(t, err)
	require.Equal(t, health.StatusProcessing, got.Status)

	require.Equal(t, []string{models.EventImportAbandoned}, events.types())
	require.Equal(t, health.StatusFailed, progress.updates[0].status)

	closed, err = sw.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, closed)
}

func TestSweeperRunStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sw := NewSweeper(storage.NewMemoryStore(), time.Hour, nil, nil)
	require.NoError(t, sw.Run(ctx, time.Millisecond))
}
