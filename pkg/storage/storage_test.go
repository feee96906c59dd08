package storage_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/healthtrack/platform/pkg/health"
	"github.com/healthtrack/platform/pkg/storage"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type store interface {
	CreateImportJob(ctx context.Context, userID int64, source health.DataSource, fileName string) (*health.ImportJob, error)
	IncrementRecordsProcessed(ctx context.Context, jobID string, delta int64) error
	SetTerminalStatus(ctx context.Context, jobID string, update health.TerminalUpdate) error
	BulkInsert(ctx context.Context, records []health.Record) error
	DeleteImportJobCascade(ctx context.Context, jobID string) error
	GetImportJob(ctx context.Context, jobID string) (*health.ImportJob, error)
	ListStaleProcessing(ctx context.Context, before time.Time) ([]health.ImportJob, error)
	CountRecords(ctx context.Context, jobID string) (map[health.Metric]int64, error)
}

func newSQLiteRepository(t *testing.T) *storage.Repository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "health.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	repo := storage.NewRepository(db)
	require.NoError(t, repo.AutoMigrate())
	return repo
}

func stores(t *testing.T) map[string]store {
	return map[string]store{
		"memory": storage.NewMemoryStore(),
		"gorm":   newSQLiteRepository(t),
	}
}

func recordsFor(job *health.ImportJob) []health.Record {
	ts := time.Date(2023, 5, 1, 8, 0, 0, 0, time.UTC)
	uid, jid := job.UserID, job.ID
	steps := 1200.0
	return []health.Record{
		&health.WeightRecord{UserID: uid, ImportJobID: jid, Value: 70, Unit: "kg", Timestamp: ts, Source: "test"},
		&health.HeartRateRecord{UserID: uid, ImportJobID: jid, Value: 61, Unit: "bpm", Timestamp: ts, Source: "test"},
		&health.ActivityRecord{UserID: uid, ImportJobID: jid, ActivityType: health.ActivitySteps, Value: steps, Unit: "steps", Timestamp: ts, TotalSteps: &steps, Source: "test"},
		&health.ActivityRecord{UserID: uid, ImportJobID: jid, ActivityType: health.ActivityDistance, Value: 2.5, Unit: "km", Timestamp: ts, Source: "test"},
		&health.SleepRecord{UserID: uid, ImportJobID: jid, TotalDuration: 420, DeepSleep: 90, StartTime: ts, EndTime: ts.Add(7 * time.Hour), Source: "test", Unit: "minutes"},
	}
}

func TestStoreJobLifecycle(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			job, err := s.CreateImportJob(ctx, 42, health.SourceFitbit, "fitbit.json")
			require.NoError(t, err)
			require.NotEmpty(t, job.ID)
			require.Equal(t, health.StatusProcessing, job.Status)
			require.Nil(t, job.CompletedAt)

			require.NoError(t, s.IncrementRecordsProcessed(ctx, job.ID, 3))
			require.NoError(t, s.IncrementRecordsProcessed(ctx, job.ID, 2))
			require.NoError(t, s.IncrementRecordsProcessed(ctx, job.ID, 0))
			require.ErrorIs(t, s.IncrementRecordsProcessed(ctx, job.ID, -1), health.ErrNegativeDelta)

			got, err := s.GetImportJob(ctx, job.ID)
			require.NoError(t, err)
			require.EqualValues(t, 5, got.RecordsProcessed)
			require.Nil(t, got.CompletedAt)

			require.Error(t, s.SetTerminalStatus(ctx, job.ID, health.TerminalUpdate{Status: health.StatusProcessing, CompletedAt: time.Now()}))

			done := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
			require.NoError(t, s.SetTerminalStatus(ctx, job.ID, health.TerminalUpdate{
				Status:       health.StatusPartial,
				ErrorMessage: "heart rate: no records found",
				CompletedAt:  done,
				SampleData:   datatypes.JSON(`[{"value": 1}]`),
			}))
			err = s.SetTerminalStatus(ctx, job.ID, health.TerminalUpdate{Status: health.StatusSuccess, CompletedAt: time.Now()})
			require.ErrorIs(t, err, health.ErrAlreadyTerminal)

			got, err = s.GetImportJob(ctx, job.ID)
			require.NoError(t, err)
			require.Equal(t, health.StatusPartial, got.Status)
			require.Equal(t, "heart rate: no records found", got.ErrorMessage)
			require.NotNil(t, got.CompletedAt)
			require.True(t, done.Equal(*got.CompletedAt))
			require.JSONEq(t, `[{"value": 1}]`, string(got.SampleData))

			_, err = s.GetImportJob(ctx, "missing")
			require.ErrorIs(t, err, health.ErrJobNotFound)
			require.ErrorIs(t, s.IncrementRecordsProcessed(ctx, "missing", 1), health.ErrJobNotFound)
			require.ErrorIs(t, s.SetTerminalStatus(ctx, "missing", health.TerminalUpdate{Status: health.StatusFailed, CompletedAt: done}), health.ErrJobNotFound)
		})
	}
}

func TestStoreCascadeDeleteRemovesOnlyThatJob(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			a, err := s.CreateImportJob(ctx, 1, health.SourceCustom, "a.csv")
			require.NoError(t, err)
			b, err := s.CreateImportJob(ctx, 1, health.SourceCustom, "b.csv")
			require.NoError(t, err)

			require.NoError(t, s.BulkInsert(ctx, recordsFor(a)))
			require.NoError(t, s.BulkInsert(ctx, recordsFor(b)))

			require.NoError(t, s.DeleteImportJobCascade(ctx, a.ID))

			countsA, err := s.CountRecords(ctx, a.ID)
			require.NoError(t, err)
			for m, n := range countsA {
				require.Zero(t, n, m)
			}
			countsB, err := s.CountRecords(ctx, b.ID)
			require.NoError(t, err)
			require.EqualValues(t, 1, countsB[health.MetricWeight])
			require.EqualValues(t, 1, countsB[health.MetricHeartRate])
			require.EqualValues(t, 2, countsB[health.MetricActivity])
			require.EqualValues(t, 1, countsB[health.MetricSleep])

			_, err = s.GetImportJob(ctx, a.ID)
			require.ErrorIs(t, err, health.ErrJobNotFound)
			require.ErrorIs(t, s.DeleteImportJobCascade(ctx, a.ID), health.ErrJobNotFound)
		})
	}
}

func TestStoreListStaleProcessing(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			running, err := s.CreateImportJob(ctx, 1, health.SourceAppleHealth, "export.zip")
			require.NoError(t, err)
			finished, err := s.CreateImportJob(ctx, 1, health.SourceAppleHealth, "export.xml")
			require.NoError(t, err)
			require.NoError(t, s.SetTerminalStatus(ctx, finished.ID, health.TerminalUpdate{Status: health.StatusSuccess, CompletedAt: time.Now()}))

			stale, err := s.ListStaleProcessing(ctx, time.Now().Add(time.Hour))
			require.NoError(t, err)
			require.Len(t, stale, 1)
			require.Equal(t, running.ID, stale[0].ID)

			stale, err = s.ListStaleProcessing(ctx, time.Now().Add(-time.Hour))
			require.NoError(t, err)
			require.Empty(t, stale)
		})
	}
}

func TestStoreBulkInsertRejectsUnknownRecord(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			job, err := s.CreateImportJob(ctx, 1, health.SourceCustom, "a.csv")
			require.NoError(t, err)
			batch := append(recordsFor(job), unknownRecord{})
			require.Error(t, s.BulkInsert(ctx, batch))

			counts, err := s.CountRecords(ctx, job.ID)
			require.NoError(t, err)
			for m, n := range counts {
				require.Zero(t, n, m)
			}
		})
	}
}

type unknownRecord struct{}

func (unknownRecord) Metric() health.Metric { return "blood_pressure" }
func (unknownRecord) JobID() string         { return "" }
