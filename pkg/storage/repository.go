package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/healthtrack/platform/pkg/health"
	"gorm.io/gorm"
)

// insertChunk keeps multi-row inserts under driver parameter limits.
const insertChunk = 500

// Repository is the gorm-backed store for import jobs and the four
// record tables.
type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(
		&health.ImportJob{},
		&health.WeightRecord{},
		&health.HeartRateRecord{},
		&health.ActivityRecord{},
		&health.SleepRecord{},
	)
}

func (r *Repository) CreateImportJob(ctx context.Context, userID int64, source health.DataSource, fileName string) (*health.ImportJob, error) {
	job := &health.ImportJob{
		ID:         uuid.New().String(),
		UserID:     userID,
		DataSource: source,
		FileName:   fileName,
		Status:     health.StatusProcessing,
		CreatedAt:  r.now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, fmt.Errorf("creating import job: %w", err)
	}
	return job, nil
}

// IncrementRecordsProcessed adds delta in the database so concurrent
// readers never see the counter move backwards.
func (r *Repository) IncrementRecordsProcessed(ctx context.Context, jobID string, delta int64) error {
	if delta < 0 {
		return health.ErrNegativeDelta
	}
	if delta == 0 {
		return nil
	}
	result := r.db.WithContext(ctx).Model(&health.ImportJob{}).
		Where("id = ?", jobID).
		Update("records_processed", gorm.Expr("records_processed + ?", delta))
	if result.Error != nil {
		return fmt.Errorf("incrementing records processed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return health.ErrJobNotFound
	}
	return nil
}

// SetTerminalStatus closes a job. The update only matches rows still in
// processing, so a second terminal write is rejected.
func (r *Repository) SetTerminalStatus(ctx context.Context, jobID string, update health.TerminalUpdate) error {
	if err := update.Validate(); err != nil {
		return err
	}
	completed := update.CompletedAt.UTC()
	result := r.db.WithContext(ctx).Model(&health.ImportJob{}).
		Where("id = ? AND status = ?", jobID, health.StatusProcessing).
		Updates(map[string]interface{}{
			"status":        update.Status,
			"error_message": update.ErrorMessage,
			"completed_at":  &completed,
			"sample_data":   update.SampleData,
		})
	if result.Error != nil {
		return fmt.Errorf("setting terminal status: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&health.ImportJob{}).Where("id = ?", jobID).Count(&count).Error; err != nil {
		return fmt.Errorf("checking import job: %w", err)
	}
	if count == 0 {
		return health.ErrJobNotFound
	}
	return health.ErrAlreadyTerminal
}

// BulkInsert writes one batch in a single transaction, grouped by table.
func (r *Repository) BulkInsert(ctx context.Context, records []health.Record) error {
	if len(records) == 0 {
		return nil
	}
	var (
		weights    []*health.WeightRecord
		heartRates []*health.HeartRateRecord
		activities []*health.ActivityRecord
		sleeps     []*health.SleepRecord
	)
	for _, rec := range records {
		switch v := rec.(type) {
		case *health.WeightRecord:
			weights = append(weights, v)
		case *health.HeartRateRecord:
			heartRates = append(heartRates, v)
		case *health.ActivityRecord:
			activities = append(activities, v)
		case *health.SleepRecord:
			sleeps = append(sleeps, v)
		default:
			return fmt.Errorf("unsupported record type %T", rec)
		}
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(weights) > 0 {
			if err := tx.CreateInBatches(weights, insertChunk).Error; err != nil {
				return fmt.Errorf("inserting weights: %w", err)
			}
		}
		if len(heartRates) > 0 {
			if err := tx.CreateInBatches(heartRates, insertChunk).Error; err != nil {
				return fmt.Errorf("inserting heart rates: %w", err)
			}
		}
		if len(activities) > 0 {
			if err := tx.CreateInBatches(activities, insertChunk).Error; err != nil {
				return fmt.Errorf("inserting activities: %w", err)
			}
		}
		if len(sleeps) > 0 {
			if err := tx.CreateInBatches(sleeps, insertChunk).Error; err != nil {
				return fmt.Errorf("inserting sleeps: %w", err)
			}
		}
		return nil
	})
}

// DeleteImportJobCascade removes the job and every record it created.
func (r *Repository) DeleteImportJobCascade(ctx context.Context, jobID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []interface{}{
			&health.WeightRecord{},
			&health.HeartRateRecord{},
			&health.ActivityRecord{},
			&health.SleepRecord{},
		} {
			if err := tx.Where("import_job_id = ?", jobID).Delete(model).Error; err != nil {
				return fmt.Errorf("deleting records: %w", err)
			}
		}
		result := tx.Where("id = ?", jobID).Delete(&health.ImportJob{})
		if result.Error != nil {
			return fmt.Errorf("deleting import job: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return health.ErrJobNotFound
		}
		return nil
	})
}

func (r *Repository) GetImportJob(ctx context.Context, jobID string) (*health.ImportJob, error) {
	var job health.ImportJob
	result := r.db.WithContext(ctx).First(&job, "id = ?", jobID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, health.ErrJobNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &job, nil
}

func (r *Repository) ListStaleProcessing(ctx context.Context, before time.Time) ([]health.ImportJob, error) {
	var jobs []health.ImportJob
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", health.StatusProcessing, before.UTC()).
		Order("created_at").
		Find(&jobs).Error
	return jobs, err
}

// CountRecords returns per-metric row counts for one job.
func (r *Repository) CountRecords(ctx context.Context, jobID string) (map[health.Metric]int64, error) {
	counts := make(map[health.Metric]int64, 4)
	for metric, model := range map[health.Metric]interface{}{
		health.MetricWeight:    &health.WeightRecord{},
		health.MetricHeartRate: &health.HeartRateRecord{},
		health.MetricActivity:  &health.ActivityRecord{},
		health.MetricSleep:     &health.SleepRecord{},
	} {
		var n int64
		if err := r.db.WithContext(ctx).Model(model).Where("import_job_id = ?", jobID).Count(&n).Error; err != nil {
			return nil, err
		}
		counts[metric] = n
	}
	return counts, nil
}
