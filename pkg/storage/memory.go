package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/healthtrack/platform/pkg/health"
)

// MemoryStore keeps jobs and records in process. It backs local runs of
// importctl and the importer tests.
type MemoryStore struct {
	mu      sync.RWMutex
	jobs    map[string]*health.ImportJob
	records map[health.Metric][]health.Record
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:    make(map[string]*health.ImportJob),
		records: make(map[health.Metric][]health.Record),
		now:     time.Now,
	}
}

// SetClock overrides the creation timestamp source.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) CreateImportJob(_ context.Context, userID int64, source health.DataSource, fileName string) (*health.ImportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := &health.ImportJob{
		ID:         uuid.New().String(),
		UserID:     userID,
		DataSource: source,
		FileName:   fileName,
		Status:     health.StatusProcessing,
		CreatedAt:  s.now().UTC(),
	}
	s.jobs[job.ID] = job
	return cloneJob(job), nil
}

func (s *MemoryStore) IncrementRecordsProcessed(_ context.Context, jobID string, delta int64) error {
	if delta < 0 {
		return health.ErrNegativeDelta
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return health.ErrJobNotFound
	}
	job.RecordsProcessed += delta
	return nil
}

func (s *MemoryStore) SetTerminalStatus(_ context.Context, jobID string, update health.TerminalUpdate) error {
	if err := update.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return health.ErrJobNotFound
	}
	if job.Status != health.StatusProcessing {
		return health.ErrAlreadyTerminal
	}
	completed := update.CompletedAt.UTC()
	job.Status = update.Status
	job.ErrorMessage = update.ErrorMessage
	job.CompletedAt = &completed
	job.SampleData = update.SampleData
	return nil
}

// BulkInsert is all or nothing for the batch.
func (s *MemoryStore) BulkInsert(_ context.Context, records []health.Record) error {
	for _, rec := range records {
		switch rec.(type) {
		case *health.WeightRecord, *health.HeartRateRecord, *health.ActivityRecord, *health.SleepRecord:
		default:
			return fmt.Errorf("unsupported record type %T", rec)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		m := rec.Metric()
		s.records[m] = append(s.records[m], rec)
	}
	return nil
}

func (s *MemoryStore) DeleteImportJobCascade(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return health.ErrJobNotFound
	}
	for m, recs := range s.records {
		kept := recs[:0]
		for _, rec := range recs {
			if rec.JobID() != jobID {
				kept = append(kept, rec)
			}
		}
		s.records[m] = kept
	}
	delete(s.jobs, jobID)
	return nil
}

func (s *MemoryStore) GetImportJob(_ context.Context, jobID string) (*health.ImportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, health.ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (s *MemoryStore) ListStaleProcessing(_ context.Context, before time.Time) ([]health.ImportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var jobs []health.ImportJob
	for _, job := range s.jobs {
		if job.Status == health.StatusProcessing && job.CreatedAt.Before(before) {
			jobs = append(jobs, *cloneJob(job))
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs, nil
}

func (s *MemoryStore) CountRecords(_ context.Context, jobID string) (map[health.Metric]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[health.Metric]int64, 4)
	for _, m := range health.AllMetrics() {
		counts[m] = 0
	}
	for m, recs := range s.records {
		for _, rec := range recs {
			if rec.JobID() == jobID {
				counts[m]++
			}
		}
	}
	return counts, nil
}

// Records returns the stored records of one metric for jobID.
func (s *MemoryStore) Records(jobID string, m health.Metric) []health.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []health.Record
	for _, rec := range s.records[m] {
		if rec.JobID() == jobID {
			out = append(out, rec)
		}
	}
	return out
}

func cloneJob(job *health.ImportJob) *health.ImportJob {
	c := *job
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		c.CompletedAt = &t
	}
	if job.SampleData != nil {
		c.SampleData = append([]byte(nil), job.SampleData...)
	}
	return &c
}
