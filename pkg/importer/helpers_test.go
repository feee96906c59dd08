package importer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/healthtrack/platform/pkg/health"
	"github.com/healthtrack/platform/pkg/parsers"
	"github.com/healthtrack/platform/pkg/storage"
	"github.com/stretchr/testify/require"
)

type progressUpdate struct {
	jobID   string
	status  health.ImportStatus
	records int64
}

type fakeProgress struct {
	mu      sync.Mutex
	updates []progressUpdate
	deleted []string
}

func (f *fakeProgress) Delete(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, jobID)
	return nil
}

func (f *fakeProgress) Update(_ context.Context, jobID string, status health.ImportStatus, records int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, progressUpdate{jobID: jobID, status: status, records: records})
	return nil
}

func (f *fakeProgress) Get(_ context.Context, jobID string) (*health.Progress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.updates) - 1; i >= 0; i-- {
		if u := f.updates[i]; u.jobID == jobID {
			return &health.Progress{JobID: jobID, Status: u.status, RecordsProcessed: u.records}, nil
		}
	}
	return nil, os.ErrNotExist
}

type publishedEvent struct {
	eventType string
	data      map[string]interface{}
}

type fakeEvents struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (f *fakeEvents) PublishEvent(_ context.Context, eventType, _ string, data map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, publishedEvent{eventType: eventType, data: data})
	return nil
}

func (f *fakeEvents) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		out = append(out, e.eventType)
	}
	return out
}

// hookStore lets a test intercept commits on top of a MemoryStore.
type hookStore struct {
	*storage.MemoryStore
	beforeInsert    func(ctx context.Context, records []health.Record) error
	beforeIncrement func(ctx context.Context, jobID string, delta int64) error
}

func (s *hookStore) IncrementRecordsProcessed(ctx context.Context, jobID string, delta int64) error {
	if s.beforeIncrement != nil {
		if err := s.beforeIncrement(ctx, jobID, delta); err != nil {
			return err
		}
	}
	return s.MemoryStore.IncrementRecordsProcessed(ctx, jobID, delta)
}

func (s *hookStore) BulkInsert(ctx context.Context, records []health.Record) error {
	if s.beforeInsert != nil {
		if err := s.beforeInsert(ctx, records); err != nil {
			return err
		}
	}
	return s.MemoryStore.BulkInsert(ctx, records)
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	store    Store
	progress *fakeProgress
	events   *fakeEvents
	root     string
	svc      *Service
}

func newHarness(t *testing.T, store Store, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		store:    store,
		progress: &fakeProgress{},
		events:   &fakeEvents{},
		root:     filepath.Join(t.TempDir(), "uploads"),
	}
	validator := NewValidator([]string{"zip", "xml", "csv", "json"}, nil, parsers.DefaultMappingProfiles())
	cfg := Config{
		Writer:       WriterConfig{BatchSize: 2, Retries: 1},
		ParseBudget:  280 * time.Second,
		ParseReserve: 10 * time.Second,
	}
	opts = append([]Option{WithProgress(h.progress), WithEvents(h.events)}, opts...)
	h.svc = NewService(store, parsers.NewRegistry(parsers.Options{BatchSize: 2}), validator, NewStaging(h.root), cfg, opts...)
	return h
}

func (h *harness) upload(t *testing.T, source, fileName, body string) (*health.ImportJob, error) {
	t.Helper()
	return h.svc.ProcessUpload(context.Background(), UploadRequest{
		UserID:     42,
		DataSource: source,
		FileName:   fileName,
		Body:       strings.NewReader(body),
	})
}

// requireStagingEmpty asserts no upload artifacts survive the import.
func (h *harness) requireStagingEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.root)
	if os.IsNotExist(err) {
		return
	}
	require.NoError(t, err)
	require.Empty(t, entries)
}

func countsFor(t *testing.T, store Store, jobID string) map[health.Metric]int64 {
	t.Helper()
	counter, ok := store.(interface {
		CountRecords(ctx context.Context, jobID string) (map[health.Metric]int64, error)
	})
	require.True(t, ok)
	counts, err := counter.CountRecords(context.Background(), jobID)
	require.NoError(t, err)
	return counts
}
