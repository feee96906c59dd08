package importer

import (
	"context"
	"errors"
	"time"

	"github.com/healthtrack/platform/pkg/common/logger"
	"github.com/healthtrack/platform/pkg/health"
	"github.com/healthtrack/platform/pkg/observability/metrics"
	"github.com/sirupsen/logrus"
)

const sampleSize = 5

// RecordSink is the part of the store the writer commits through.
type RecordSink interface {
	BulkInsert(ctx context.Context, records []health.Record) error
	IncrementRecordsProcessed(ctx context.Context, jobID string, delta int64) error
}

type ProgressTracker interface {
	Update(ctx context.Context, jobID string, status health.ImportStatus, recordsProcessed int64) error
}

type WriterConfig struct {
	BatchSize  int
	Retries    int
	RetryDelay time.Duration
}

func (c WriterConfig) withDefaults() WriterConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 10000
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	return c
}

type WriterStats struct {
	Batches     int
	LostBatches int
	Committed   int64
	LostRecords int64
	PerMetric   map[health.Metric]int64
	LastError   error

	// Uncounted is how many committed records the job counter failed to
	// absorb; CounterError is the last such failure.
	Uncounted    int64
	CounterError error
}

// BatchWriter commits normalized records for one job in bounded batches.
// A batch that keeps failing is dropped and counted; later batches still
// commit.
type BatchWriter struct {
	sink     RecordSink
	jobID    string
	cfg      WriterConfig
	progress ProgressTracker
	log      *logrus.Entry
	sleep    func(ctx context.Context, d time.Duration) error

	pending []health.Record
	sample  []health.Record
	stats   WriterStats
}

func NewBatchWriter(sink RecordSink, jobID string, cfg WriterConfig, progress ProgressTracker) *BatchWriter {
	return &BatchWriter{
		sink:     sink,
		jobID:    jobID,
		cfg:      cfg.withDefaults(),
		progress: progress,
		log:      logger.WithField("import_id", jobID),
		sleep:    sleepContext,
		stats:    WriterStats{PerMetric: make(map[health.Metric]int64)},
	}
}

// Write queues records and commits every full batch. It only fails when
// ctx is done.
func (w *BatchWriter) Write(ctx context.Context, records []health.Record) error {
	w.pending = append(w.pending, records...)
	for len(w.pending) >= w.cfg.BatchSize {
		batch := w.pending[:w.cfg.BatchSize:w.cfg.BatchSize]
		w.pending = w.pending[w.cfg.BatchSize:]
		if err := w.commit(ctx, batch); err != nil {
			return err
		}
	}
	if len(w.pending) == 0 {
		w.pending = nil
	}
	return nil
}

// Flush commits whatever is queued.
func (w *BatchWriter) Flush(ctx context.Context) error {
	if len(w.pending) == 0 {
		return nil
	}
	batch := w.pending
	w.pending = nil
	return w.commit(ctx, batch)
}

func (w *BatchWriter) Stats() WriterStats {
	s := w.stats
	s.PerMetric = make(map[health.Metric]int64, len(w.stats.PerMetric))
	for m, n := range w.stats.PerMetric {
		s.PerMetric[m] = n
	}
	return s
}

// Sample returns up to five of the first committed records.
func (w *BatchWriter) Sample() []health.Record {
	return append([]health.Record(nil), w.sample...)
}

func (w *BatchWriter) commit(ctx context.Context, batch []health.Record) error {
	w.stats.Batches++
	seq := w.stats.Batches
	log := w.log.WithFields(logrus.Fields{"batch": seq, "records": len(batch)})

	var err error
	attempts := w.cfg.Retries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		err = w.sink.BulkInsert(ctx, batch)
		if err == nil {
			break
		}
		log.WithError(err).WithField("attempt", attempt).Warn("batch commit failed")
		if attempt < attempts {
			if sleepErr := w.sleep(ctx, w.cfg.RetryDelay*time.Duration(attempt)); sleepErr != nil {
				return sleepErr
			}
		}
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		w.stats.LostBatches++
		w.stats.LostRecords += int64(len(batch))
		w.stats.LastError = err
		metrics.IncLostBatch()
		log.WithError(err).Error("batch dropped after retries")
		return nil
	}

	w.stats.Committed += int64(len(batch))
	counts := make(map[health.Metric]int, 1)
	for _, rec := range batch {
		counts[rec.Metric()]++
	}
	for m, n := range counts {
		w.stats.PerMetric[m] += int64(n)
		metrics.AddRecords(string(m), n)
	}
	for i := 0; i < len(batch) && len(w.sample) < sampleSize; i++ {
		w.sample = append(w.sample, batch[i])
	}

	if err := w.incrementCounter(ctx, int64(len(batch))); err != nil {
		w.stats.Uncounted += int64(len(batch))
		w.stats.CounterError = err
		log.WithError(err).Error("failed to advance records processed")
	}
	if w.progress != nil {
		if err := w.progress.Update(ctx, w.jobID, health.StatusProcessing, w.stats.Committed); err != nil {
			log.WithError(err).Warn("failed to publish progress")
		}
	}
	log.Debug("batch committed")
	return nil
}

func (w *BatchWriter) incrementCounter(ctx context.Context, delta int64) error {
	var err error
	attempts := w.cfg.Retries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = w.sink.IncrementRecordsProcessed(ctx, w.jobID, delta); err == nil {
			return nil
		}
		if errors.Is(err, health.ErrJobNotFound) || ctx.Err() != nil {
			return err
		}
		if attempt < attempts {
			if sleepErr := w.sleep(ctx, w.cfg.RetryDelay*time.Duration(attempt)); sleepErr != nil {
				return sleepErr
			}
		}
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
