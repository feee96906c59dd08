package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/healthtrack/platform/pkg/common/logger"
	"github.com/healthtrack/platform/pkg/common/models"
	"github.com/healthtrack/platform/pkg/health"
	"github.com/healthtrack/platform/pkg/observability/metrics"
	"github.com/sirupsen/logrus"
)

// Sweeper fails jobs that have been processing for longer than staleAfter.
// Such jobs belong to a worker that crashed before its terminal write.
type Sweeper struct {
	store      Store
	staleAfter time.Duration
	progress   ProgressTracker
	events     EventPublisher
	now        func() time.Time
}

func NewSweeper(store Store, staleAfter time.Duration, progress ProgressTracker, events EventPublisher) *Sweeper {
	return &Sweeper{store: store, staleAfter: staleAfter, progress: progress, events: events, now: time.Now}
}

// Sweep closes every stale job and returns how many it closed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.staleAfter)
	jobs, err := s.store.ListStaleProcessing(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("listing stale imports: %w", err)
	}

	closed := 0
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return closed, err
		}
		log := logger.WithFields(logrus.Fields{
			"import_id":   job.ID,
			"user_id":     job.UserID,
			"data_source": job.DataSource,
		})
		message := fmt.Sprintf("abandoned: still processing after %s with %d records committed", s.staleAfter, job.RecordsProcessed)
		err := s.store.SetTerminalStatus(ctx, job.ID, health.TerminalUpdate{
			Status:       health.StatusFailed,
			ErrorMessage: message,
			CompletedAt:  s.now().UTC(),
		})
		if errors.Is(err, health.ErrAlreadyTerminal) || errors.Is(err, health.ErrJobNotFound) {
			continue
		}
		if err != nil {
			log.WithError(err).Error("failed to close stale import")
			continue
		}

		closed++
		metrics.IncAbandoned()
		log.WithField("created_at", job.CreatedAt).Warn("stale import marked failed")
		if s.progress != nil {
			if err := s.progress.Update(ctx, job.ID, health.StatusFailed, job.RecordsProcessed); err != nil {
				log.WithError(err).Warn("failed to publish progress")
			}
		}
		if s.events != nil {
			event := models.ImportEvent{
				JobID:            job.ID,
				UserID:           job.UserID,
				DataSource:       string(job.DataSource),
				Status:           string(health.StatusFailed),
				RecordsProcessed: job.RecordsProcessed,
				ErrorMessage:     message,
			}
			if err := s.events.PublishEvent(ctx, models.EventImportAbandoned, eventSource, event.Map()); err != nil {
				log.WithError(err).Warn("failed to publish import event")
			}
		}
	}
	return closed, nil
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if n, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			logger.Log.WithError(err).Error("stale import sweep failed")
		} else if n > 0 {
			logger.Log.WithField("closed", n).Info("stale import sweep finished")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
