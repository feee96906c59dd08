package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/healthtrack/platform/pkg/common/logger"
	"github.com/healthtrack/platform/pkg/common/models"
	"github.com/healthtrack/platform/pkg/health"
	"github.com/healthtrack/platform/pkg/normalizer"
	"github.com/healthtrack/platform/pkg/observability/metrics"
	"github.com/healthtrack/platform/pkg/parsers"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

const eventSource = "import-service"

// Store is the persistence contract the orchestrator runs against.
type Store interface {
	RecordSink
	CreateImportJob(ctx context.Context, userID int64, source health.DataSource, fileName string) (*health.ImportJob, error)
	SetTerminalStatus(ctx context.Context, jobID string, update health.TerminalUpdate) error
	DeleteImportJobCascade(ctx context.Context, jobID string) error
	GetImportJob(ctx context.Context, jobID string) (*health.ImportJob, error)
	ListStaleProcessing(ctx context.Context, before time.Time) ([]health.ImportJob, error)
}

type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

type Config struct {
	Writer            WriterConfig
	ParseBudget       time.Duration
	ParseReserve      time.Duration
	TimeoutCheckEvery int
}

type UploadRequest struct {
	UserID         int64
	DataSource     string
	FileName       string
	Body           io.Reader
	FieldMapping   parsers.FieldMapping
	MappingProfile string
}

type Service struct {
	store      Store
	registry   *parsers.Registry
	validator  *Validator
	staging    *Staging
	cfg        Config
	normalizer normalizer.Normalizer
	progress   ProgressTracker
	events     EventPublisher
	now        func() time.Time
}

type Option func(*Service)

func WithProgress(p ProgressTracker) Option {
	return func(s *Service) { s.progress = p }
}

func WithEvents(e EventPublisher) Option {
	return func(s *Service) { s.events = e }
}

func WithNormalizer(n normalizer.Normalizer) Option {
	return func(s *Service) { s.normalizer = n }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, registry *parsers.Registry, validator *Validator, staging *Staging, cfg Config, opts ...Option) *Service {
	s := &Service{
		store:      store,
		registry:   registry,
		validator:  validator,
		staging:    staging,
		cfg:        cfg,
		normalizer: normalizer.Default,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// run is everything one import produced before its terminal write.
type run struct {
	report *parsers.Report
	stats  WriterStats
	sample []health.Record
	err    error
}

// ProcessUpload validates, stages, parses and commits one upload, then
// closes the job. Cancellation of ctx is ignored. The returned job reflects the terminal state even when
// an error is returned, except for validation failures that happen before
// a job exists.
func (s *Service) ProcessUpload(ctx context.Context, req UploadRequest) (*health.ImportJob, error) {
	// Imports run to completion once accepted; only the parse budget ends
	// them early, never a dropped client.
	ctx = context.WithoutCancel(ctx)
	if req.UserID <= 0 {
		return nil, ErrMissingUser
	}
	source, err := s.validator.Validate(req.FileName, req.DataSource)
	if err != nil {
		return nil, err
	}
	mapping, err := s.validator.ResolveMapping(source, req.FieldMapping, req.MappingProfile)
	if err != nil {
		return nil, err
	}
	parser, err := s.registry.For(source)
	if err != nil {
		return nil, health.NewFileValidationError("%v", err)
	}

	job, err := s.store.CreateImportJob(ctx, req.UserID, source, SanitizeFileName(req.FileName))
	if err != nil {
		return nil, health.NewDataImportError("", fmt.Errorf("creating import job: %w", err))
	}
	started := s.now()
	log := logger.WithFields(logrus.Fields{
		"import_id":   job.ID,
		"user_id":     job.UserID,
		"data_source": source,
	})
	log.WithField("file_name", job.FileName).Info("import started")
	s.trackProgress(ctx, log, job.ID, health.StatusProcessing, 0)
	s.publish(ctx, log, models.EventImportStarted, job)

	res := s.execute(ctx, log, job, req.Body, parser, mapping)
	return s.finalize(ctx, log, job, res, started)
}

func (s *Service) execute(ctx context.Context, log *logrus.Entry, job *health.ImportJob, body io.Reader, parser parsers.Parser, mapping parsers.FieldMapping) (res run) {
	owner := health.Owner{UserID: job.UserID, ImportJobID: job.ID}
	writer := NewBatchWriter(s.store, job.ID, s.cfg.Writer, s.progress)

	var staged *StagedFile
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("import panicked")
			res.err = fmt.Errorf("unexpected failure: %v", r)
		}
		if err := s.staging.Cleanup(staged); err != nil {
			log.WithError(err).Warn("failed to clean up staging")
		}
		res.stats = writer.Stats()
		res.sample = writer.Sample()
	}()

	var err error
	staged, err = s.staging.Save(owner, job.FileName, body)
	if err != nil {
		res.err = fmt.Errorf("staging upload: %w", err)
		return res
	}

	budget := parsers.NewBudget(s.cfg.ParseBudget, s.cfg.ParseReserve, s.now)
	if s.cfg.TimeoutCheckEvery > 0 {
		budget.CheckInterval = s.cfg.TimeoutCheckEvery
	}
	in := parsers.Input{
		Path:       staged.Path,
		Owner:      owner,
		Mapping:    mapping,
		Budget:     budget,
		WorkDir:    staged.WorkDir(),
		Normalizer: s.normalizer,
	}

	res.report, res.err = parser.Parse(ctx, in, writer.Write)
	if res.err == nil {
		res.err = writer.Flush(ctx)
	}
	return res
}

func (s *Service) finalize(ctx context.Context, log *logrus.Entry, job *health.ImportJob, res run, started time.Time) (*health.ImportJob, error) {
	status, message, retErr := decide(job.ID, res)

	update := health.TerminalUpdate{
		Status:       status,
		ErrorMessage: message,
		CompletedAt:  s.now().UTC(),
		SampleData:   sampleJSON(log, res.sample),
	}

	// The terminal write must land even if the request was cancelled.
	bg := context.WithoutCancel(ctx)
	if err := s.store.SetTerminalStatus(bg, job.ID, update); err != nil {
		log.WithError(err).Error("failed to record terminal status")
		return job, health.NewDataImportError(job.ID, fmt.Errorf("recording terminal status: %w", err))
	}

	final, err := s.store.GetImportJob(bg, job.ID)
	if err != nil {
		final = job
		final.Status = update.Status
		final.ErrorMessage = update.ErrorMessage
		final.CompletedAt = &update.CompletedAt
		final.SampleData = update.SampleData
		final.RecordsProcessed = res.stats.Committed
	}

	s.trackProgress(bg, log, job.ID, status, final.RecordsProcessed)
	s.publish(bg, log, models.EventImportCompleted, final)
	metrics.ObserveImport(string(status), string(job.DataSource), s.now().Sub(started))
	if res.report != nil {
		for _, out := range res.report.Outcomes() {
			metrics.AddSkipped(string(out.Metric), out.Skipped)
		}
	}

	fields := logrus.Fields{
		"status":       status,
		"records":      final.RecordsProcessed,
		"lost_batches": res.stats.LostBatches,
		"duration":     s.now().Sub(started).String(),
	}
	if message != "" {
		fields["error_message"] = message
	}
	log.WithFields(fields).Info("import finished")

	return final, retErr
}

// decide maps what a run produced onto the terminal status, the message
// stored on the job, and the error surfaced to the caller.
func decide(jobID string, res run) (health.ImportStatus, string, error) {
	committed := res.stats.Committed
	problems := describe(res)

	if res.err != nil {
		if committed == 0 {
			if health.IsFileValidationError(res.err) {
				return health.StatusFailed, res.err.Error(), res.err
			}
			reason := res.err
			return health.StatusFailed, reason.Error(), health.NewDataImportError(jobID, reason)
		}
		problems = append(problems, fmt.Sprintf("import stopped after %d records: %v", committed, res.err))
		return health.StatusPartial, strings.Join(problems, "; "), nil
	}

	if committed == 0 {
		var reason error
		switch {
		case len(problems) == 0:
			reason = errors.New("no records found in upload")
		case res.report != nil && res.report.Interrupted != nil:
			reason = fmt.Errorf("no records imported: %s: %w", strings.Join(problems, "; "), res.report.Interrupted)
		default:
			reason = fmt.Errorf("no records imported: %s", strings.Join(problems, "; "))
		}
		return health.StatusFailed, reason.Error(), health.NewDataImportError(jobID, reason)
	}

	if len(problems) > 0 {
		return health.StatusPartial, strings.Join(problems, "; "), nil
	}
	return health.StatusSuccess, "", nil
}

func describe(res run) []string {
	var problems []string
	if res.report != nil {
		for _, out := range res.report.Incomplete() {
			if out.State == parsers.StatePending {
				continue
			}
			problems = append(problems, fmt.Sprintf("%s: %s", out.Metric.Label(), out.Reason))
		}
		if res.report.Interrupted != nil && len(problems) == 0 {
			problems = append(problems, fmt.Sprintf("interrupted: %v", res.report.Interrupted))
		}
	}
	if res.stats.LostBatches > 0 {
		problems = append(problems, fmt.Sprintf("%d of %d batches (%d records) failed to commit: %v",
			res.stats.LostBatches, res.stats.Batches, res.stats.LostRecords, res.stats.LastError))
	}
	if res.stats.Uncounted > 0 {
		problems = append(problems, fmt.Sprintf("records processed counter is missing %d committed records: %v",
			res.stats.Uncounted, res.stats.CounterError))
	}
	return problems
}

func sampleJSON(log *logrus.Entry, sample []health.Record) datatypes.JSON {
	if len(sample) == 0 {
		return nil
	}
	raw, err := json.Marshal(sample)
	if err != nil {
		log.WithError(err).Warn("failed to encode sample data")
		return nil
	}
	return datatypes.JSON(raw)
}

// Status returns the job, preferring the live counter from the progress
// cache while the job is still processing.
func (s *Service) Status(ctx context.Context, jobID string) (*health.ImportJob, error) {
	job, err := s.store.GetImportJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.IsTerminal() {
		return job, nil
	}
	if reader, ok := s.progress.(progressReader); ok {
		if p, err := reader.Get(ctx, jobID); err == nil && p.RecordsProcessed > job.RecordsProcessed {
			job.RecordsProcessed = p.RecordsProcessed
		}
	}
	return job, nil
}

type progressReader interface {
	Get(ctx context.Context, jobID string) (*health.Progress, error)
}

type progressDeleter interface {
	Delete(ctx context.Context, jobID string) error
}

// DeleteImport removes the job and every record it created.
func (s *Service) DeleteImport(ctx context.Context, jobID string) error {
	job, err := s.store.GetImportJob(ctx, jobID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteImportJobCascade(ctx, jobID); err != nil {
		return err
	}
	if d, ok := s.progress.(progressDeleter); ok {
		if err := d.Delete(ctx, jobID); err != nil {
			logger.WithField("import_id", jobID).WithError(err).Warn("failed to drop import progress")
		}
	}
	logger.WithFields(logrus.Fields{
		"import_id":   job.ID,
		"user_id":     job.UserID,
		"data_source": job.DataSource,
	}).Info("import deleted")
	s.publish(ctx, logger.WithField("import_id", job.ID), models.EventImportDeleted, job)
	return nil
}

func (s *Service) trackProgress(ctx context.Context, log *logrus.Entry, jobID string, status health.ImportStatus, records int64) {
	if s.progress == nil {
		return
	}
	if err := s.progress.Update(ctx, jobID, status, records); err != nil {
		log.WithError(err).Warn("failed to publish progress")
	}
}

func (s *Service) publish(ctx context.Context, log *logrus.Entry, eventType string, job *health.ImportJob) {
	if s.events == nil {
		return
	}
	event := models.ImportEvent{
		JobID:            job.ID,
		UserID:           job.UserID,
		DataSource:       string(job.DataSource),
		Status:           string(job.Status),
		RecordsProcessed: job.RecordsProcessed,
		ErrorMessage:     job.ErrorMessage,
	}
	if err := s.events.PublishEvent(ctx, eventType, eventSource, event.Map()); err != nil {
		log.WithError(err).WithField("event_type", eventType).Warn("failed to publish import event")
	}
}
