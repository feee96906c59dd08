package health

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

type DataSource string

const (
	SourceAppleHealth   DataSource = "apple_health"
	SourceGoogleFit     DataSource = "google_fit"
	SourceFitbit        DataSource = "fitbit"
	SourceSamsungHealth DataSource = "samsung_health"
	SourceCustom        DataSource = "custom"
)

// AllSources lists every data source a user may declare for an upload.
func AllSources() []DataSource {
	return []DataSource{SourceAppleHealth, SourceGoogleFit, SourceFitbit, SourceSamsungHealth, SourceCustom}
}

func ParseDataSource(raw string) (DataSource, error) {
	candidate := DataSource(strings.TrimSpace(strings.ToLower(raw)))
	for _, src := range AllSources() {
		if src == candidate {
			return src, nil
		}
	}
	return "", fmt.Errorf("unsupported data source %q", raw)
}

type ImportStatus string

const (
	StatusProcessing ImportStatus = "processing"
	StatusSuccess    ImportStatus = "success"
	StatusPartial    ImportStatus = "partial"
	StatusFailed     ImportStatus = "failed"
)

func (s ImportStatus) Valid() bool {
	switch s {
	case StatusProcessing, StatusSuccess, StatusPartial, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s ends the job lifecycle.
func (s ImportStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusPartial || s == StatusFailed
}

// ImportJob is the persisted lifecycle of one upload. Status leaves
// processing exactly once and RecordsProcessed only grows.
type ImportJob struct {
	ID               string         `json:"id" gorm:"primaryKey;column:id"`
	UserID           int64          `json:"user_id" gorm:"column:user_id;index"`
	DataSource       DataSource     `json:"data_source" gorm:"column:data_source"`
	FileName         string         `json:"file_name" gorm:"column:file_name"`
	Status           ImportStatus   `json:"status" gorm:"column:status;index"`
	ErrorMessage     string         `json:"error_message,omitempty" gorm:"column:error_message"`
	RecordsProcessed int64          `json:"records_processed" gorm:"column:records_processed"`
	SampleData       datatypes.JSON `json:"sample_data,omitempty" gorm:"column:sample_data"`
	CreatedAt        time.Time      `json:"created_at" gorm:"column:created_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty" gorm:"column:completed_at"`
}

func (ImportJob) TableName() string {
	return "import_jobs"
}

func (j *ImportJob) IsTerminal() bool {
	return j.Status.Terminal()
}

// TerminalUpdate is the single write that closes a job.
type TerminalUpdate struct {
	Status       ImportStatus
	ErrorMessage string
	CompletedAt  time.Time
	SampleData   datatypes.JSON
}

func (u TerminalUpdate) Validate() error {
	if !u.Status.Terminal() {
		return fmt.Errorf("status %q is not terminal", u.Status)
	}
	if u.CompletedAt.IsZero() {
		return fmt.Errorf("completed timestamp required")
	}
	return nil
}

// Progress is the polling view of a running job.
type Progress struct {
	JobID            string       `json:"job_id"`
	Status           ImportStatus `json:"status"`
	RecordsProcessed int64        `json:"records_processed"`
	UpdatedAt        time.Time    `json:"updated_at"`
}
