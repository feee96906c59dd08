package models

import "time"

// Event bus envelope
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// Import lifecycle event types.
const (
	EventImportStarted   = "import.started"
	EventImportCompleted = "import.completed"
	EventImportDeleted   = "import.deleted"
	EventImportAbandoned = "import.abandoned"
)

// ImportEvent is the payload carried in Event.Data for import lifecycle
// events.
type ImportEvent struct {
	JobID            string `json:"job_id"`
	UserID           int64  `json:"user_id"`
	DataSource       string `json:"data_source"`
	Status           string `json:"status"`
	RecordsProcessed int64  `json:"records_processed"`
	ErrorMessage     string `json:"error_message,omitempty"`
}

// Map flattens e for Event.Data.
func (e ImportEvent) Map() map[string]interface{} {
	m := map[string]interface{}{
		"job_id":            e.JobID,
		"user_id":           e.UserID,
		"data_source":       e.DataSource,
		"status":            e.Status,
		"records_processed": e.RecordsProcessed,
	}
	if e.ErrorMessage != "" {
		m["error_message"] = e.ErrorMessage
	}
	return m
}
