package health

import "time"

// Metric is one of the four persisted record kinds.
type Metric string

const (
	MetricActivity  Metric = "activity"
	MetricHeartRate Metric = "heart_rate"
	MetricSleep     Metric = "sleep"
	MetricWeight    Metric = "weight"
)

// AllMetrics is the order Apple Health exports are processed in.
func AllMetrics() []Metric {
	return []Metric{MetricActivity, MetricHeartRate, MetricSleep, MetricWeight}
}

// Label is the human readable name used in job error messages.
func (m Metric) Label() string {
	switch m {
	case MetricHeartRate:
		return "heart rate"
	case "":
		return "unclassified"
	default:
		return string(m)
	}
}

const (
	ActivitySteps        = "steps"
	ActivityDistance     = "distance"
	ActivityCalories     = "calories"
	ActivityWorkout      = "workout"
	ActivityDailySummary = "daily_summary"
)

// MaxPlausibleSleepMinutes is the upper bound read paths use to hide
// implausible nights. Ingestion stores the value regardless.
const MaxPlausibleSleepMinutes = 720

// Owner ties a record to the user and the import that created it.
type Owner struct {
	UserID      int64
	ImportJobID string
}

// Record is the normalized union of WeightRecord, HeartRateRecord,
// ActivityRecord and SleepRecord.
type Record interface {
	Metric() Metric
	JobID() string
}

type WeightRecord struct {
	ID          uint      `json:"-" gorm:"primaryKey;column:id"`
	UserID      int64     `json:"user_id" gorm:"column:user_id;index"`
	ImportJobID string    `json:"import_job_id" gorm:"column:import_job_id;index"`
	Value       float64   `json:"value" gorm:"column:value"`
	Unit        string    `json:"unit" gorm:"column:unit"`
	Timestamp   time.Time `json:"timestamp" gorm:"column:timestamp"`
	Source      string    `json:"source" gorm:"column:source"`
}

func (WeightRecord) TableName() string { return "weights" }
func (*WeightRecord) Metric() Metric   { return MetricWeight }
func (r *WeightRecord) JobID() string  { return r.ImportJobID }

type HeartRateRecord struct {
	ID          uint      `json:"-" gorm:"primaryKey;column:id"`
	UserID      int64     `json:"user_id" gorm:"column:user_id;index"`
	ImportJobID string    `json:"import_job_id" gorm:"column:import_job_id;index"`
	Value       float64   `json:"value" gorm:"column:value"`
	Unit        string    `json:"unit" gorm:"column:unit"`
	Timestamp   time.Time `json:"timestamp" gorm:"column:timestamp"`
	Source      string    `json:"source" gorm:"column:source"`
}

func (HeartRateRecord) TableName() string { return "heart_rates" }
func (*HeartRateRecord) Metric() Metric   { return MetricHeartRate }
func (r *HeartRateRecord) JobID() string  { return r.ImportJobID }

type ActivityRecord struct {
	ID            uint       `json:"-" gorm:"primaryKey;column:id"`
	UserID        int64      `json:"user_id" gorm:"column:user_id;index"`
	ImportJobID   string     `json:"import_job_id" gorm:"column:import_job_id;index"`
	ActivityType  string     `json:"activity_type" gorm:"column:activity_type"`
	Subtype       string     `json:"subtype,omitempty" gorm:"column:subtype"`
	Value         float64    `json:"value" gorm:"column:value"`
	Unit          string     `json:"unit" gorm:"column:unit"`
	Timestamp     time.Time  `json:"timestamp" gorm:"column:timestamp"`
	EndTime       *time.Time `json:"end_time,omitempty" gorm:"column:end_time"`
	TotalSteps    *float64   `json:"total_steps,omitempty" gorm:"column:total_steps"`
	TotalDistance *float64   `json:"total_distance,omitempty" gorm:"column:total_distance"`
	Calories      *float64   `json:"calories,omitempty" gorm:"column:calories"`
	Source        string     `json:"source" gorm:"column:source"`
	Device        string     `json:"device,omitempty" gorm:"column:device"`
}

func (ActivityRecord) TableName() string { return "activities" }
func (*ActivityRecord) Metric() Metric   { return MetricActivity }
func (r *ActivityRecord) JobID() string  { return r.ImportJobID }

// SleepRecord durations are minutes. Stage durations are reported
// independently of TotalDuration and need not add up to it.
type SleepRecord struct {
	ID            uint      `json:"-" gorm:"primaryKey;column:id"`
	UserID        int64     `json:"user_id" gorm:"column:user_id;index"`
	ImportJobID   string    `json:"import_job_id" gorm:"column:import_job_id;index"`
	TotalDuration float64   `json:"total_duration" gorm:"column:total_duration"`
	DeepSleep     float64   `json:"deep_sleep" gorm:"column:deep_sleep"`
	LightSleep    float64   `json:"light_sleep" gorm:"column:light_sleep"`
	RemSleep      float64   `json:"rem_sleep" gorm:"column:rem_sleep"`
	Awake         float64   `json:"awake" gorm:"column:awake"`
	StartTime     time.Time `json:"start_time" gorm:"column:start_time"`
	EndTime       time.Time `json:"end_time" gorm:"column:end_time"`
	Source        string    `json:"source" gorm:"column:source"`
	Unit          string    `json:"unit" gorm:"column:unit"`
}

func (SleepRecord) TableName() string { return "sleeps" }
func (*SleepRecord) Metric() Metric   { return MetricSleep }
func (r *SleepRecord) JobID() string  { return r.ImportJobID }

// Plausible reports whether the night is short enough to show on
// dashboards.
func (r *SleepRecord) Plausible() bool {
	return r.TotalDuration <= MaxPlausibleSleepMinutes
}
