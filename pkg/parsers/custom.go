package parsers

import "github.com/healthtrack/platform/pkg/health"

var customTypes = map[string]vendorType{
	"steps":      {metric: health.MetricActivity, activity: health.ActivitySteps, unit: "steps"},
	"step_count": {metric: health.MetricActivity, activity: health.ActivitySteps, unit: "steps"},
	"distance":   {metric: health.MetricActivity, activity: health.ActivityDistance, unit: "meters"},
	"calories":   {metric: health.MetricActivity, activity: health.ActivityCalories, unit: "kcal"},
	"workout":    {metric: health.MetricActivity, activity: health.ActivityWorkout, unit: "minutes"},
	"heart_rate": {metric: health.MetricHeartRate, unit: "bpm"},
	"weight":     {metric: health.MetricWeight, unit: "kg"},
	"sleep":      {metric: health.MetricSleep, unit: "minutes"},
}

// NewCustomParser reads a top-level JSON array or a CSV whose fields are
// renamed through Input.Mapping before classification.
func NewCustomParser(opts Options) Parser {
	return &vendorParser{opts: opts.withDefaults(), format: vendorFormat{
		source:    health.SourceCustom,
		acceptCSV: true,
		types:     customTypes,
		extract:   customPoint,
	}}
}

func customPoint(in Input, obj map[string]interface{}) point {
	mapping := in.Mapping
	if len(mapping) == 0 {
		mapping = DefaultFieldMapping()
	}
	mapped := mapping.apply(obj)
	return point{
		dataType:  stringOf(mapped[FieldDataType]),
		value:     mapped[FieldValue],
		unit:      stringOf(mapped[FieldUnit]),
		timestamp: mapped[FieldTimestamp],
	}
}
