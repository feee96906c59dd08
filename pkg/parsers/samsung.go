package parsers

import "github.com/healthtrack/platform/pkg/health"

var samsungHealthTypes = map[string]vendorType{
	"step_count": {metric: health.MetricActivity, activity: health.ActivitySteps, unit: "steps"},
	"distance":   {metric: health.MetricActivity, activity: health.ActivityDistance, unit: "meters"},
	"calorie":    {metric: health.MetricActivity, activity: health.ActivityCalories, unit: "kcal"},
	"exercise":   {metric: health.MetricActivity, activity: health.ActivityWorkout, unit: "minutes"},
	"heart_rate": {metric: health.MetricHeartRate, unit: "bpm"},
	"weight":     {metric: health.MetricWeight, unit: "kg"},
	"sleep":      {metric: health.MetricSleep, unit: "minutes"},
}

func NewSamsungHealthParser(opts Options) Parser {
	return &vendorParser{opts: opts.withDefaults(), format: vendorFormat{
		source:    health.SourceSamsungHealth,
		arrayKey:  "data",
		acceptCSV: true,
		types:     samsungHealthTypes,
		extract:   samsungPoint,
	}}
}

func samsungPoint(in Input, obj map[string]interface{}) point {
	pt := point{
		dataType:  stringOf(firstOf(obj, "type", "data_type")),
		value:     obj["value"],
		timestamp: firstOf(obj, "start_time", "timestamp"),
	}
	if raw, ok := firstOf(obj, "end_time").(string); ok {
		if end, err := in.Normalizer.ParseTimestamp(raw); err == nil {
			pt.end = &end
		}
	}
	return pt
}
