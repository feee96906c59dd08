package parsers

import "github.com/healthtrack/platform/pkg/health"

var fitbitTypes = map[string]vendorType{
	"steps":      {metric: health.MetricActivity, activity: health.ActivitySteps, unit: "steps"},
	"distance":   {metric: health.MetricActivity, activity: health.ActivityDistance, unit: "meters"},
	"calories":   {metric: health.MetricActivity, activity: health.ActivityCalories, unit: "kcal"},
	"heart_rate": {metric: health.MetricHeartRate, unit: "bpm"},
	"weight":     {metric: health.MetricWeight, unit: "kg"},
	"sleep":      {metric: health.MetricSleep, unit: "minutes"},
}

func NewFitbitParser(opts Options) Parser {
	return &vendorParser{opts: opts.withDefaults(), format: vendorFormat{
		source:    health.SourceFitbit,
		arrayKey:  "activities",
		acceptCSV: true,
		types:     fitbitTypes,
		extract:   fitbitPoint,
	}}
}

func fitbitPoint(_ Input, obj map[string]interface{}) point {
	return point{
		dataType:  stringOf(firstOf(obj, "type", "data_type")),
		value:     obj["value"],
		timestamp: firstOf(obj, "startTime", "timestamp", "dateTime"),
	}
}
