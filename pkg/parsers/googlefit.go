package parsers

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/healthtrack/platform/pkg/health"
	"github.com/healthtrack/platform/pkg/normalizer"
)

var googleFitTypes = map[string]vendorType{
	"com.google.heart_rate.bpm":    {metric: health.MetricHeartRate, unit: "bpm"},
	"com.google.step_count.delta":  {metric: health.MetricActivity, activity: health.ActivitySteps, unit: "steps"},
	"com.google.distance.delta":    {metric: health.MetricActivity, activity: health.ActivityDistance, unit: "meters"},
	"com.google.calories.expended": {metric: health.MetricActivity, activity: health.ActivityCalories, unit: "kcal"},
	"com.google.weight":            {metric: health.MetricWeight, unit: "kg"},
}

func NewGoogleFitParser(opts Options) Parser {
	return &vendorParser{opts: opts.withDefaults(), format: vendorFormat{
		source:    health.SourceGoogleFit,
		arrayKey:  "point",
		types:     googleFitTypes,
		extract:   googleFitPoint,
		timestamp: nanosTimestamp,
	}}
}

// googleFitPoint reads value[0].fpVal, falling back to intVal.
func googleFitPoint(_ Input, obj map[string]interface{}) point {
	pt := point{
		dataType:  stringOf(obj["dataTypeName"]),
		timestamp: obj["startTimeNanos"],
	}
	if values, ok := obj["value"].([]interface{}); ok && len(values) > 0 {
		if first, ok := values[0].(map[string]interface{}); ok {
			pt.value = firstOf(first, "fpVal", "intVal")
		}
	}
	if raw := obj["endTimeNanos"]; raw != nil {
		if end, err := nanosTimestamp(normalizer.Default, raw); err == nil {
			pt.end = &end
		}
	}
	return pt
}

func nanosTimestamp(_ normalizer.Normalizer, raw interface{}) (time.Time, error) {
	var s string
	switch v := raw.(type) {
	case json.Number:
		s = v.String()
	case string:
		s = strings.TrimSpace(v)
	default:
		return time.Time{}, normalizer.TimestampParseError{Value: fmt.Sprint(raw)}
	}
	nanos, err := strconv.ParseInt(s, 10, 64)
	if err != nil || nanos < 0 {
		return time.Time{}, normalizer.TimestampParseError{Value: s}
	}
	return time.Unix(0, nanos).UTC(), nil
}
