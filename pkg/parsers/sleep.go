package parsers

import (
	"sort"
	"time"

	"github.com/healthtrack/platform/pkg/health"
)

type sleepStage int

const (
	stageAsleep sleepStage = iota
	stageDeep
	stageLight
	stageREM
	stageAwake
)

var appleSleepStages = map[string]sleepStage{
	"HKCategoryValueSleepAnalysisAsleep":            stageAsleep,
	"HKCategoryValueSleepAnalysisAsleepUnspecified": stageAsleep,
	"HKCategoryValueSleepAnalysisAsleepDeep":        stageDeep,
	"HKCategoryValueSleepAnalysisAsleepCore":        stageLight,
	"HKCategoryValueSleepAnalysisAsleepLight":       stageLight,
	"HKCategoryValueSleepAnalysisAsleepREM":         stageREM,
	"HKCategoryValueSleepAnalysisAwake":             stageAwake,
}

type interval struct {
	start, end time.Time
}

// unionMinutes merges overlapping intervals and returns the covered time.
func unionMinutes(spans []interval) float64 {
	if len(spans) == 0 {
		return 0
	}
	sorted := make([]interval, len(spans))
	copy(sorted, spans)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].start.Before(sorted[j].start) })

	var total time.Duration
	cur := sorted[0]
	for _, iv := range sorted[1:] {
		if !iv.start.After(cur.end) {
			if iv.end.After(cur.end) {
				cur.end = iv.end
			}
			continue
		}
		total += cur.end.Sub(cur.start)
		cur = iv
	}
	total += cur.end.Sub(cur.start)
	return total.Minutes()
}

type night struct {
	key        string
	stages     map[sleepStage][]interval
	start, end time.Time
	source     string
}

// sleepNights groups stage intervals into nights. A night is keyed by the
// local date of its start shifted back 12h, so 23:00 and 02:00 land on
// the same night.
type sleepNights struct {
	nights map[string]*night
}

func newSleepNights() *sleepNights {
	return &sleepNights{nights: make(map[string]*night)}
}

func nightKey(start time.Time) string {
	return start.Add(-12 * time.Hour).Format("2006-01-02")
}

func (s *sleepNights) add(stage sleepStage, start, end time.Time, source string) {
	if !end.After(start) {
		return
	}
	key := nightKey(start)
	n, ok := s.nights[key]
	if !ok {
		n = &night{key: key, stages: make(map[sleepStage][]interval), start: start, end: end, source: source}
		s.nights[key] = n
	}
	n.stages[stage] = append(n.stages[stage], interval{start: start, end: end})
	if start.Before(n.start) {
		n.start = start
	}
	if end.After(n.end) {
		n.end = end
	}
}

// records returns one SleepRecord per night in date order.
func (s *sleepNights) records(owner health.Owner) []*health.SleepRecord {
	keys := make([]string, 0, len(s.nights))
	for k := range s.nights {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]*health.SleepRecord, 0, len(keys))
	for _, k := range keys {
		n := s.nights[k]
		var asleep []interval
		for stage, spans := range n.stages {
			if stage != stageAwake {
				asleep = append(asleep, spans...)
			}
		}
		out = append(out, &health.SleepRecord{
			UserID:        owner.UserID,
			ImportJobID:   owner.ImportJobID,
			TotalDuration: unionMinutes(asleep),
			DeepSleep:     unionMinutes(n.stages[stageDeep]),
			LightSleep:    unionMinutes(n.stages[stageLight]),
			RemSleep:      unionMinutes(n.stages[stageREM]),
			Awake:         unionMinutes(n.stages[stageAwake]),
			StartTime:     n.start.UTC(),
			EndTime:       n.end.UTC(),
			Source:        n.source,
			Unit:          "minutes",
		})
	}
	return out
}
