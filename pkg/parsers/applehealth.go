package parsers

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/healthtrack/platform/pkg/common/logger"
	"github.com/healthtrack/platform/pkg/health"
	"github.com/healthtrack/platform/pkg/normalizer"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/encoding/ianaindex"
)

const (
	hkStepCount     = "HKQuantityTypeIdentifierStepCount"
	hkDistance      = "HKQuantityTypeIdentifierDistanceWalkingRunning"
	hkActiveEnergy  = "HKQuantityTypeIdentifierActiveEnergyBurned"
	hkHeartRate     = "HKQuantityTypeIdentifierHeartRate"
	hkBodyMass      = "HKQuantityTypeIdentifierBodyMass"
	hkSleepAnalysis = "HKCategoryTypeIdentifierSleepAnalysis"
)

// AppleHealthParser streams export.xml once per metric. Each pass holds
// at most one batch plus the per-day and per-night aggregates.
type AppleHealthParser struct {
	opts Options
}

func NewAppleHealthParser(opts Options) *AppleHealthParser {
	return &AppleHealthParser{opts: opts.withDefaults()}
}

func (p *AppleHealthParser) Source() health.DataSource {
	return health.SourceAppleHealth
}

func (p *AppleHealthParser) Parse(ctx context.Context, in Input, emit Emit) (*Report, error) {
	xmlPath, err := p.locateExport(in)
	if err != nil {
		return nil, err
	}
	if err := sniffXML(xmlPath); err != nil {
		return nil, err
	}

	log := logger.WithFields(logrus.Fields{
		"import_id":   in.Owner.ImportJobID,
		"data_source": health.SourceAppleHealth,
	})

	report := NewReport(health.AllMetrics()...)
	batch := newBatcher(p.opts, emit, report)
	collectors := []appleCollector{
		newActivityCollector(in),
		newHeartRateCollector(in),
		newSleepCollector(in),
		newWeightCollector(in),
	}

	for i, c := range collectors {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		phase, err := in.Budget.StartPhase(len(collectors) - i)
		if err != nil {
			for _, rest := range collectors[i:] {
				report.Mark(rest.metric(), StateNotStarted, "not started: time budget exhausted")
			}
			report.Interrupted = err
			log.WithField("elapsed", in.Budget.Elapsed().String()).Warn("apple health parse stopped before all metrics")
			break
		}

		started := time.Now()
		if err := p.scan(ctx, xmlPath, c, phase, batch, report, i == 0); err != nil {
			return report, err
		}
		out := report.Outcome(c.metric())
		log.WithFields(logrus.Fields{
			"metric":   c.metric(),
			"records":  out.Records,
			"skipped":  out.Skipped,
			"state":    out.State,
			"duration": time.Since(started).String(),
		}).Info("apple health metric processed")
	}

	report.Finish()
	return report, nil
}

func (p *AppleHealthParser) locateExport(in Input) (string, error) {
	switch in.Ext() {
	case "xml":
		return in.Path, nil
	case "zip":
	default:
		return "", health.NewFileValidationError("apple health export must be .zip or .xml, got .%s", in.Ext())
	}

	zr, err := openZip(in.Path)
	if err != nil {
		return "", err
	}
	defer zr.Close()

	member := appleExportMember(zr.File)
	if member == nil {
		return "", health.NewFileValidationError("archive does not contain export.xml")
	}
	return extractMember(member, in.workDir(), 0)
}

func sniffXML(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening export: %w", err)
	}
	defer f.Close()

	head := make([]byte, 2048)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading export: %w", err)
	}
	head = head[:n]
	if !bytes.Contains(head, []byte("<?xml")) && !bytes.Contains(head, []byte("<HealthData")) {
		return health.NewFileValidationError("file is not an Apple Health XML export")
	}
	return nil
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := ianaindex.IANA.Encoding(label)
	if err != nil {
		return nil, fmt.Errorf("unknown charset %q: %w", label, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("unsupported charset %q", label)
	}
	return enc.NewDecoder().Reader(input), nil
}

// scan runs one streaming pass for a single collector. Syntax errors end
// the pass and mark the metric failed; records already emitted stay.
func (p *AppleHealthParser) scan(ctx context.Context, path string, c appleCollector, phase *Phase, batch *batcher, report *Report, first bool) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening export: %w", err)
	}
	defer f.Close()

	dec := xml.NewDecoder(f)
	dec.CharsetReader = charsetReader

	m := c.metric()
	sawRoot := false
	var scanned int64

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if first && !sawRoot {
				return health.NewFileValidationError("malformed XML: %v", err)
			}
			report.Mark(m, StateFailed, fmt.Sprintf("malformed XML: %v", err))
			break
		}

		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "HealthData":
			sawRoot = true
			continue
		case "Record", "Workout":
		default:
			continue
		}

		scanned++
		if phase.Check() {
			report.Mark(m, StateTimedOut, fmt.Sprintf("timed out after scanning %d elements", scanned))
			report.Interrupted = ErrBudgetExhausted
			break
		}
		if scanned%int64(DefaultCheckInterval) == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		rec, matched, err := c.element(se)
		if !matched {
			continue
		}
		if err != nil {
			report.Skip(m, err)
			logger.Log.WithError(err).WithField("metric", m).Debug("skipping apple health element")
			continue
		}
		if rec == nil {
			continue
		}
		if err := batch.add(ctx, rec); err != nil {
			return err
		}
	}

	if first && !sawRoot && report.Outcome(m).State == StatePending {
		return health.NewFileValidationError("file is not an Apple Health export: missing HealthData root")
	}

	for _, rec := range c.finish() {
		if err := batch.add(ctx, rec); err != nil {
			return err
		}
	}
	return batch.flush(ctx)
}

type appleCollector interface {
	metric() health.Metric
	// element converts a Record or Workout. matched is false for
	// elements belonging to another metric.
	element(se xml.StartElement) (rec health.Record, matched bool, err error)
	finish() []health.Record
}

func attr(se xml.StartElement, name string) string {
	for _, a := range se.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

type sampleFields struct {
	start, end time.Time
	value      float64
	unit       string
	source     string
	device     string
}

func readSample(n normalizer.Normalizer, se xml.StartElement, fallbackSource string) (sampleFields, error) {
	var s sampleFields
	start, err := n.ParseTimestampLocal(attr(se, "startDate"))
	if err != nil {
		return s, err
	}
	s.start = start
	if raw := attr(se, "endDate"); raw != "" {
		end, err := n.ParseTimestampLocal(raw)
		if err != nil {
			return s, err
		}
		s.end = end
	} else {
		s.end = start
	}
	s.unit = attr(se, "unit")
	s.source = attr(se, "sourceName")
	if s.source == "" {
		s.source = fallbackSource
	}
	s.device = attr(se, "device")
	return s, nil
}

func readQuantity(n normalizer.Normalizer, se xml.StartElement) (sampleFields, error) {
	s, err := readSample(n, se, string(health.SourceAppleHealth))
	if err != nil {
		return s, err
	}
	v, err := normalizer.ParseValue(attr(se, "value"))
	if err != nil {
		return s, err
	}
	s.value = v
	return s, nil
}

type dailyTotals struct {
	day      time.Time
	steps    float64
	distance float64
	calories float64
	source   string
}

type activityCollector struct {
	in    Input
	daily map[string]*dailyTotals
}

func newActivityCollector(in Input) *activityCollector {
	return &activityCollector{in: in, daily: make(map[string]*dailyTotals)}
}

func (c *activityCollector) metric() health.Metric { return health.MetricActivity }

func (c *activityCollector) element(se xml.StartElement) (health.Record, bool, error) {
	if se.Name.Local == "Workout" {
		rec, err := c.workout(se)
		return rec, true, err
	}

	var activity, defaultUnit string
	switch attr(se, "type") {
	case hkStepCount:
		activity, defaultUnit = health.ActivitySteps, "count"
	case hkDistance:
		activity, defaultUnit = health.ActivityDistance, "km"
	case hkActiveEnergy:
		activity, defaultUnit = health.ActivityCalories, "kcal"
	default:
		return nil, false, nil
	}

	s, err := readQuantity(c.in.Normalizer, se)
	if err != nil {
		return nil, true, err
	}
	unit := normalizer.UnitOr(s.unit, defaultUnit)
	c.accumulate(activity, s, unit)

	end := s.end.UTC()
	return &health.ActivityRecord{
		UserID:       c.in.Owner.UserID,
		ImportJobID:  c.in.Owner.ImportJobID,
		ActivityType: activity,
		Value:        s.value,
		Unit:         unit,
		Timestamp:    s.start.UTC(),
		EndTime:      &end,
		Source:       s.source,
		Device:       s.device,
	}, true, nil
}

func (c *activityCollector) workout(se xml.StartElement) (health.Record, error) {
	s, err := readSample(c.in.Normalizer, se, string(health.SourceAppleHealth))
	if err != nil {
		return nil, err
	}

	var value float64
	unit := "kcal"
	if raw := attr(se, "totalDistance"); raw != "" {
		if value, err = normalizer.ParseValue(raw); err != nil {
			return nil, err
		}
		unit = normalizer.UnitOr(attr(se, "totalDistanceUnit"), "km")
	} else if raw := attr(se, "totalEnergyBurned"); raw != "" {
		if value, err = normalizer.ParseValue(raw); err != nil {
			return nil, err
		}
		unit = normalizer.UnitOr(attr(se, "totalEnergyBurnedUnit"), "kcal")
	}

	end := s.end.UTC()
	return &health.ActivityRecord{
		UserID:       c.in.Owner.UserID,
		ImportJobID:  c.in.Owner.ImportJobID,
		ActivityType: health.ActivityWorkout,
		Subtype:      attr(se, "workoutActivityType"),
		Value:        value,
		Unit:         unit,
		Timestamp:    s.start.UTC(),
		EndTime:      &end,
		Source:       s.source,
		Device:       s.device,
	}, nil
}

// accumulate keys days by the local date the device wrote.
func (c *activityCollector) accumulate(activity string, s sampleFields, unit string) {
	key := s.start.Format("2006-01-02")
	d, ok := c.daily[key]
	if !ok {
		y, mo, day := s.start.Date()
		d = &dailyTotals{day: time.Date(y, mo, day, 0, 0, 0, 0, s.start.Location()), source: s.source}
		c.daily[key] = d
	}
	switch activity {
	case health.ActivitySteps:
		d.steps += s.value
	case health.ActivityDistance:
		d.distance += toKilometers(s.value, unit)
	case health.ActivityCalories:
		d.calories += s.value
	}
}

func toKilometers(v float64, unit string) float64 {
	switch unit {
	case "mi":
		return v * 1.609344
	case "meters":
		return v / 1000
	default:
		return v
	}
}

func (c *activityCollector) finish() []health.Record {
	keys := make([]string, 0, len(c.daily))
	for k := range c.daily {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]health.Record, 0, len(keys))
	for _, k := range keys {
		d := c.daily[k]
		steps, distance, calories := d.steps, d.distance, d.calories
		out = append(out, &health.ActivityRecord{
			UserID:        c.in.Owner.UserID,
			ImportJobID:   c.in.Owner.ImportJobID,
			ActivityType:  health.ActivityDailySummary,
			Value:         steps,
			Unit:          "count",
			Timestamp:     d.day.UTC(),
			TotalSteps:    &steps,
			TotalDistance: &distance,
			Calories:      &calories,
			Source:        d.source,
		})
	}
	c.daily = make(map[string]*dailyTotals)
	return out
}

type heartRateCollector struct {
	in Input
}

func newHeartRateCollector(in Input) *heartRateCollector {
	return &heartRateCollector{in: in}
}

func (c *heartRateCollector) metric() health.Metric { return health.MetricHeartRate }

func (c *heartRateCollector) element(se xml.StartElement) (health.Record, bool, error) {
	if se.Name.Local != "Record" || attr(se, "type") != hkHeartRate {
		return nil, false, nil
	}
	s, err := readQuantity(c.in.Normalizer, se)
	if err != nil {
		return nil, true, err
	}
	return &health.HeartRateRecord{
		UserID:      c.in.Owner.UserID,
		ImportJobID: c.in.Owner.ImportJobID,
		Value:       s.value,
		Unit:        normalizer.UnitOr(s.unit, "bpm"),
		Timestamp:   s.start.UTC(),
		Source:      s.source,
	}, true, nil
}

func (c *heartRateCollector) finish() []health.Record { return nil }

type weightCollector struct {
	in Input
}

func newWeightCollector(in Input) *weightCollector {
	return &weightCollector{in: in}
}

func (c *weightCollector) metric() health.Metric { return health.MetricWeight }

func (c *weightCollector) element(se xml.StartElement) (health.Record, bool, error) {
	if se.Name.Local != "Record" || attr(se, "type") != hkBodyMass {
		return nil, false, nil
	}
	s, err := readQuantity(c.in.Normalizer, se)
	if err != nil {
		return nil, true, err
	}
	return &health.WeightRecord{
		UserID:      c.in.Owner.UserID,
		ImportJobID: c.in.Owner.ImportJobID,
		Value:       s.value,
		Unit:        normalizer.UnitOr(s.unit, "kg"),
		Timestamp:   s.start.UTC(),
		Source:      s.source,
	}, true, nil
}

func (c *weightCollector) finish() []health.Record { return nil }

type sleepCollector struct {
	in     Input
	nights *sleepNights
}

func newSleepCollector(in Input) *sleepCollector {
	return &sleepCollector{in: in, nights: newSleepNights()}
}

func (c *sleepCollector) metric() health.Metric { return health.MetricSleep }

// element only accumulates; nights are emitted by finish.
func (c *sleepCollector) element(se xml.StartElement) (health.Record, bool, error) {
	if se.Name.Local != "Record" || attr(se, "type") != hkSleepAnalysis {
		return nil, false, nil
	}
	raw := attr(se, "value")
	stage, ok := appleSleepStages[raw]
	if !ok {
		if strings.HasSuffix(raw, "InBed") {
			return nil, true, nil
		}
		return nil, true, fmt.Errorf("unknown sleep stage %q", raw)
	}
	s, err := readSample(c.in.Normalizer, se, string(health.SourceAppleHealth))
	if err != nil {
		return nil, true, err
	}
	if !s.end.After(s.start) {
		return nil, true, fmt.Errorf("sleep interval ends before it starts at %s", s.start)
	}
	c.nights.add(stage, s.start, s.end, s.source)
	return nil, true, nil
}

func (c *sleepCollector) finish() []health.Record {
	nights := c.nights.records(c.in.Owner)
	out := make([]health.Record, 0, len(nights))
	for _, n := range nights {
		out = append(out, n)
	}
	c.nights = newSleepNights()
	return out
}
