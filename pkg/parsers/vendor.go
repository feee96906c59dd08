package parsers

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/healthtrack/platform/pkg/common/logger"
	"github.com/healthtrack/platform/pkg/health"
	"github.com/healthtrack/platform/pkg/normalizer"
	"github.com/sirupsen/logrus"
)

// vendorType says where one vendor data type lands in the record model.
type vendorType struct {
	metric   health.Metric
	activity string
	unit     string
}

// point is a vendor entry reduced to canonical fields.
type point struct {
	dataType  string
	value     interface{}
	unit      string
	timestamp interface{}
	end       *time.Time
}

type vendorFormat struct {
	source health.DataSource
	// arrayKey names the array holding entries; empty means the document
	// itself is the array.
	arrayKey  string
	acceptCSV bool
	types     map[string]vendorType
	extract   func(in Input, obj map[string]interface{}) point
	timestamp func(n normalizer.Normalizer, raw interface{}) (time.Time, error)
}

// vendorParser is the flat JSON/CSV pipeline shared by every non-Apple
// source.
type vendorParser struct {
	format vendorFormat
	opts   Options
}

func (p *vendorParser) Source() health.DataSource {
	return p.format.source
}

func (p *vendorParser) Parse(ctx context.Context, in Input, emit Emit) (*Report, error) {
	files, err := p.inputs(in)
	if err != nil {
		return nil, err
	}

	report := NewReport()
	phase, err := in.Budget.StartPhase(1)
	if err != nil {
		report.Interrupted = err
		report.Finish()
		return report, nil
	}

	run := &vendorRun{
		p:      p,
		in:     in,
		phase:  phase,
		batch:  newBatcher(p.opts, emit, report),
		report: report,
		log: logger.WithFields(logrus.Fields{
			"import_id":   in.Owner.ImportJobID,
			"data_source": p.format.source,
		}),
	}
	for _, path := range files {
		switch extOf(path) {
		case "json":
			err = run.readJSON(ctx, path)
		case "csv":
			err = run.readCSV(ctx, path)
		}
		if err != nil {
			return report, err
		}
		if run.stopped {
			break
		}
	}
	if err := run.batch.flush(ctx); err != nil {
		return report, err
	}

	for dt, n := range report.Unsupported {
		run.log.WithFields(logrus.Fields{"data_type": dt, "count": n}).Info("skipped unsupported data type")
	}
	report.Finish()
	return report, nil
}

func (p *vendorParser) inputs(in Input) ([]string, error) {
	switch ext := in.Ext(); ext {
	case "json":
		return []string{in.Path}, nil
	case "csv":
		if !p.format.acceptCSV {
			return nil, health.NewFileValidationError("%s exports must be JSON, got .csv", p.format.source)
		}
		return []string{in.Path}, nil
	case "zip":
		return p.extract(in)
	default:
		return nil, health.NewFileValidationError("%s does not accept .%s files", p.format.source, ext)
	}
}

func (p *vendorParser) extract(in Input) ([]string, error) {
	zr, err := openZip(in.Path)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var paths []string
	for i, f := range dataMembers(zr.File) {
		if extOf(f.Name) == "csv" && !p.format.acceptCSV {
			continue
		}
		path, err := extractMember(f, in.workDir(), i)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	if len(paths) == 0 {
		return nil, health.NewFileValidationError("archive does not contain a %s export", p.format.source)
	}
	return paths, nil
}

type vendorRun struct {
	p       *vendorParser
	in      Input
	phase   *Phase
	batch   *batcher
	report  *Report
	log     *logrus.Entry
	seen    int64
	stopped bool
}

func (r *vendorRun) readJSON(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	dec := json.NewDecoder(bufio.NewReader(f))
	dec.UseNumber()

	found, err := seekArray(dec, r.p.format.arrayKey)
	if err != nil {
		return r.malformed("JSON", path, err)
	}
	if !found {
		return nil
	}

	for dec.More() {
		var obj map[string]interface{}
		if err := dec.Decode(&obj); err != nil {
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &typeErr) {
				r.seen++
				r.report.Skip("", fmt.Errorf("entry is not an object"))
				continue
			}
			return r.malformed("JSON", path, err)
		}
		if err := r.handle(ctx, obj); err != nil {
			return err
		}
		if r.stopped {
			return nil
		}
	}
	return nil
}

type shapeError struct {
	msg string
}

func (e shapeError) Error() string { return e.msg }

// seekArray positions dec inside the entry array. It reports false when
// the document has no such array.
func seekArray(dec *json.Decoder, key string) (bool, error) {
	tok, err := dec.Token()
	if err != nil {
		return false, err
	}
	delim, _ := tok.(json.Delim)
	if key == "" {
		if delim != '[' {
			return false, shapeError{msg: "expected a top-level JSON array"}
		}
		return true, nil
	}
	if delim != '{' {
		return false, shapeError{msg: fmt.Sprintf("expected a JSON object with a %q array", key)}
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return false, err
		}
		name, _ := tok.(string)
		if name != key {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return false, err
			}
			continue
		}
		tok, err = dec.Token()
		if err != nil {
			return false, err
		}
		if d, ok := tok.(json.Delim); !ok || d != '[' {
			return false, shapeError{msg: fmt.Sprintf("%q is not an array", key)}
		}
		return true, nil
	}
	return false, nil
}

func (r *vendorRun) readCSV(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	cr := csv.NewReader(bufio.NewReader(f))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return r.malformed("CSV", path, err)
	}
	cols := make([]string, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		cols[i] = strings.TrimSpace(h)
	}

	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return r.malformed("CSV", path, err)
		}
		obj := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			if i < len(row) && col != "" {
				obj[col] = row[i]
			}
		}
		if err := r.handle(ctx, obj); err != nil {
			return err
		}
		if r.stopped {
			return nil
		}
	}
}

// malformed turns a container error into a FileValidationError when
// nothing was read yet, otherwise into a partial result.
func (r *vendorRun) malformed(kind, path string, err error) error {
	var shape shapeError
	if r.seen == 0 || errors.As(err, &shape) {
		return health.NewFileValidationError("invalid %s in %s: %v", kind, filepath.Base(path), err)
	}
	reason := fmt.Sprintf("malformed %s after %d entries: %v", kind, r.seen, err)
	for _, m := range r.report.Expected {
		r.report.Mark(m, StateFailed, reason)
	}
	r.report.Interrupted = errors.New(reason)
	r.stopped = true
	r.log.Warn(reason)
	return nil
}

func missingField(name string) error {
	return fmt.Errorf("missing mandatory field %q", name)
}

func blank(v interface{}) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func (r *vendorRun) handle(ctx context.Context, obj map[string]interface{}) error {
	r.seen++
	if r.phase.Check() {
		reason := fmt.Sprintf("timed out after %d entries", r.seen)
		for _, m := range r.report.Expected {
			r.report.Mark(m, StateTimedOut, reason)
		}
		r.report.Interrupted = ErrBudgetExhausted
		r.stopped = true
		return nil
	}

	pt := r.p.format.extract(r.in, obj)
	dataType := strings.ToLower(strings.TrimSpace(pt.dataType))
	if dataType == "" {
		r.report.Skip("", missingField(FieldDataType))
		return nil
	}
	vt, ok := r.p.format.types[dataType]
	if !ok {
		r.report.Unsupport(dataType)
		return nil
	}

	rec, err := r.build(vt, pt)
	if err != nil {
		r.report.Skip(vt.metric, err)
		r.log.WithError(err).WithField("data_type", dataType).Debug("skipping entry")
		return nil
	}
	return r.batch.add(ctx, rec)
}

func (r *vendorRun) build(vt vendorType, pt point) (health.Record, error) {
	if blank(pt.value) {
		return nil, missingField(FieldValue)
	}
	if blank(pt.timestamp) {
		return nil, missingField(FieldTimestamp)
	}
	value, err := normalizer.ParseValue(pt.value)
	if err != nil {
		return nil, err
	}
	toTime := r.p.format.timestamp
	if toTime == nil {
		toTime = stringTimestamp
	}
	ts, err := toTime(r.in.Normalizer, pt.timestamp)
	if err != nil {
		return nil, err
	}

	owner := r.in.Owner
	source := string(r.p.format.source)
	unit := normalizer.UnitOr(pt.unit, vt.unit)

	switch vt.metric {
	case health.MetricHeartRate:
		return &health.HeartRateRecord{
			UserID: owner.UserID, ImportJobID: owner.ImportJobID,
			Value: value, Unit: unit, Timestamp: ts, Source: source,
		}, nil
	case health.MetricWeight:
		return &health.WeightRecord{
			UserID: owner.UserID, ImportJobID: owner.ImportJobID,
			Value: value, Unit: unit, Timestamp: ts, Source: source,
		}, nil
	case health.MetricSleep:
		if value < 0 {
			return nil, fmt.Errorf("negative sleep duration %v", value)
		}
		end := ts.Add(time.Duration(value * float64(time.Minute)))
		if pt.end != nil {
			end = pt.end.UTC()
		}
		return &health.SleepRecord{
			UserID: owner.UserID, ImportJobID: owner.ImportJobID,
			TotalDuration: value, StartTime: ts, EndTime: end,
			Source: source, Unit: "minutes",
		}, nil
	default:
		rec := &health.ActivityRecord{
			UserID: owner.UserID, ImportJobID: owner.ImportJobID,
			ActivityType: vt.activity, Value: value, Unit: unit,
			Timestamp: ts, Source: source,
		}
		if pt.end != nil {
			end := pt.end.UTC()
			rec.EndTime = &end
		} else if vt.activity == health.ActivityWorkout && unit == "minutes" {
			end := ts.Add(time.Duration(value * float64(time.Minute)))
			rec.EndTime = &end
		}
		return rec, nil
	}
}

func stringTimestamp(n normalizer.Normalizer, raw interface{}) (time.Time, error) {
	s, ok := raw.(string)
	if !ok {
		return time.Time{}, normalizer.TimestampParseError{Value: fmt.Sprint(raw)}
	}
	return n.ParseTimestamp(s)
}

// firstOf returns the first present, non-blank key.
func firstOf(obj map[string]interface{}, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := obj[k]; ok && !blank(v) {
			return v
		}
	}
	return nil
}

func stringOf(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}
