package parsers

import (
	"fmt"
	"sort"

	"github.com/healthtrack/platform/pkg/health"
)

type State string

const (
	StatePending    State = ""
	StateComplete   State = "complete"
	StateEmpty      State = "empty"
	StateTimedOut   State = "timed_out"
	StateNotStarted State = "not_started"
	StateFailed     State = "failed"
)

// Outcome is what happened to one metric during a parse.
type Outcome struct {
	Metric     health.Metric `json:"metric"`
	State      State         `json:"state"`
	Reason     string        `json:"reason,omitempty"`
	Records    int64         `json:"records"`
	Skipped    int64         `json:"skipped"`
	SkipReason string        `json:"skip_reason,omitempty"`
}

func (o *Outcome) Incomplete() bool {
	return o.State != StateComplete
}

// Report summarizes a parse. Expected lists the metrics whose absence
// makes an import partial.
type Report struct {
	Expected    []health.Metric
	Unsupported map[string]int64
	Interrupted error

	outcomes map[health.Metric]*Outcome
}

func NewReport(expected ...health.Metric) *Report {
	r := &Report{Unsupported: make(map[string]int64), outcomes: make(map[health.Metric]*Outcome)}
	for _, m := range expected {
		r.Expect(m)
	}
	return r
}

// Expect adds m to the expected set if it is a real metric.
func (r *Report) Expect(m health.Metric) *Outcome {
	out := r.Outcome(m)
	if m == "" {
		return out
	}
	for _, e := range r.Expected {
		if e == m {
			return out
		}
	}
	r.Expected = append(r.Expected, m)
	return out
}

func (r *Report) Outcome(m health.Metric) *Outcome {
	out, ok := r.outcomes[m]
	if !ok {
		out = &Outcome{Metric: m}
		r.outcomes[m] = out
	}
	return out
}

func (r *Report) Emitted(m health.Metric, n int) {
	r.Expect(m).Records += int64(n)
}

func (r *Report) Skip(m health.Metric, reason error) {
	out := r.Outcome(m)
	if m != "" {
		r.Expect(m)
	}
	out.Skipped++
	if out.SkipReason == "" && reason != nil {
		out.SkipReason = reason.Error()
	}
}

func (r *Report) Unsupport(dataType string) {
	r.Unsupported[dataType]++
}

// Mark sets a terminal state on m unless one is already recorded.
func (r *Report) Mark(m health.Metric, state State, reason string) {
	out := r.Expect(m)
	if out.State != StatePending {
		return
	}
	out.State = state
	out.Reason = reason
}

// Finish resolves every pending outcome to complete or empty.
func (r *Report) Finish() {
	for _, out := range r.outcomes {
		if out.State != StatePending {
			continue
		}
		switch {
		case out.Records > 0:
			out.State = StateComplete
		case out.Skipped > 0:
			out.State = StateEmpty
			out.Reason = fmt.Sprintf("all %d records were invalid (%s)", out.Skipped, out.SkipReason)
		default:
			out.State = StateEmpty
			out.Reason = "no records found"
		}
	}
}

// Outcomes lists expected metrics first in order, then anything else seen.
func (r *Report) Outcomes() []*Outcome {
	seen := make(map[health.Metric]bool, len(r.outcomes))
	list := make([]*Outcome, 0, len(r.outcomes))
	for _, m := range r.Expected {
		if out, ok := r.outcomes[m]; ok {
			list = append(list, out)
			seen[m] = true
		}
	}
	var rest []*Outcome
	for m, out := range r.outcomes {
		if !seen[m] {
			rest = append(rest, out)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].Metric < rest[j].Metric })
	return append(list, rest...)
}

// Incomplete returns expected metrics that did not finish cleanly.
func (r *Report) Incomplete() []*Outcome {
	var list []*Outcome
	for _, m := range r.Expected {
		if out := r.outcomes[m]; out != nil && out.Incomplete() {
			list = append(list, out)
		}
	}
	return list
}

func (r *Report) TotalRecords() int64 {
	var n int64
	for _, out := range r.outcomes {
		n += out.Records
	}
	return n
}

func (r *Report) TotalSkipped() int64 {
	var n int64
	for _, out := range r.outcomes {
		n += out.Skipped
	}
	return n
}

func (r *Report) UnsupportedTotal() int64 {
	var n int64
	for _, c := range r.Unsupported {
		n += c
	}
	return n
}
