package parsers

import (
	"context"
	"runtime"

	"github.com/healthtrack/platform/pkg/health"
)

// batcher groups records into Emit calls of at most size records and
// forces a collection every gcEvery batches.
type batcher struct {
	size    int
	gcEvery int
	emit    Emit
	report  *Report
	pending []health.Record
	batches int
}

func newBatcher(opts Options, emit Emit, report *Report) *batcher {
	return &batcher{size: opts.BatchSize, gcEvery: opts.GCEveryBatches, emit: emit, report: report}
}

// add buffers rec. Its metric is expected from the first buffered record so
// a failure before the next flush still marks it.
func (b *batcher) add(ctx context.Context, rec health.Record) error {
	b.report.Expect(rec.Metric())
	b.pending = append(b.pending, rec)
	if len(b.pending) >= b.size {
		return b.flush(ctx)
	}
	return nil
}

func (b *batcher) flush(ctx context.Context) error {
	if len(b.pending) == 0 {
		return nil
	}
	records := b.pending
	b.pending = nil

	counts := make(map[health.Metric]int, 1)
	for _, rec := range records {
		counts[rec.Metric()]++
	}
	for m, n := range counts {
		b.report.Emitted(m, n)
	}

	if err := b.emit(ctx, records); err != nil {
		return err
	}
	b.batches++
	if b.gcEvery > 0 && b.batches%b.gcEvery == 0 {
		runtime.GC()
	}
	return nil
}
