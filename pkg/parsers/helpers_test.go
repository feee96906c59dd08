package parsers

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/healthtrack/platform/pkg/health"
	"github.com/healthtrack/platform/pkg/normalizer"
	"github.com/stretchr/testify/require"
)

type collector struct {
	records []health.Record
	batches int
	onEmit  func(records []health.Record)
}

func (c *collector) emit(_ context.Context, records []health.Record) error {
	c.batches++
	c.records = append(c.records, records...)
	if c.onEmit != nil {
		c.onEmit(records)
	}
	return nil
}

func (c *collector) activities(kind string) []*health.ActivityRecord {
	var out []*health.ActivityRecord
	for _, r := range c.records {
		if a, ok := r.(*health.ActivityRecord); ok && (kind == "" || a.ActivityType == kind) {
			out = append(out, a)
		}
	}
	return out
}

func (c *collector) heartRates() []*health.HeartRateRecord {
	var out []*health.HeartRateRecord
	for _, r := range c.records {
		if h, ok := r.(*health.HeartRateRecord); ok {
			out = append(out, h)
		}
	}
	return out
}

func (c *collector) sleeps() []*health.SleepRecord {
	var out []*health.SleepRecord
	for _, r := range c.records {
		if s, ok := r.(*health.SleepRecord); ok {
			out = append(out, s)
		}
	}
	return out
}

func (c *collector) weights() []*health.WeightRecord {
	var out []*health.WeightRecord
	for _, r := range c.records {
		if w, ok := r.(*health.WeightRecord); ok {
			out = append(out, w)
		}
	}
	return out
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

type zipEntry struct {
	name string
	body string
}

func writeZip(t *testing.T, dir, name string, entries ...zipEntry) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		require.NoError(t, err)
		_, err = w.Write([]byte(e.body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func testInput(path string) Input {
	return Input{
		Path:       path,
		Owner:      health.Owner{UserID: 7, ImportJobID: "job-1"},
		WorkDir:    filepath.Join(filepath.Dir(path), "work"),
		Normalizer: normalizer.Default,
	}
}

// manualClock only moves when a test advances it.
type manualClock struct {
	t time.Time
}

func newManualClock() *manualClock {
	return &manualClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time { return c.t }

func (c *manualClock) Advance(d time.Duration) { c.t = c.t.Add(d) }
