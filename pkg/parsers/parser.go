package parsers

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/healthtrack/platform/pkg/health"
	"github.com/healthtrack/platform/pkg/normalizer"
)

var ErrUnsupportedSource = errors.New("unsupported data source")

// Emit hands one batch of normalized records downstream. The slice is not
// reused by the parser after Emit returns. A non-nil error aborts the parse.
type Emit func(ctx context.Context, records []health.Record) error

// Input describes one staged upload.
type Input struct {
	Path       string
	Owner      health.Owner
	Mapping    FieldMapping
	Budget     *Budget
	WorkDir    string
	Normalizer normalizer.Normalizer
}

// Ext is the lower-case extension of the staged file without the dot.
func (in Input) Ext() string {
	return extOf(in.Path)
}

func (in Input) workDir() string {
	if in.WorkDir != "" {
		return in.WorkDir
	}
	return filepath.Dir(in.Path)
}

type Parser interface {
	Source() health.DataSource
	Parse(ctx context.Context, in Input, emit Emit) (*Report, error)
}

// Options are shared by every parser the registry builds.
type Options struct {
	BatchSize      int
	GCEveryBatches int
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 20000
	}
	return o
}

func extOf(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}
