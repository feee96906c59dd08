package parsers

import (
	"fmt"

	"github.com/healthtrack/platform/pkg/health"
)

// Registry resolves a declared data source to its parser. It is built
// once and read concurrently by every import.
type Registry struct {
	parsers map[health.DataSource]Parser
}

func NewRegistry(opts Options) *Registry {
	opts = opts.withDefaults()
	r := &Registry{parsers: make(map[health.DataSource]Parser)}
	for _, p := range []Parser{
		NewAppleHealthParser(opts),
		NewGoogleFitParser(opts),
		NewFitbitParser(opts),
		NewSamsungHealthParser(opts),
		NewCustomParser(opts),
	} {
		r.parsers[p.Source()] = p
	}
	return r
}

// Register replaces the parser for p.Source(). Call it before the
// registry is shared.
func (r *Registry) Register(p Parser) {
	r.parsers[p.Source()] = p
}

func (r *Registry) For(source health.DataSource) (Parser, error) {
	p, ok := r.parsers[source]
	if !ok {
		return nil, fmt.Errorf("%s: %w", source, ErrUnsupportedSource)
	}
	return p, nil
}
