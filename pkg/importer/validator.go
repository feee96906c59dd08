package importer

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/healthtrack/platform/pkg/health"
	"github.com/healthtrack/platform/pkg/parsers"
)

var ErrMissingUser = errors.New("user id is required")

// Validator gates uploads before any job exists.
type Validator struct {
	allowedExtensions map[string]struct{}
	allowedSources    map[health.DataSource]struct{}
	profiles          parsers.MappingProfiles
}

func NewValidator(extensions, sources []string, profiles parsers.MappingProfiles) *Validator {
	ve := make(map[string]struct{})
	for _, ext := range extensions {
		if trimmed := strings.TrimPrefix(strings.TrimSpace(strings.ToLower(ext)), "."); trimmed != "" {
			ve[trimmed] = struct{}{}
		}
	}

	vs := make(map[health.DataSource]struct{})
	for _, src := range sources {
		if ds, err := health.ParseDataSource(src); err == nil {
			vs[ds] = struct{}{}
		}
	}

	return &Validator{allowedExtensions: ve, allowedSources: vs, profiles: profiles}
}

// Validate checks the declared source and the file extension. Errors are
// FileValidationErrors.
func (v *Validator) Validate(fileName, dataSource string) (health.DataSource, error) {
	if v == nil {
		return "", health.NewFileValidationError("validator not initialised")
	}
	if strings.TrimSpace(dataSource) == "" {
		return "", health.NewFileValidationError("data source required")
	}
	source, err := health.ParseDataSource(dataSource)
	if err != nil {
		return "", health.NewFileValidationError("%v", err)
	}
	if len(v.allowedSources) > 0 {
		if _, ok := v.allowedSources[source]; !ok {
			return "", health.NewFileValidationError("data source '%s' not allowed", source)
		}
	}

	base := filepath.Base(strings.TrimSpace(fileName))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "", health.NewFileValidationError("file name required")
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(base)), ".")
	if ext == "" {
		return "", health.NewFileValidationError("file '%s' has no extension", base)
	}
	if len(v.allowedExtensions) > 0 {
		if _, ok := v.allowedExtensions[ext]; !ok {
			return "", health.NewFileValidationError("file type '.%s' not allowed", ext)
		}
	}
	return source, nil
}

// ResolveMapping picks the field mapping for a custom upload: an explicit
// mapping wins over a named profile, which wins over the default profile.
// Other sources carry no mapping.
func (v *Validator) ResolveMapping(source health.DataSource, explicit parsers.FieldMapping, profile string) (parsers.FieldMapping, error) {
	if source != health.SourceCustom {
		return nil, nil
	}
	if len(explicit) > 0 {
		if err := explicit.Validate(); err != nil {
			return nil, health.NewFileValidationError("invalid field mapping: %v", err)
		}
		return explicit, nil
	}
	name := strings.TrimSpace(profile)
	if name == "" {
		name = "default"
	}
	if mapping, ok := v.profiles.Get(name); ok {
		return mapping, nil
	}
	if name == "default" {
		return parsers.DefaultFieldMapping(), nil
	}
	return nil, health.NewFileValidationError("unknown mapping profile '%s'", name)
}
