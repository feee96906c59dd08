package parsers

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	FieldDataType  = "data_type"
	FieldValue     = "value"
	FieldTimestamp = "timestamp"
	FieldUnit      = "unit"
)

var mandatoryFields = []string{FieldDataType, FieldValue, FieldTimestamp}

// FieldMapping maps a column or key in the uploaded file to a canonical
// field name.
type FieldMapping map[string]string

func DefaultFieldMapping() FieldMapping {
	return FieldMapping{
		"type":      FieldDataType,
		"value":     FieldValue,
		"timestamp": FieldTimestamp,
		"unit":      FieldUnit,
	}
}

// Validate requires every mandatory canonical field to have a source.
func (m FieldMapping) Validate() error {
	targets := make(map[string]bool, len(m))
	for src, target := range m {
		if strings.TrimSpace(src) == "" {
			return fmt.Errorf("field mapping has an empty source field")
		}
		switch target {
		case FieldDataType, FieldValue, FieldTimestamp, FieldUnit:
		default:
			return fmt.Errorf("field mapping target %q is not one of data_type, value, timestamp, unit", target)
		}
		targets[target] = true
	}
	for _, f := range mandatoryFields {
		if !targets[f] {
			return fmt.Errorf("field mapping does not map %q", f)
		}
	}
	return nil
}

func (m FieldMapping) apply(obj map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for src, target := range m {
		if v, ok := obj[src]; ok {
			out[target] = v
		}
	}
	return out
}

// MappingProfiles are named custom mappings an upload can refer to.
type MappingProfiles struct {
	Profiles map[string]FieldMapping `yaml:"profiles" json:"profiles"`
}

func DefaultMappingProfiles() MappingProfiles {
	return MappingProfiles{Profiles: map[string]FieldMapping{
		"default": DefaultFieldMapping(),
	}}
}

func LoadMappingProfiles(path string) (MappingProfiles, error) {
	if path == "" {
		return DefaultMappingProfiles(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultMappingProfiles(), err
	}
	var mp MappingProfiles
	if err := yaml.Unmarshal(content, &mp); err != nil {
		return MappingProfiles{}, err
	}
	if len(mp.Profiles) == 0 {
		return MappingProfiles{}, fmt.Errorf("mapping profiles empty")
	}
	for name, m := range mp.Profiles {
		if err := m.Validate(); err != nil {
			return MappingProfiles{}, fmt.Errorf("profile %s: %w", name, err)
		}
	}
	if _, ok := mp.Profiles["default"]; !ok {
		mp.Profiles["default"] = DefaultFieldMapping()
	}
	return mp, nil
}

func (p MappingProfiles) Get(name string) (FieldMapping, bool) {
	if p.Profiles == nil {
		return nil, false
	}
	m, ok := p.Profiles[strings.ToLower(strings.TrimSpace(name))]
	return m, ok
}

func (p MappingProfiles) Names() []string {
	names := make([]string, 0, len(p.Profiles))
	for name := range p.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
