package importer

import (
	"testing"

	"github.com/healthtrack/platform/pkg/health"
	"github.com/healthtrack/platform/pkg/parsers"
	"github.com/stretchr/testify/require"
)

func TestValidatorAcceptsConfiguredUploads(t *testing.T) {
	v := NewValidator([]string{"zip", ".XML", " csv "}, []string{"apple_health", "fitbit", "bogus"}, parsers.DefaultMappingProfiles())

	source, err := v.Validate("export.ZIP", " Apple_Health ")
	require.NoError(t, err)
	require.Equal(t, health.SourceAppleHealth, source)

	_, err = v.Validate("activities.csv", "fitbit")
	require.NoError(t, err)

	for _, c := range []struct{ file, source string }{
		{"activities.json", "fitbit"},
		{"export.zip", "google_fit"},
		{"export", "apple_health"},
		{"export.zip", "garmin"},
	} {
		_, err := v.Validate(c.file, c.source)
		require.True(t, health.IsFileValidationError(err), "%s/%s: %v", c.file, c.source, err)
	}
}

func TestResolveMapping(t *testing.T) {
	profiles := parsers.MappingProfiles{Profiles: map[string]parsers.FieldMapping{
		"default": parsers.DefaultFieldMapping(),
		"scale":   {"kind": "data_type", "kg": "value", "when": "timestamp"},
	}}
	v := NewValidator(nil, nil, profiles)

	m, err := v.ResolveMapping(health.SourceFitbit, parsers.FieldMapping{"x": "value"}, "")
	require.NoError(t, err)
	require.Nil(t, m)

	m, err = v.ResolveMapping(health.SourceCustom, nil, "")
	require.NoError(t, err)
	require.Equal(t, parsers.DefaultFieldMapping(), m)

	m, err = v.ResolveMapping(health.SourceCustom, nil, "Scale")
	require.NoError(t, err)
	require.Equal(t, "value", m["kg"])

	explicit := parsers.FieldMapping{"t": "data_type", "v": "value", "ts": "timestamp"}
	m, err = v.ResolveMapping(health.SourceCustom, explicit, "scale")
	require.NoError(t, err)
	require.Equal(t, explicit, m)

	_, err = v.ResolveMapping(health.SourceCustom, parsers.FieldMapping{"v": "value"}, "")
	require.True(t, health.IsFileValidationError(err))

	_, err = v.ResolveMapping(health.SourceCustom, nil, "missing")
	require.True(t, health.IsFileValidationError(err))
}
