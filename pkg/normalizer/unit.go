package normalizer

import "strings"

var unitAliases = map[string]string{
	"count/min":   "bpm",
	"beats/min":   "bpm",
	"bpm":         "bpm",
	"/min":        "bpm",
	"kg":          "kg",
	"kgs":         "kg",
	"kilogram":    "kg",
	"kilograms":   "kg",
	"lb":          "lb",
	"lbs":         "lb",
	"pound":       "lb",
	"pounds":      "lb",
	"km":          "km",
	"kilometer":   "km",
	"kilometers":  "km",
	"mi":          "mi",
	"mile":        "mi",
	"miles":       "mi",
	"m":           "meters",
	"meter":       "meters",
	"meters":      "meters",
	"metres":      "meters",
	"kcal":        "kcal",
	"cal":         "kcal",
	"calories":    "kcal",
	"kilocalorie": "kcal",
	"kj":          "kJ",
	"count":       "count",
	"steps":       "steps",
	"min":         "minutes",
	"minute":      "minutes",
	"minutes":     "minutes",
}

// CanonicalUnit maps vendor spellings onto one name per unit. Unknown
// units pass through trimmed.
func CanonicalUnit(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if canonical, ok := unitAliases[strings.ToLower(trimmed)]; ok {
		return canonical
	}
	return trimmed
}

// UnitOr returns the canonical form of raw, or fallback when raw is blank.
func UnitOr(raw, fallback string) string {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	return CanonicalUnit(raw)
}
