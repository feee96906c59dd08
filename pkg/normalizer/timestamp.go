package normalizer

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TimestampParseError names the raw string no known layout accepted.
type TimestampParseError struct {
	Value string
}

func (e TimestampParseError) Error() string {
	return fmt.Sprintf("unable to parse timestamp %q", e.Value)
}

func IsTimestampParseError(err error) bool {
	var te TimestampParseError
	return errors.As(err, &te)
}

var offsetLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04Z07:00",
}

var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Normalizer converts vendor timestamps. Strings without an offset are
// read in Location.
type Normalizer struct {
	Location *time.Location
}

// Default reads offset-less timestamps as UTC.
var Default = Normalizer{Location: time.UTC}

// ParseTimestamp returns the instant in UTC.
func ParseTimestamp(raw string) (time.Time, error) {
	return Default.ParseTimestamp(raw)
}

// ParseTimestampLocal keeps the offset the vendor wrote.
func ParseTimestampLocal(raw string) (time.Time, error) {
	return Default.ParseTimestampLocal(raw)
}

func (n Normalizer) ParseTimestamp(raw string) (time.Time, error) {
	t, err := n.ParseTimestampLocal(raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func (n Normalizer) ParseTimestampLocal(raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, TimestampParseError{Value: raw}
	}
	value = fixOffset(value)

	for _, layout := range offsetLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}

	loc := n.Location
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, TimestampParseError{Value: raw}
}

// fixOffset rewrites "2020-07-26 17:23:00 +0800" as
// "2020-07-26 17:23:00+08:00".
func fixOffset(value string) string {
	idx := strings.LastIndexAny(value, "+-")
	if idx <= 10 {
		return value
	}
	offset := value[idx+1:]
	head := strings.TrimRight(value[:idx], " ")
	switch {
	case len(offset) == 4 && isDigits(offset):
		return head + value[idx:idx+1] + offset[:2] + ":" + offset[2:]
	case len(offset) == 5 && offset[2] == ':' && isDigits(offset[:2]+offset[3:]):
		return head + value[idx:]
	case len(offset) == 2 && isDigits(offset):
		return head + value[idx:idx+1] + offset + ":00"
	}
	return value
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// LoadLocation resolves a zone name, treating "" as UTC.
func LoadLocation(name string) (*time.Location, error) {
	if strings.TrimSpace(name) == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}
