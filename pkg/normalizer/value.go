package normalizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueFormatError reports a value that cannot be read as a float.
type ValueFormatError struct {
	Value interface{}
}

func (e ValueFormatError) Error() string {
	return fmt.Sprintf("invalid value format: %v", e.Value)
}

func IsValueFormatError(err error) bool {
	var ve ValueFormatError
	return errors.As(err, &ve)
}

// ParseValue coerces strings, JSON numbers and Go numerics to a finite
// float64.
func ParseValue(raw interface{}) (float64, error) {
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case int32:
		f = float64(v)
	case uint64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, ValueFormatError{Value: raw}
		}
		f = parsed
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, ValueFormatError{Value: raw}
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, ValueFormatError{Value: raw}
		}
		f = parsed
	default:
		return 0, ValueFormatError{Value: raw}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, ValueFormatError{Value: raw}
	}
	return f, nil
}
