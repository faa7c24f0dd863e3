// Package records defines the row representation shared by every pipeline
// stage. A Record is a field-name → value map; a chunk is simply a slice of
// Records produced by one reader call.
package records

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Record is one row of input data keyed by column name. Values are nil,
// string, float64, int64, bool or time.Time depending on how far through the
// pipeline the record has travelled.
type Record map[string]any

// Clone returns a shallow copy of r. Stages that must not mutate their input
// copy first and work on the clone.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// IsMissing reports whether the value for field is absent, nil, or an empty
// string. Readers emit nil for empty cells, but records that arrive from JSON
// sources may carry explicit empty strings.
func (r Record) IsMissing(field string) bool {
	v, ok := r[field]
	if !ok || v == nil {
		return true
	}
	s, isStr := v.(string)
	return isStr && strings.TrimSpace(s) == ""
}

// Float returns the value for field interpreted as a float64. Strings are
// parsed after trimming; the second result is false when the value is missing
// or not numeric.
func (r Record) Float(field string) (float64, bool) {
	v, ok := r[field]
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// String returns the value for field as a string. Non-string scalars are
// formatted; missing values return "".
func (r Record) String(field string) string {
	v, ok := r[field]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case bool:
		if t {
			return "true"
		}
		return "false"
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return fmt.Sprint(t)
	}
}
