package utils

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Sentinel is the in-band marker the search API and the fetcher use for
// "field absent".
const Sentinel = "Unknown"

// IsSentinel reports whether v is absent: nil or the Sentinel string.
func IsSentinel(v interface{}) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == Sentinel
}

// IsTruthy mirrors the "has a usable value" checks applied to loose JSON:
// nil, empty strings, false, zero numbers and empty containers are falsy.
func IsTruthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case []interface{}:
		return len(t) > 0
	case map[string]interface{}:
		return len(t) > 0
	default:
		return true
	}
}

// Stringify renders a decoded JSON value as text. Strings and numbers keep
// their literal form; arrays and objects are re-encoded as JSON.
func Stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}

// Truncate cuts s to at most max characters.
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}

// OptionalString maps the sentinel and nil to nil, everything else to its
// string form.
func OptionalString(v interface{}) *string {
	if IsSentinel(v) {
		return nil
	}
	s := Stringify(v)
	return &s
}

// BoundedString is OptionalString truncated to max characters.
func BoundedString(v interface{}, max int) *string {
	s := OptionalString(v)
	if s == nil {
		return nil
	}
	t := Truncate(*s, max)
	return &t
}

// ConvertToInt converts loose JSON values to int64. Fractional numbers are
// truncated toward zero; strings must hold an integer literal.
func ConvertToInt(val interface{}) (int64, error) {
	switch v := val.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case float64:
		return floatToInt(v)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
		f, err := v.Float64()
		if err != nil {
			return 0, err
		}
		return floatToInt(f)
	case string:
		return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	case []byte:
		return ConvertToInt(string(v))
	default:
		return 0, fmt.Errorf("cannot convert %T to int", val)
	}
}

func floatToInt(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 || f <= math.MinInt64 {
		return 0, fmt.Errorf("number %v out of int64 range", f)
	}
	return int64(f), nil
}

// IntOrZero is ConvertToInt with every failure mapped to 0.
func IntOrZero(val interface{}) int64 {
	if !IsTruthy(val) {
		return 0
	}
	i, err := ConvertToInt(val)
	if err != nil {
		return 0
	}
	return i
}
