// Package value compares the loosely typed field values carried by rows.
// Rows arrive as decoded JSON, so a field may hold a string, a float64, a
// bool, a list, a time.Time or nil; every comparison in the engine goes
// through this package so online and offline execution agree.
package value

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// AsTime interprets v as an instant. Strings are parsed with the common
// ISO-8601 layouts; date-only strings are midnight UTC.
func AsTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

// AsNumber interprets v as a float64. Numeric strings are accepted.
func AsNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// AsString renders v for text operators and display.
func AsString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case time.Time:
		return s.UTC().Format(time.RFC3339)
	case []any:
		parts := make([]string, len(s))
		for i, e := range s {
			parts[i] = AsString(e)
		}
		return strings.Join(parts, ", ")
	case []string:
		return strings.Join(s, ", ")
	}
	return fmt.Sprint(v)
}

// AsList returns the elements of a list value, or v itself as a single
// element. Nil yields an empty list.
func AsList(v any) []any {
	switch l := v.(type) {
	case nil:
		return nil
	case []any:
		return l
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out
	}
	return []any{v}
}

// IsEmpty reports whether v is nil, a blank string or an empty list.
func IsEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	}
	return false
}

// Equal compares two scalars. Numbers compare numerically, instants by
// time, everything else as case-insensitive text.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if x, ok := AsNumber(a); ok {
		if y, ok := AsNumber(b); ok {
			return x == y
		}
	}
	if x, ok := a.(bool); ok {
		return strings.EqualFold(strconv.FormatBool(x), AsString(b))
	}
	if isTime(a) || isTime(b) {
		if x, ok := AsTime(a); ok {
			if y, ok := AsTime(b); ok {
				return x.Equal(y)
			}
		}
	}
	return strings.EqualFold(AsString(a), AsString(b))
}

// Compare orders a against b and returns -1, 0 or 1. The second result is
// false when the two values have no common ordering; nil never compares.
func Compare(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	if x, ok := AsNumber(a); ok {
		if y, ok := AsNumber(b); ok {
			return cmpFloat(x, y), true
		}
	}
	if x, ok := AsTime(a); ok {
		if y, ok := AsTime(b); ok {
			return x.Compare(y), true
		}
	}
	return strings.Compare(strings.ToLower(AsString(a)), strings.ToLower(AsString(b))), true
}

func isTime(v any) bool {
	switch v.(type) {
	case time.Time, *time.Time:
		return true
	}
	_, ok := AsTime(v)
	return ok
}

func cmpFloat(x, y float64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}
